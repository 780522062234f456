package render

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestFailureClassification(t *testing.T) {
	setup := setupErr(ErrNoSuitableDevice, "picking a GPU")
	require.True(t, IsSetupFailure(setup))
	require.False(t, IsRuntimeFailure(setup))
	require.True(t, errors.Is(setup, ErrNoSuitableDevice))

	missing := setupErrf("layer %s not available", "VK_LAYER_KHRONOS_validation")
	require.True(t, IsSetupFailure(missing))
	require.Contains(t, missing.Error(), "VK_LAYER_KHRONOS_validation")

	run := runtimeErr(errors.New("device lost"), "submitting slot %d", 1)
	require.True(t, IsRuntimeFailure(run))
	require.False(t, IsSetupFailure(run))
	require.Contains(t, run.Error(), "submitting slot 1")

	plain := errors.New("unrelated")
	require.False(t, IsSetupFailure(plain))
	require.False(t, IsRuntimeFailure(plain))
}
