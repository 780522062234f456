package render

import (
	"fmt"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const (
	opWait    = "wait"
	opAcquire = "acquire"
	opReset   = "reset"
	opRecord  = "record"
	opSubmit  = "submit"
	opPresent = "present"
	opRebuild = "rebuild"
	opIdle    = "idle"
)

type fenceState int

const (
	fenceSignaled fenceState = iota
	fenceUnsignaled
	fenceInFlight
)

type step struct {
	op    string
	slot  int
	image int
}

// fakeContext scripts transient presentation states by call ordinal and
// enforces the fence rules a real device would: waiting on a fence that was
// reset but never submitted deadlocks, and submitting without a reset is
// invalid.
type fakeContext struct {
	t *testing.T

	imageCount int
	extent     core1_0.Extent2D

	outdatedOnAcquire map[int]bool  // acquire ordinal -> report outdated
	staleOnPresent    map[int]bool  // present ordinal -> report stale
	rebuildFails      map[int]error // rebuild ordinal -> error
	rebuildSkips      map[int]bool  // rebuild ordinal -> zero-sized drawable

	failWait    error
	failAcquire error
	failSubmit  error
	failPresent error
	failIdle    error

	acquireCalls int
	presentCalls int
	rebuilds     int
	nextImage    int

	fences [MaxFramesInFlight]fenceState
	steps  []step
}

func newFakeContext(t *testing.T, imageCount int) *fakeContext {
	return &fakeContext{
		t:                 t,
		imageCount:        imageCount,
		extent:            core1_0.Extent2D{Width: 1280, Height: 720},
		outdatedOnAcquire: map[int]bool{},
		staleOnPresent:    map[int]bool{},
		rebuildFails:      map[int]error{},
		rebuildSkips:      map[int]bool{},
	}
}

func (f *fakeContext) WaitSlotFence(slot int) error {
	if f.failWait != nil {
		return f.failWait
	}
	if f.fences[slot] == fenceUnsignaled {
		f.t.Fatalf("wait on slot %d would deadlock: fence was reset but never submitted", slot)
	}
	f.fences[slot] = fenceSignaled
	f.steps = append(f.steps, step{op: opWait, slot: slot})
	return nil
}

func (f *fakeContext) ResetSlotFence(slot int) error {
	if f.fences[slot] != fenceSignaled {
		f.t.Fatalf("reset of slot %d fence while not signaled", slot)
	}
	f.fences[slot] = fenceUnsignaled
	f.steps = append(f.steps, step{op: opReset, slot: slot})
	return nil
}

func (f *fakeContext) AcquireImage(slot int) (int, bool, error) {
	f.acquireCalls++
	f.steps = append(f.steps, step{op: opAcquire, slot: slot})
	if f.outdatedOnAcquire[f.acquireCalls] {
		return 0, true, nil
	}
	if f.failAcquire != nil {
		return 0, false, f.failAcquire
	}
	image := f.nextImage
	f.nextImage = (f.nextImage + 1) % f.imageCount
	return image, false, nil
}

func (f *fakeContext) RecordCommands(slot, imageIndex int, extent core1_0.Extent2D) error {
	if extent != f.extent {
		f.t.Fatalf("recorded slot %d against extent %v, swapchain is %v", slot, extent, f.extent)
	}
	f.steps = append(f.steps, step{op: opRecord, slot: slot, image: imageIndex})
	return nil
}

func (f *fakeContext) Submit(slot int) error {
	if f.failSubmit != nil {
		return f.failSubmit
	}
	if f.fences[slot] != fenceUnsignaled {
		f.t.Fatalf("submit on slot %d without a fence reset", slot)
	}
	f.fences[slot] = fenceInFlight
	f.steps = append(f.steps, step{op: opSubmit, slot: slot})
	return nil
}

func (f *fakeContext) PresentImage(slot, imageIndex int) (bool, error) {
	f.presentCalls++
	f.steps = append(f.steps, step{op: opPresent, slot: slot, image: imageIndex})
	if f.failPresent != nil {
		return false, f.failPresent
	}
	return f.staleOnPresent[f.presentCalls], nil
}

func (f *fakeContext) Extent() core1_0.Extent2D {
	return f.extent
}

func (f *fakeContext) RebuildSwapchain() (bool, error) {
	f.rebuilds++
	f.steps = append(f.steps, step{op: opRebuild, slot: -1})
	if err := f.rebuildFails[f.rebuilds]; err != nil {
		return false, err
	}
	if f.rebuildSkips[f.rebuilds] {
		return false, nil
	}
	f.nextImage = 0
	return true, nil
}

func (f *fakeContext) WaitDeviceIdle() error {
	f.steps = append(f.steps, step{op: opIdle, slot: -1})
	return f.failIdle
}

// trace renders the recorded steps as "op slot" strings for whole-run
// comparisons. Image indices are left out; they rotate independently.
func (f *fakeContext) trace() []string {
	out := make([]string, 0, len(f.steps))
	for _, s := range f.steps {
		if s.slot < 0 {
			out = append(out, s.op)
			continue
		}
		out = append(out, fmt.Sprintf("%s %d", s.op, s.slot))
	}
	return out
}

func (f *fakeContext) slotsOf(op string) []int {
	var slots []int
	for _, s := range f.steps {
		if s.op == op {
			slots = append(slots, s.slot)
		}
	}
	return slots
}

func (f *fakeContext) imagesOf(op string) []int {
	var images []int
	for _, s := range f.steps {
		if s.op == op {
			images = append(images, s.image)
		}
	}
	return images
}

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTickSteadyState(t *testing.T) {
	ctx := newFakeContext(t, 3)
	sync := NewSynchronizer(ctx, 0, discardLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, sync.Tick())
	}

	require.Equal(t, []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}, ctx.slotsOf(opSubmit),
		"slots must alternate")
	require.Equal(t, ctx.slotsOf(opSubmit), ctx.slotsOf(opPresent))
	require.Equal(t, 10, ctx.presentCalls)
	require.Zero(t, ctx.rebuilds)

	require.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}, ctx.imagesOf(opPresent),
		"presented images follow acquisition order")
	require.Equal(t, ctx.imagesOf(opRecord), ctx.imagesOf(opPresent),
		"commands target the image being presented")
}

func TestTickStepOrder(t *testing.T) {
	ctx := newFakeContext(t, 3)
	sync := NewSynchronizer(ctx, 0, discardLogger())

	require.NoError(t, sync.Tick())

	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
	}, ctx.trace(), "fence reset must come after a successful acquire")
}

func TestTickOutOfDateAcquire(t *testing.T) {
	ctx := newFakeContext(t, 3)
	ctx.outdatedOnAcquire[3] = true
	sync := NewSynchronizer(ctx, 0, discardLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, sync.Tick())
	}

	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
		"wait 1", "acquire 1", "reset 1", "record 1", "submit 1", "present 1",
		// Out of date: no reset, no submit, no present, slot kept.
		"wait 0", "acquire 0", opRebuild,
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
		"wait 1", "acquire 1", "reset 1", "record 1", "submit 1", "present 1",
	}, ctx.trace())
	require.Equal(t, 4, ctx.presentCalls)
	require.Equal(t, 1, ctx.rebuilds)
}

func TestTickStalePresent(t *testing.T) {
	ctx := newFakeContext(t, 3)
	ctx.staleOnPresent[2] = true
	sync := NewSynchronizer(ctx, 0, discardLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, sync.Tick())
	}

	// The stale frame was still submitted and presented; only the rebuild is
	// extra, and the following tick starts on a fresh swapchain.
	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
		"wait 1", "acquire 1", "reset 1", "record 1", "submit 1", "present 1", opRebuild,
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
	}, ctx.trace())
	require.Equal(t, 3, ctx.presentCalls)
}

func TestTickResize(t *testing.T) {
	ctx := newFakeContext(t, 3)
	sync := NewSynchronizer(ctx, 0, discardLogger())

	require.NoError(t, sync.Tick())
	sync.NotifyResize()
	require.NoError(t, sync.Tick())
	require.NoError(t, sync.Tick())

	// The resize is honored after the second tick's present, exactly once.
	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
		"wait 1", "acquire 1", "reset 1", "record 1", "submit 1", "present 1", opRebuild,
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
	}, ctx.trace())
}

func TestTickResizeSurvivesFailedRebuild(t *testing.T) {
	ctx := newFakeContext(t, 3)
	ctx.rebuildFails[1] = errors.New("surface query failed")
	sync := NewSynchronizer(ctx, 0, discardLogger())

	sync.NotifyResize()
	require.NoError(t, sync.Tick(), "a failed rebuild is absorbed, not fatal")
	require.NoError(t, sync.Tick())

	// Rebuild fails after the first present, retries at the head of the next
	// tick, and only then does the frame proceed.
	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0", opRebuild,
		opRebuild,
		"wait 1", "acquire 1", "reset 1", "record 1", "submit 1", "present 1",
	}, ctx.trace())
	require.Equal(t, 2, ctx.rebuilds)
}

func TestTickZeroExtentDefersRebuild(t *testing.T) {
	ctx := newFakeContext(t, 3)
	ctx.outdatedOnAcquire[1] = true
	ctx.rebuildSkips[1] = true
	ctx.rebuildSkips[2] = true
	sync := NewSynchronizer(ctx, 0, discardLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, sync.Tick())
	}

	// While the drawable is zero-sized the loop keeps retrying the rebuild
	// without touching fences or the dead swapchain.
	require.Equal(t, []string{
		"wait 0", "acquire 0", opRebuild,
		opRebuild,
		opRebuild, "wait 0", "acquire 0", "reset 0", "record 0", "submit 0", "present 0",
	}, ctx.trace())
}

func TestTickFatalErrors(t *testing.T) {
	tests := []struct {
		name string
		wire func(*fakeContext, error)
	}{
		{"wait", func(f *fakeContext, err error) { f.failWait = err }},
		{"acquire", func(f *fakeContext, err error) { f.failAcquire = err }},
		{"submit", func(f *fakeContext, err error) { f.failSubmit = err }},
		{"present", func(f *fakeContext, err error) { f.failPresent = err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newFakeContext(t, 3)
			cause := errors.New("device lost")
			tt.wire(ctx, cause)
			sync := NewSynchronizer(ctx, 0, discardLogger())

			err := sync.Tick()
			require.Error(t, err)
			require.ErrorIs(t, err, cause)
			require.True(t, IsRuntimeFailure(err))
			require.False(t, IsSetupFailure(err))
		})
	}
}

func TestShutdownDrainsDevice(t *testing.T) {
	ctx := newFakeContext(t, 3)
	sync := NewSynchronizer(ctx, 0, discardLogger())

	require.NoError(t, sync.Tick())
	require.NoError(t, sync.Shutdown())
	require.Equal(t, opIdle, ctx.trace()[len(ctx.trace())-1])

	ctx.failIdle = errors.New("queue wedged")
	err := sync.Shutdown()
	require.Error(t, err)
	require.True(t, IsRuntimeFailure(err))
}
