package render

import "github.com/cockroachdb/errors"

// Failure classes. Setup failures abort startup; runtime failures terminate
// the render loop. A stale or suboptimal presentation is not an error
// anywhere in this package: it is a normal signal absorbed by swapchain
// rebuild and never escapes the frame loop.
var (
	// ErrNoSuitableDevice reports that every enumerated device scored zero.
	ErrNoSuitableDevice = errors.New("no suitable GPU found")

	errSetup   = errors.New("setup failure")
	errRuntime = errors.New("render loop failure")
)

func setupErr(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errSetup)
}

func setupErrf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errSetup)
}

func runtimeErr(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errRuntime)
}

// IsSetupFailure reports whether err originated during App.Init.
func IsSetupFailure(err error) bool { return errors.Is(err, errSetup) }

// IsRuntimeFailure reports whether err terminated an otherwise healthy
// render loop.
func IsRuntimeFailure(err error) bool { return errors.Is(err, errRuntime) }
