package render

import (
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MaxFramesInFlight is the slot count: how many frames the CPU may record
// ahead of the GPU. The per-slot fence wait is the only backpressure.
const MaxFramesInFlight = 2

// RebuildReason tags why a swapchain rebuild ran.
type RebuildReason string

const (
	rebuildAcquireOutOfDate RebuildReason = "acquire out of date"
	rebuildPresentStale     RebuildReason = "present stale"
	rebuildResize           RebuildReason = "window resize"
	rebuildRetry            RebuildReason = "retry"
)

// FrameContext is the device-facing half of the frame loop: everything one
// tick needs, expressed in slot and image indices so the loop itself never
// touches live GPU handles. The production implementation is renderContext;
// tests drive the loop with a fake.
//
// Transient presentation states are booleans, not errors: AcquireImage
// reports outdated with a nil error when nothing was acquired, and
// PresentImage reports stale with a nil error when the frame was still
// presented. A non-nil error from either is fatal to the loop.
type FrameContext interface {
	// WaitSlotFence blocks until the slot's previous submission retired.
	WaitSlotFence(slot int) error
	// ResetSlotFence returns the slot's fence to unsignaled before reuse.
	ResetSlotFence(slot int) error
	// AcquireImage hands out the next presentable image index, arranging
	// for the slot's acquire semaphore to signal when the image is ready.
	AcquireImage(slot int) (imageIndex int, outdated bool, err error)
	// RecordCommands rewrites the slot's command buffer to draw into the
	// acquired image at the given extent.
	RecordCommands(slot, imageIndex int, extent core1_0.Extent2D) error
	// Submit hands the slot's commands to the graphics queue, signaling the
	// slot's render-complete semaphore and fence on completion.
	Submit(slot int) error
	// PresentImage queues the acquired image for presentation once the
	// slot's render-complete semaphore signals.
	PresentImage(slot, imageIndex int) (stale bool, err error)
	// Extent is the current swapchain extent.
	Extent() core1_0.Extent2D
	// RebuildSwapchain rebuilds the swapchain against the current drawable
	// size. false with a nil error means the rebuild was skipped because
	// the drawable is zero-sized and should be retried later.
	RebuildSwapchain() (rebuilt bool, err error)
	// WaitDeviceIdle drains every queue. Required before teardown.
	WaitDeviceIdle() error
}

// Synchronizer drives the steady-state acquire → record → submit → present
// cycle across the frame slots and owns the rebuild policy for a stale
// swapchain.
type Synchronizer struct {
	ctx FrameContext
	log logrus.FieldLogger

	slot           int
	resizePending  bool
	rebuildPending bool

	stats *frameStats
}

// NewSynchronizer wires the loop to a context. statsEvery controls how often
// frame timing is logged; zero disables it.
func NewSynchronizer(ctx FrameContext, statsEvery int, log logrus.FieldLogger) *Synchronizer {
	return &Synchronizer{
		ctx:   ctx,
		log:   log,
		stats: newFrameStats(statsEvery, log),
	}
}

// NotifyResize flags that the window geometry changed. The flag survives
// until a rebuild actually completes.
func (s *Synchronizer) NotifyResize() {
	s.resizePending = true
}

// Tick runs one frame. A nil return means the frame was presented or
// deliberately abandoned for a rebuild; an error means the loop must stop.
func (s *Synchronizer) Tick() error {
	if s.rebuildPending {
		if !s.rebuild(rebuildRetry) {
			return nil
		}
	}

	slot := s.slot
	if err := s.ctx.WaitSlotFence(slot); err != nil {
		return runtimeErr(err, "waiting on slot %d fence", slot)
	}

	imageIndex, outdated, err := s.ctx.AcquireImage(slot)
	if outdated {
		// Abandon before any submission. The fence stays signaled so the
		// next wait on this slot cannot deadlock.
		s.rebuild(rebuildAcquireOutOfDate)
		return nil
	}
	if err != nil {
		return runtimeErr(err, "acquiring image for slot %d", slot)
	}

	// Committed to submitting this tick; only now may the fence drop to
	// unsignaled.
	if err := s.ctx.ResetSlotFence(slot); err != nil {
		return runtimeErr(err, "resetting slot %d fence", slot)
	}

	if err := s.ctx.RecordCommands(slot, imageIndex, s.ctx.Extent()); err != nil {
		return runtimeErr(err, "recording commands for slot %d", slot)
	}

	if err := s.ctx.Submit(slot); err != nil {
		return runtimeErr(err, "submitting slot %d", slot)
	}

	stale, err := s.ctx.PresentImage(slot, imageIndex)
	if err != nil {
		return runtimeErr(err, "presenting image %d", imageIndex)
	}
	if stale {
		// This tick's work was already submitted and stands; the rebuild
		// only readies the next tick.
		s.rebuild(rebuildPresentStale)
	} else if s.resizePending {
		s.rebuild(rebuildResize)
	}

	s.slot = (s.slot + 1) % MaxFramesInFlight
	s.stats.frameDone()
	return nil
}

// Shutdown drains the device so slot and swapchain teardown cannot touch
// in-flight work. Call once the loop has stopped ticking.
func (s *Synchronizer) Shutdown() error {
	if err := s.ctx.WaitDeviceIdle(); err != nil {
		return runtimeErr(err, "draining device at shutdown")
	}
	return nil
}

// rebuild attempts a swapchain rebuild, tracking retry state. Rebuild
// failures are absorbed here: the swapchain may be gone afterwards, but the
// next tick retries before touching it.
func (s *Synchronizer) rebuild(reason RebuildReason) bool {
	rebuilt, err := s.ctx.RebuildSwapchain()
	if err != nil {
		s.rebuildPending = true
		s.log.WithError(err).WithField("reason", reason).Warn("swapchain rebuild failed, retrying next frame")
		return false
	}
	if !rebuilt {
		// Zero-sized drawable; keep the request for when the window comes
		// back.
		s.rebuildPending = true
		return false
	}

	s.rebuildPending = false
	s.resizePending = false
	s.log.WithField("reason", reason).Debug("swapchain rebuilt")
	return true
}
