package render

import (
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v2"

	"github.com/seadaemon/Chim/internal/config"
)

// App owns the whole stack, from the SDL window down to the per-frame sync
// objects, and the order they come up and go down in. The lifecycle is
// Init, Run, Cleanup; Cleanup is safe after a partial Init.
type App struct {
	cfg config.Config
	log logrus.FieldLogger

	window     *Window
	instance   *Instance
	surface    khr_surface.Surface
	caps       *DeviceCaps
	device     *Device
	swapchain  *SwapchainManager
	renderPass core1_0.RenderPass
	pipeline   *Pipeline
	vertices   *VertexBuffer
	context    *renderContext
	frames     *Synchronizer
}

// NewApp returns an App that has built nothing yet.
func NewApp(cfg config.Config, log logrus.FieldLogger) *App {
	return &App{cfg: cfg, log: log}
}

// Init brings the stack up in dependency order: window, loader, instance,
// surface, device, swapchain, render pass, pipeline, vertex buffer, frame
// state. Pieces built before a failure stay set so Cleanup can unwind them.
func (a *App) Init() error {
	var err error

	a.window, err = NewWindow(a.cfg, a.log)
	if err != nil {
		return err
	}

	loader, err := core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return setupErr(err, "creating Vulkan loader")
	}

	a.instance, err = NewInstance(loader, a.window, a.cfg.WindowTitle, a.cfg.Validation, a.log)
	if err != nil {
		return err
	}

	surfaceExtension := khr_surface.CreateExtensionFromInstance(a.instance.Handle())
	a.surface, err = vkng_sdl2.CreateSurface(a.instance.Handle(), surfaceExtension, a.window.Handle())
	if err != nil {
		return setupErr(err, "creating window surface")
	}

	a.caps, err = SelectDevice(a.instance.Handle(), a.surface, a.log)
	if err != nil {
		return setupErr(err, "probing devices")
	}

	a.device, err = NewDevice(a.caps, a.log)
	if err != nil {
		return err
	}

	a.swapchain = NewSwapchainManager(a.device.Handle, a.caps.Device, a.surface, a.caps.Queues, a.log)
	width, height := a.window.DrawableExtent()
	if err := a.swapchain.Create(width, height); err != nil {
		return setupErr(err, "creating swapchain")
	}

	a.renderPass, err = newRenderPass(a.device.Handle, a.swapchain.Format())
	if err != nil {
		return err
	}
	if err := a.swapchain.CreateFramebuffers(a.renderPass); err != nil {
		return setupErr(err, "creating framebuffers")
	}

	a.pipeline, err = NewPipeline(a.device.Handle, a.renderPass, a.caps, a.cfg.PipelineCachePath, a.log)
	if err != nil {
		return err
	}

	a.vertices, err = NewVertexBuffer(a.caps.Device, a.device.Handle)
	if err != nil {
		return err
	}

	a.context, err = newRenderContext(a.device, a.swapchain, a.renderPass, a.pipeline, a.vertices, a.window, a.caps.Queues.Graphics.Index(), a.log)
	if err != nil {
		return err
	}

	a.frames = NewSynchronizer(a.context, a.cfg.FrameStatsEvery, a.log)

	a.log.Info("renderer initialized")
	return nil
}

// Run pumps window events and ticks the frame loop until a quit arrives,
// then drains the device. Rendering pauses while the window is minimized;
// a resize is noted and consumed by the frame loop after its next present.
func (a *App) Run() error {
	rendering := !a.window.Minimized()

	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				a.log.Debug("quit requested")
				return a.frames.Shutdown()
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					a.frames.NotifyResize()
				}
			}
		}

		if !rendering {
			continue
		}
		if err := a.frames.Tick(); err != nil {
			return err
		}
	}
}

// Cleanup drains the device, persists the pipeline cache, and releases
// everything Init built in reverse order. Safe to call more than once.
func (a *App) Cleanup() {
	if a.device != nil {
		// Frames may still be in flight when Run exits on an error.
		if _, err := a.device.Handle.WaitIdle(); err != nil {
			a.log.WithError(err).Warn("device drain during cleanup failed")
		}
	}

	if a.context != nil {
		a.context.Destroy()
		a.context = nil
	}
	if a.vertices != nil {
		a.vertices.Destroy()
		a.vertices = nil
	}
	if a.pipeline != nil {
		if err := a.pipeline.SaveCache(); err != nil {
			a.log.WithError(err).Warn("pipeline cache not saved")
		}
		a.pipeline.Destroy()
		a.pipeline = nil
	}
	if a.renderPass != nil {
		a.renderPass.Destroy(nil)
		a.renderPass = nil
	}
	if a.swapchain != nil {
		a.swapchain.Destroy()
		a.swapchain = nil
	}
	if a.device != nil {
		a.device.Destroy()
		a.device = nil
	}
	if a.surface != nil {
		a.surface.Destroy(nil)
		a.surface = nil
	}
	if a.instance != nil {
		a.instance.Destroy()
		a.instance = nil
	}
	if a.window != nil {
		a.window.Destroy()
		a.window = nil
	}
	a.frames = nil
}
