package render

import (
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/seadaemon/Chim/internal/config"
)

// Window owns the SDL window and the video subsystem underneath it.
type Window struct {
	handle *sdl.Window
	log    logrus.FieldLogger
}

// NewWindow initializes SDL video and opens a resizable Vulkan-capable
// window at the configured size.
func NewWindow(cfg config.Config, log logrus.FieldLogger) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, setupErr(err, "initializing SDL video")
	}

	handle, err := sdl.CreateWindow(cfg.WindowTitle,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.WindowWidth), int32(cfg.WindowHeight),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, setupErr(err, "creating %dx%d window", cfg.WindowWidth, cfg.WindowHeight)
	}

	log.WithFields(logrus.Fields{
		"title":  cfg.WindowTitle,
		"width":  cfg.WindowWidth,
		"height": cfg.WindowHeight,
	}).Debug("window created")
	return &Window{handle: handle, log: log}, nil
}

// Handle exposes the SDL window for surface creation and event plumbing.
func (w *Window) Handle() *sdl.Window {
	return w.handle
}

// DrawableExtent reports the current drawable size in pixels. On high-DPI
// displays this can differ from the window size.
func (w *Window) DrawableExtent() (width, height int) {
	dw, dh := w.handle.VulkanGetDrawableSize()
	return int(dw), int(dh)
}

// InstanceExtensions lists the instance extensions SDL needs to create a
// surface for this window.
func (w *Window) InstanceExtensions() []string {
	return w.handle.VulkanGetInstanceExtensions()
}

// Minimized reports whether the window is currently iconified.
func (w *Window) Minimized() bool {
	return w.handle.GetFlags()&sdl.WINDOW_MINIMIZED != 0
}

// Destroy closes the window and shuts SDL down.
func (w *Window) Destroy() {
	if w.handle != nil {
		if err := w.handle.Destroy(); err != nil {
			w.log.WithError(err).Warn("window destroy failed")
		}
		w.handle = nil
	}
	sdl.Quit()
}
