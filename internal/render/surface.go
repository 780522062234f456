package render

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// chooseSurfaceFormat prefers 8-bit BGRA with sRGB encoding; a surface that
// cannot offer it falls back to its first advertised pair.
func chooseSurfaceFormat(available []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range available {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return available[0]
}

// choosePresentMode prefers mailbox for its low latency; FIFO is the mode
// every conformant implementation must offer, so it is the fallback even
// when the advertised list is empty.
func choosePresentMode(available []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range available {
		if mode == khr_surface.PresentModeMailbox {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

// chooseExtent resolves the swapchain extent. A current extent of -1 is the
// surface saying "match the window": take the drawable size clamped into the
// supported range. Any other value is mandatory and used as reported.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	extent := core1_0.Extent2D{Width: drawableWidth, Height: drawableHeight}
	if extent.Width < capabilities.MinImageExtent.Width {
		extent.Width = capabilities.MinImageExtent.Width
	}
	if extent.Width > capabilities.MaxImageExtent.Width {
		extent.Width = capabilities.MaxImageExtent.Width
	}
	if extent.Height < capabilities.MinImageExtent.Height {
		extent.Height = capabilities.MinImageExtent.Height
	}
	if extent.Height > capabilities.MaxImageExtent.Height {
		extent.Height = capabilities.MaxImageExtent.Height
	}
	return extent
}

// chooseImageCount asks for one image beyond the minimum so acquisition
// rarely waits on the driver, clamped to the maximum unless the surface
// reports it as 0, meaning unbounded.
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	count := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}
	return count
}

type surfaceDetails struct {
	capabilities *khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func querySurfaceDetails(surface khr_surface.Surface, device core1_0.PhysicalDevice) (surfaceDetails, error) {
	var details surfaceDetails
	var err error

	details.capabilities, _, err = surface.PhysicalDeviceSurfaceCapabilities(device)
	if err != nil {
		return details, errors.Wrap(err, "querying surface capabilities")
	}
	details.formats, _, err = surface.PhysicalDeviceSurfaceFormats(device)
	if err != nil {
		return details, errors.Wrap(err, "querying surface formats")
	}
	details.presentModes, _, err = surface.PhysicalDeviceSurfacePresentModes(device)
	if err != nil {
		return details, errors.Wrap(err, "querying surface present modes")
	}
	return details, nil
}

// SwapchainManager owns the swapchain and the per-image views and
// framebuffers hanging off it. The images themselves belong to the
// presentation engine and are never destroyed here. The render pass and
// pipeline are shared collaborators: created elsewhere, left alone across
// rebuilds, since dynamic viewport state keeps them extent-independent.
type SwapchainManager struct {
	device    core1_0.Device
	physical  core1_0.PhysicalDevice
	surface   khr_surface.Surface
	extension khr_swapchain.Extension
	queues    QueueFamilyIndices
	log       logrus.FieldLogger

	renderPass core1_0.RenderPass

	swapchain    khr_swapchain.Swapchain
	images       []core1_0.Image
	views        []core1_0.ImageView
	framebuffers []core1_0.Framebuffer

	format core1_0.Format
	extent core1_0.Extent2D
}

// NewSwapchainManager prepares a manager for the chosen device. Create must
// run before anything is usable.
func NewSwapchainManager(device core1_0.Device, physical core1_0.PhysicalDevice, surface khr_surface.Surface, queues QueueFamilyIndices, log logrus.FieldLogger) *SwapchainManager {
	return &SwapchainManager{
		device:    device,
		physical:  physical,
		surface:   surface,
		extension: khr_swapchain.CreateExtensionFromDevice(device),
		queues:    queues,
		log:       log,
	}
}

// Create negotiates and builds the swapchain plus one color view per image
// for the given drawable size. Framebuffers are built separately once the
// render pass exists.
func (m *SwapchainManager) Create(drawableWidth, drawableHeight int) error {
	details, err := querySurfaceDetails(m.surface, m.physical)
	if err != nil {
		return err
	}
	if len(details.formats) == 0 || len(details.presentModes) == 0 {
		return errors.Newf("surface offers %d formats and %d present modes", len(details.formats), len(details.presentModes))
	}

	surfaceFormat := chooseSurfaceFormat(details.formats)
	presentMode := choosePresentMode(details.presentModes)
	extent := chooseExtent(details.capabilities, drawableWidth, drawableHeight)
	imageCount := chooseImageCount(details.capabilities)

	sharingMode := core1_0.SharingModeExclusive
	var familyIndices []int
	if m.queues.Graphics.Index() != m.queues.Present.Index() {
		sharingMode = core1_0.SharingModeConcurrent
		familyIndices = []int{m.queues.Graphics.Index(), m.queues.Present.Index()}
	}

	swapchain, _, err := m.extension.CreateSwapchain(m.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: m.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: familyIndices,

		PreTransform:   details.capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	m.swapchain = swapchain
	m.format = surfaceFormat.Format
	m.extent = extent

	m.images, _, err = swapchain.SwapchainImages()
	if err != nil {
		return errors.Wrap(err, "fetching swapchain images")
	}

	for _, image := range m.images {
		view, _, err := m.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			ViewType: core1_0.ImageViewType2D,
			Image:    image,
			Format:   m.format,
			Components: core1_0.ComponentMapping{
				R: core1_0.ComponentSwizzleIdentity,
				G: core1_0.ComponentSwizzleIdentity,
				B: core1_0.ComponentSwizzleIdentity,
				A: core1_0.ComponentSwizzleIdentity,
			},
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return errors.Wrap(err, "creating swapchain image view")
		}
		m.views = append(m.views, view)
	}

	m.log.WithFields(logrus.Fields{
		"format":       m.format,
		"present_mode": presentMode,
		"extent":       m.extent,
		"images":       len(m.images),
		"sharing":      sharingMode,
	}).Debug("swapchain created")
	return nil
}

// CreateFramebuffers builds one framebuffer per swapchain image against the
// render pass, which is retained for rebuilds.
func (m *SwapchainManager) CreateFramebuffers(renderPass core1_0.RenderPass) error {
	m.renderPass = renderPass
	for _, view := range m.views {
		framebuffer, _, err := m.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  renderPass,
			Layers:      1,
			Attachments: []core1_0.ImageView{view},
			Width:       m.extent.Width,
			Height:      m.extent.Height,
		})
		if err != nil {
			return errors.Wrap(err, "creating framebuffer")
		}
		m.framebuffers = append(m.framebuffers, framebuffer)
	}
	return nil
}

// Destroy tears down framebuffers, then views, then the swapchain itself.
// Safe on partially built state.
func (m *SwapchainManager) Destroy() {
	for _, framebuffer := range m.framebuffers {
		framebuffer.Destroy(nil)
	}
	m.framebuffers = nil

	for _, view := range m.views {
		view.Destroy(nil)
	}
	m.views = nil
	m.images = nil

	if m.swapchain != nil {
		m.swapchain.Destroy(nil)
		m.swapchain = nil
	}
}

// Recreate rebuilds the swapchain for the current drawable size. A zero
// drawable extent (minimized window) is reported as no rebuild without
// touching the existing chain. The device is drained first: rebuilding
// resources while frames are in flight is undefined behavior.
func (m *SwapchainManager) Recreate(drawableWidth, drawableHeight int) (bool, error) {
	if drawableWidth == 0 || drawableHeight == 0 {
		return false, nil
	}

	if _, err := m.device.WaitIdle(); err != nil {
		return false, errors.Wrap(err, "draining device before swapchain rebuild")
	}

	m.Destroy()

	if err := m.Create(drawableWidth, drawableHeight); err != nil {
		return false, err
	}
	if err := m.CreateFramebuffers(m.renderPass); err != nil {
		return false, err
	}

	m.log.WithFields(logrus.Fields{
		"extent": m.extent,
		"images": len(m.images),
	}).Info("swapchain rebuilt")
	return true, nil
}

// Format is the negotiated image format.
func (m *SwapchainManager) Format() core1_0.Format { return m.format }

// Extent is the negotiated image extent.
func (m *SwapchainManager) Extent() core1_0.Extent2D { return m.extent }

// ImageCount is the number of images actually created.
func (m *SwapchainManager) ImageCount() int { return len(m.images) }

// Swapchain exposes the live swapchain for acquisition and presentation.
func (m *SwapchainManager) Swapchain() khr_swapchain.Swapchain { return m.swapchain }

// Extension exposes the swapchain extension, needed for presentation.
func (m *SwapchainManager) Extension() khr_swapchain.Extension { return m.extension }

// Framebuffer returns the framebuffer for an acquired image index.
func (m *SwapchainManager) Framebuffer(imageIndex int) core1_0.Framebuffer {
	return m.framebuffers[imageIndex]
}
