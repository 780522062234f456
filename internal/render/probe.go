package render

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"golang.org/x/sync/errgroup"
)

// discreteBonus is the fixed score advantage discrete hardware gets over an
// integrated chip with comparable limits.
const discreteBonus = 1000

// requiredDeviceExtensions must all be present for a candidate to score at
// all.
var requiredDeviceExtensions = []string{khr_swapchain.ExtensionName}

// FamilyIndex is an optional queue family index: either unset or a concrete
// index. The zero value is unset.
type FamilyIndex struct {
	set   bool
	index int
}

// IndexOf returns a set FamilyIndex.
func IndexOf(n int) FamilyIndex { return FamilyIndex{set: true, index: n} }

// IsSet reports whether the index holds a value.
func (f FamilyIndex) IsSet() bool { return f.set }

// Index returns the held value. Only meaningful when IsSet.
func (f FamilyIndex) Index() int { return f.index }

// QueueFamilyIndices records where graphics work and presentation can be
// submitted on a device. Both may name the same family.
type QueueFamilyIndices struct {
	Graphics FamilyIndex
	Present  FamilyIndex
}

// Complete reports whether both families were resolved.
func (q QueueFamilyIndices) Complete() bool {
	return q.Graphics.IsSet() && q.Present.IsSet()
}

// queueFamilyTraits is the per-family capability snapshot queue resolution
// runs on.
type queueFamilyTraits struct {
	graphics bool
	present  bool
}

// resolveQueueFamilies records the first family with graphics support and,
// independently, the first able to present to the target surface. traitsAt
// is consulted lazily, in index order, and not at all once both families are
// known.
func resolveQueueFamilies(count int, traitsAt func(int) (queueFamilyTraits, error)) (QueueFamilyIndices, error) {
	var indices QueueFamilyIndices
	for i := 0; i < count; i++ {
		traits, err := traitsAt(i)
		if err != nil {
			return QueueFamilyIndices{}, err
		}
		if !indices.Graphics.IsSet() && traits.graphics {
			indices.Graphics = IndexOf(i)
		}
		if !indices.Present.IsSet() && traits.present {
			indices.Present = IndexOf(i)
		}
		if indices.Complete() {
			break
		}
	}
	return indices, nil
}

// DeviceCaps is everything selection needs to know about one candidate,
// captured in a single scan and discarded once a device is chosen.
type DeviceCaps struct {
	Device core1_0.PhysicalDevice

	Name            string
	Discrete        bool
	MaxImageDim2D   int
	GeometryShader  bool
	VendorID        uint32
	DeviceID        uint32
	PipelineCacheID uuid.UUID

	Extensions map[string]struct{}
	Queues     QueueFamilyIndices

	SurfaceCapabilities *khr_surface.SurfaceCapabilities
	SurfaceFormats      []khr_surface.SurfaceFormat
	PresentModes        []khr_surface.PresentMode
}

// HasExtensions reports whether every named device extension is available.
func (c *DeviceCaps) HasExtensions(names ...string) bool {
	for _, name := range names {
		if _, ok := c.Extensions[name]; !ok {
			return false
		}
	}
	return true
}

// Score rates the candidate. Zero means unusable: incomplete queue families,
// a missing required extension or feature, or a surface this device cannot
// feed. Everything else ranks by the largest 2D image the device handles,
// plus a flat bonus for discrete hardware.
func (c *DeviceCaps) Score() int {
	if !c.Queues.Complete() {
		return 0
	}
	if !c.HasExtensions(requiredDeviceExtensions...) {
		return 0
	}
	if !c.GeometryShader {
		return 0
	}
	if len(c.SurfaceFormats) == 0 || len(c.PresentModes) == 0 {
		return 0
	}

	score := c.MaxImageDim2D
	if c.Discrete {
		score += discreteBonus
	}
	return score
}

// snapshotDevice queries one candidate's properties, features, extensions,
// queue families, and surface support. Surface details are only queried when
// the swapchain extension exists, since they are meaningless without it.
func snapshotDevice(device core1_0.PhysicalDevice, surface khr_surface.Surface) (*DeviceCaps, error) {
	properties, err := device.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "querying device properties")
	}
	features := device.Features()

	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating extensions of %q", properties.DeviceName)
	}

	caps := &DeviceCaps{
		Device:          device,
		Name:            properties.DeviceName,
		Discrete:        properties.DeviceType == core1_0.PhysicalDeviceTypeDiscreteGPU,
		MaxImageDim2D:   int(properties.Limits.MaxImageDimension2D),
		GeometryShader:  features.GeometryShader,
		VendorID:        properties.VendorID,
		DeviceID:        properties.DeviceID,
		PipelineCacheID: properties.PipelineCacheUUID,
		Extensions:      make(map[string]struct{}, len(extensions)),
	}
	for name := range extensions {
		caps.Extensions[name] = struct{}{}
	}

	families := device.QueueFamilyProperties()
	caps.Queues, err = resolveQueueFamilies(len(families), func(i int) (queueFamilyTraits, error) {
		supported, _, err := surface.PhysicalDeviceSurfaceSupport(device, i)
		if err != nil {
			return queueFamilyTraits{}, errors.Wrapf(err, "querying present support of %q family %d", caps.Name, i)
		}
		return queueFamilyTraits{
			graphics: families[i].QueueFlags&core1_0.QueueGraphics != 0,
			present:  supported,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if caps.HasExtensions(requiredDeviceExtensions...) {
		caps.SurfaceCapabilities, _, err = surface.PhysicalDeviceSurfaceCapabilities(device)
		if err != nil {
			return nil, errors.Wrapf(err, "querying surface capabilities of %q", caps.Name)
		}
		caps.SurfaceFormats, _, err = surface.PhysicalDeviceSurfaceFormats(device)
		if err != nil {
			return nil, errors.Wrapf(err, "querying surface formats of %q", caps.Name)
		}
		caps.PresentModes, _, err = surface.PhysicalDeviceSurfacePresentModes(device)
		if err != nil {
			return nil, errors.Wrapf(err, "querying present modes of %q", caps.Name)
		}
	}

	return caps, nil
}

// SelectDevice scores every enumerated device against the surface and
// returns the capabilities of the winner. Candidates are snapshotted
// concurrently into enumeration-order slots, so equal scores always go to
// the first device seen. A candidate whose queries fail is skipped, not
// fatal; selection fails only when nothing scores above zero.
func SelectDevice(instance core1_0.Instance, surface khr_surface.Surface, log logrus.FieldLogger) (*DeviceCaps, error) {
	devices, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating physical devices")
	}
	if len(devices) == 0 {
		return nil, errors.WithMessage(ErrNoSuitableDevice, "no Vulkan devices present")
	}

	candidates := make([]*DeviceCaps, len(devices))
	var group errgroup.Group
	for i, device := range devices {
		i, device := i, device
		group.Go(func() error {
			caps, err := snapshotDevice(device, surface)
			if err != nil {
				log.WithError(err).Warn("skipping device that failed capability queries")
				return nil
			}
			candidates[i] = caps
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	best := pickBest(candidates)
	if best == nil {
		return nil, ErrNoSuitableDevice
	}

	log.WithFields(logrus.Fields{
		"device":   best.Name,
		"score":    best.Score(),
		"discrete": best.Discrete,
		"graphics": best.Queues.Graphics.Index(),
		"present":  best.Queues.Present.Index(),
	}).Info("selected GPU")
	return best, nil
}

// pickBest returns the highest-scoring candidate, first seen winning ties,
// or nil when nothing scores above zero. Nil entries are candidates whose
// snapshot failed.
func pickBest(candidates []*DeviceCaps) *DeviceCaps {
	bestScore := 0
	var best *DeviceCaps
	for _, caps := range candidates {
		if caps == nil {
			continue
		}
		if score := caps.Score(); score > bestScore {
			bestScore = score
			best = caps
		}
	}
	return best
}
