package render

import (
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
)

// Device bundles the logical device with the two queues the pipeline talks
// to. Graphics and present usually resolve to the same queue.
type Device struct {
	Handle        core1_0.Device
	GraphicsQueue core1_0.Queue
	PresentQueue  core1_0.Queue
}

// NewDevice creates the logical device for a probed GPU, requesting one
// queue per distinct family. No optional device features are enabled.
func NewDevice(caps *DeviceCaps, log logrus.FieldLogger) (*Device, error) {
	graphics := caps.Queues.Graphics.Index()
	present := caps.Queues.Present.Index()

	uniqueFamilies := []int{graphics}
	if present != graphics {
		uniqueFamilies = append(uniqueFamilies, present)
	}

	var queueInfos []core1_0.DeviceQueueCreateInfo
	for _, family := range uniqueFamilies {
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string(nil), requiredDeviceExtensions...)
	// Portability drivers such as MoltenVK refuse device creation unless the
	// subset extension is requested back.
	if caps.HasExtensions(khr_portability_subset.ExtensionName) {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	handle, _, err := caps.Device.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueInfos,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return nil, setupErr(err, "creating logical device on %s", caps.Name)
	}

	log.WithFields(logrus.Fields{
		"device":   caps.Name,
		"families": uniqueFamilies,
	}).Debug("logical device created")

	return &Device{
		Handle:        handle,
		GraphicsQueue: handle.GetQueue(graphics, 0),
		PresentQueue:  handle.GetQueue(present, 0),
	}, nil
}

// Destroy tears the logical device down. Queues die with it.
func (d *Device) Destroy() {
	if d.Handle != nil {
		d.Handle.Destroy(nil)
		d.Handle = nil
	}
}
