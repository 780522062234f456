package render

import (
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
)

// validationLayer is the Khronos validation layer enabled when validation is
// switched on in the config.
const validationLayer = "VK_LAYER_KHRONOS_validation"

// Instance wraps the Vulkan instance together with the debug messenger that
// optionally hangs off it.
type Instance struct {
	handle    core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
	log       logrus.FieldLogger
}

// NewInstance creates the Vulkan instance with every extension the window
// system requires. With validation on the Khronos layer is mandatory, but
// the debug-utils messenger is attached only when the extension is actually
// present; without it validation output simply stays on stderr.
func NewInstance(loader core.Loader, window *Window, appName string, validation bool, log logrus.FieldLogger) (*Instance, error) {
	createInfo := core1_0.InstanceCreateInfo{
		ApplicationName:    appName,
		ApplicationVersion: common.CreateVersion(0, 1, 0),
		EngineName:         "chim",
		EngineVersion:      common.CreateVersion(0, 1, 0),
		APIVersion:         common.Vulkan1_2,
	}

	available, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, setupErr(err, "listing instance extensions")
	}

	for _, ext := range window.InstanceExtensions() {
		if _, ok := available[ext]; !ok {
			return nil, setupErrf("window system needs instance extension %s, which this driver lacks", ext)
		}
		createInfo.EnabledExtensionNames = append(createInfo.EnabledExtensionNames, ext)
	}

	if _, ok := available[khr_portability_enumeration.ExtensionName]; ok {
		createInfo.EnabledExtensionNames = append(createInfo.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		createInfo.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	inst := &Instance{log: log}

	withMessenger := false
	if validation {
		layers, _, err := loader.AvailableLayers()
		if err != nil {
			return nil, setupErr(err, "listing instance layers")
		}
		if _, ok := layers[validationLayer]; !ok {
			return nil, setupErrf("validation requested but layer %s is not installed", validationLayer)
		}
		createInfo.EnabledLayerNames = append(createInfo.EnabledLayerNames, validationLayer)

		if _, ok := available[ext_debug_utils.ExtensionName]; ok {
			withMessenger = true
			createInfo.EnabledExtensionNames = append(createInfo.EnabledExtensionNames, ext_debug_utils.ExtensionName)
			// Covers instance creation itself, before the messenger exists.
			createInfo.Next = inst.messengerOptions()
		} else {
			log.Warnf("%s not available, validation reports stay on stderr", ext_debug_utils.ExtensionName)
		}
	}

	handle, _, err := loader.CreateInstance(nil, createInfo)
	if err != nil {
		return nil, setupErr(err, "creating Vulkan instance")
	}
	inst.handle = handle

	if withMessenger {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(handle)
		inst.messenger, _, err = debugLoader.CreateDebugUtilsMessenger(handle, nil, inst.messengerOptions())
		if err != nil {
			handle.Destroy(nil)
			return nil, setupErr(err, "creating debug messenger")
		}
	}

	log.WithFields(logrus.Fields{
		"validation": validation,
		"messenger":  inst.messenger != nil,
	}).Debug("instance created")
	return inst, nil
}

func (i *Instance) messengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    i.relayDebug,
	}
}

// relayDebug forwards validation messages into the structured log. Returning
// false tells the driver not to abort the triggering call.
func (i *Instance) relayDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	entry := i.log.WithField("source", msgType.String())
	if severity&ext_debug_utils.SeverityError != 0 {
		entry.Error(data.Message)
	} else {
		entry.Warn(data.Message)
	}
	return false
}

// Handle exposes the raw instance for device enumeration and surface
// creation.
func (i *Instance) Handle() core1_0.Instance {
	return i.handle
}

// Destroy tears down the messenger and then the instance itself.
func (i *Instance) Destroy() {
	if i.messenger != nil {
		i.messenger.Destroy(nil)
		i.messenger = nil
	}
	if i.handle != nil {
		i.handle.Destroy(nil)
		i.handle = nil
	}
}
