// Package vk implements the gpu interfaces on Vulkan through vkngwrapper,
// presenting to an SDL2 window.
package vk

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/frameloop/gpu"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"golang.org/x/exp/slog"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceOptions struct {
	AppName    string
	APIVersion gpu.APIVersion
	// Validation enables the Khronos validation layer and routes its
	// messages to Diagnostics.
	Validation  bool
	Diagnostics gpu.DiagnosticSink
}

// Instance owns the Vulkan instance, the debug messenger and the window
// surface.
type Instance struct {
	log    *slog.Logger
	window *sdl.Window

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevices []core1_0.PhysicalDevice
}

var _ gpu.Instance = (*Instance)(nil)

// NewInstance creates a Vulkan instance with the extensions window needs and
// a surface for it. Nothing is left to destroy when it returns an error.
func NewInstance(window *sdl.Window, opts InstanceOptions, log *slog.Logger) (*Instance, error) {
	globalDriver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	i := &Instance{
		log:          log,
		window:       window,
		globalDriver: globalDriver,
	}

	if err := i.createInstance(opts); err != nil {
		return nil, err
	}

	if opts.Validation {
		i.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
		i.debugMessenger, _, err = i.debugDriver.CreateDebugUtilsMessenger(nil, debugMessengerOptions(opts.Diagnostics))
		if err != nil {
			i.Destroy()
			return nil, gpu.Check("vkCreateDebugUtilsMessengerEXT", "", err)
		}
	}

	i.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
	i.surface, err = vkng_sdl2.CreateSurface(i.instanceDriver.Instance(), i.surfaceExtension, window)
	if err != nil {
		i.Destroy()
		return nil, errors.Wrap(err, "create window surface")
	}

	return i, nil
}

func (i *Instance) createInstance(opts InstanceOptions) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "frameloop",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.APIVersion(common.CreateVersion(opts.APIVersion.Major(), opts.APIVersion.Minor(), 0)),
	}

	sdlExtensions := i.window.VulkanGetInstanceExtensions()
	extensions, _, err := i.globalDriver.AvailableExtensions()
	if err != nil {
		return gpu.Check("vkEnumerateInstanceExtensionProperties", "", err)
	}

	for _, ext := range sdlExtensions {
		if _, hasExt := extensions[ext]; !hasExt {
			return errors.Newf("missing instance extension %s required by the window", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.Validation {
		layers, _, err := i.globalDriver.AvailableLayers()
		if err != nil {
			return gpu.Check("vkEnumerateInstanceLayerProperties", "", err)
		}
		if _, hasValidation := layers[validationLayer]; !hasValidation {
			return errors.Newf("validation layer %s not available, install the Vulkan SDK or run without validation", validationLayer)
		}

		instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, validationLayer)
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		// Covers messages from vkCreateInstance and vkDestroyInstance.
		instanceOptions.Next = debugMessengerOptions(opts.Diagnostics)
	}

	var res common.VkResult
	i.instanceDriver, res, err = i.globalDriver.CreateInstance(nil, instanceOptions)
	return gpu.Check("vkCreateInstance", res, err)
}

func debugMessengerOptions(sink gpu.DiagnosticSink) ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback: func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
			if sink == nil {
				return false
			}
			return sink(fromSeverity(severity), messageCategory(msgType), data.Message)
		},
	}
}

func fromSeverity(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) gpu.Severity {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return gpu.SeverityError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return gpu.SeverityWarning
	case severity&ext_debug_utils.SeverityInfo != 0:
		return gpu.SeverityInfo
	default:
		return gpu.SeverityVerbose
	}
}

func messageCategory(msgType ext_debug_utils.DebugUtilsMessageTypeFlags) string {
	switch {
	case msgType&ext_debug_utils.TypeValidation != 0:
		return "validation"
	case msgType&ext_debug_utils.TypePerformance != 0:
		return "performance"
	default:
		return "general"
	}
}

// Candidates describes every physical device as seen through the window
// surface. The order of the result is the enumeration order.
func (i *Instance) Candidates() ([]gpu.Candidate, error) {
	physicalDevices, res, err := i.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, gpu.Check("vkEnumeratePhysicalDevices", res, err)
	}
	i.physicalDevices = physicalDevices

	candidates := make([]gpu.Candidate, 0, len(physicalDevices))
	for index, device := range physicalDevices {
		c, err := i.describe(index, device)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (i *Instance) describe(index int, device core1_0.PhysicalDevice) (gpu.Candidate, error) {
	props, err := i.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return gpu.Candidate{}, gpu.Check("vkGetPhysicalDeviceProperties", "", err)
	}

	extensionProps, res, err := i.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return gpu.Candidate{}, gpu.Check("vkEnumerateDeviceExtensionProperties", res, err)
	}
	extensions := make([]string, 0, len(extensionProps))
	for name := range extensionProps {
		extensions = append(extensions, name)
	}
	sort.Strings(extensions)

	version := gpu.APIVersion(uint32(props.APIVersion))
	features, err := i.queryFeatures(device, version)
	if err != nil {
		return gpu.Candidate{}, err
	}

	c := gpu.Candidate{
		Index:             index,
		Name:              props.DriverName,
		Type:              fromDeviceType(props.DriverType),
		APIVersion:        version,
		VendorID:          props.VendorID,
		DeviceID:          props.DeviceID,
		PipelineCacheUUID: props.PipelineCacheUUID,
		Features:          features,
		Extensions:        extensions,
		QueueFamily:       -1,
	}

	c.QueueFamily, err = i.findQueueFamily(device)
	if err != nil {
		return gpu.Candidate{}, err
	}

	formats, res, err := i.surfaceExtension.GetPhysicalDeviceSurfaceFormats(i.surface, device)
	if err != nil {
		return gpu.Candidate{}, gpu.Check("vkGetPhysicalDeviceSurfaceFormatsKHR", res, err)
	}
	presentModes, res, err := i.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(i.surface, device)
	if err != nil {
		return gpu.Candidate{}, gpu.Check("vkGetPhysicalDeviceSurfacePresentModesKHR", res, err)
	}
	c.SurfaceSupport = len(formats) > 0 && len(presentModes) > 0

	return c, nil
}

// findQueueFamily returns the first family that can run graphics and compute
// work and present to the surface, or -1.
func (i *Instance) findQueueFamily(device core1_0.PhysicalDevice) (int, error) {
	queueFamilies := i.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)
	for familyIdx, family := range queueFamilies {
		if family.QueueFlags&core1_0.QueueGraphics == 0 || family.QueueFlags&core1_0.QueueCompute == 0 {
			continue
		}

		supported, res, err := i.surfaceExtension.GetPhysicalDeviceSurfaceSupport(i.surface, device, familyIdx)
		if err != nil {
			return -1, gpu.Check("vkGetPhysicalDeviceSurfaceSupportKHR", res, err)
		}
		if supported {
			return familyIdx, nil
		}
	}
	return -1, nil
}

// CreateDevice opens c with a single queue from its graphics, compute and
// present family, and enables features.
func (i *Instance) CreateDevice(c gpu.Candidate, features gpu.Features) (gpu.Device, error) {
	if c.Index < 0 || c.Index >= len(i.physicalDevices) {
		return nil, errors.Newf("unknown physical device %d", c.Index)
	}
	if c.QueueFamily < 0 {
		return nil, errors.Newf("%s has no usable queue family", c.Name)
	}
	if !c.Features.Has(features) {
		return nil, errors.Newf("%s does not support %s", c.Name, features&^c.Features)
	}
	physicalDevice := i.physicalDevices[c.Index]

	extensionNames := []string{khr_swapchain.ExtensionName}
	for _, ext := range c.Extensions {
		// Required wherever the device advertises it, mostly MoltenVK.
		if ext == khr_portability_subset.ExtensionName {
			extensionNames = append(extensionNames, ext)
		}
	}

	deviceDriver, res, err := i.instanceDriver.CreateDevice(physicalDevice, nil, core1_0.DeviceCreateInfo{
		NextOptions: common.NextOptions{Next: featureChain(features)},
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: c.QueueFamily,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return nil, gpu.Check("vkCreateDevice", res, err)
	}

	d := &Device{
		log:              i.log.With("device", c.Name),
		instanceDriver:   i.instanceDriver,
		physicalDevice:   physicalDevice,
		driver:           deviceDriver,
		queue:            deviceDriver.GetQueue(c.QueueFamily, 0),
		queueFamily:      c.QueueFamily,
		surfaceExtension: i.surfaceExtension,
		surface:          i.surface,
		swapchainExt:     khr_swapchain.CreateExtensionDriverFromCoreDriver(deviceDriver),
		objects:          newObjects(),
	}
	d.destroyers = d.destroyTable()
	return d, nil
}

func (i *Instance) DestroySurface() {
	if i.surface.Initialized() {
		i.surfaceExtension.DestroySurface(i.surface, nil)
		i.surface = khr_surface.Surface{}
	}
}

// Destroy destroys the debug messenger and the instance. The surface and
// every device must already be gone.
func (i *Instance) Destroy() {
	if i.debugMessenger.Initialized() {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
		i.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if i.instanceDriver != nil {
		i.instanceDriver.DestroyInstance(nil)
		i.instanceDriver = nil
	}
}
