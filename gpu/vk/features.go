package vk

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/core/v3/core1_2"
	"github.com/vkngwrapper/core/v3/core1_3"
	"github.com/vkngwrapper/frameloop/gpu"
)

const (
	vulkan12Features = gpu.FeatureDescriptorIndexing | gpu.FeatureBufferDeviceAddress
	vulkan13Features = gpu.FeatureDynamicRendering | gpu.FeatureSynchronization2
)

// queryFeatures asks the driver which negotiable features device supports.
// Devices below 1.2, or an instance created for 1.0, report none.
func (i *Instance) queryFeatures(device core1_0.PhysicalDevice, version gpu.APIVersion) (gpu.Features, error) {
	driver, ok := i.instanceDriver.(core1_1.CoreInstanceDriver)
	if !ok || !version.AtLeast(gpu.Version(1, 2, 0)) {
		return 0, nil
	}

	var vk12 core1_2.PhysicalDeviceVulkan12Features
	var vk13 core1_3.PhysicalDeviceVulkan13Features
	if version.AtLeast(gpu.Version(1, 3, 0)) {
		vk12.NextOutData = common.NextOutData{Next: &vk13}
	}
	features := core1_1.PhysicalDeviceFeatures2{
		NextOutData: common.NextOutData{Next: &vk12},
	}

	if err := driver.GetPhysicalDeviceFeatures2(device, &features); err != nil {
		return 0, gpu.Check("vkGetPhysicalDeviceFeatures2", "", err)
	}
	return fromFeatureStructs(vk12, vk13), nil
}

func fromFeatureStructs(vk12 core1_2.PhysicalDeviceVulkan12Features, vk13 core1_3.PhysicalDeviceVulkan13Features) gpu.Features {
	var f gpu.Features
	if vk12.DescriptorIndexing {
		f |= gpu.FeatureDescriptorIndexing
	}
	if vk12.BufferDeviceAddress {
		f |= gpu.FeatureBufferDeviceAddress
	}
	if vk13.DynamicRendering {
		f |= gpu.FeatureDynamicRendering
	}
	if vk13.Synchronization2 {
		f |= gpu.FeatureSynchronization2
	}
	return f
}

// featureChain builds the DeviceCreateInfo extension chain that turns on
// features. It returns nil when nothing needs enabling.
func featureChain(features gpu.Features) common.Options {
	var next common.Options

	if features&vulkan13Features != 0 {
		next = core1_3.PhysicalDeviceVulkan13Features{
			DynamicRendering: features.Has(gpu.FeatureDynamicRendering),
			Synchronization2: features.Has(gpu.FeatureSynchronization2),
		}
	}

	if features&vulkan12Features != 0 {
		next = core1_2.PhysicalDeviceVulkan12Features{
			NextOptions:         common.NextOptions{Next: next},
			DescriptorIndexing:  features.Has(gpu.FeatureDescriptorIndexing),
			BufferDeviceAddress: features.Has(gpu.FeatureBufferDeviceAddress),
		}
	}

	return next
}
