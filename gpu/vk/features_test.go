package vk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_2"
	"github.com/vkngwrapper/core/v3/core1_3"
	"github.com/vkngwrapper/frameloop/gpu"
)

func TestFromFeatureStructs(t *testing.T) {
	require.Equal(t, gpu.Features(0), fromFeatureStructs(core1_2.PhysicalDeviceVulkan12Features{}, core1_3.PhysicalDeviceVulkan13Features{}))

	// A 1.2 device that only has the 1.2 features must not satisfy the
	// default requirements.
	onlyVk12 := fromFeatureStructs(
		core1_2.PhysicalDeviceVulkan12Features{DescriptorIndexing: true, BufferDeviceAddress: true},
		core1_3.PhysicalDeviceVulkan13Features{},
	)
	require.Equal(t, gpu.FeatureDescriptorIndexing|gpu.FeatureBufferDeviceAddress, onlyVk12)
	require.False(t, onlyVk12.Has(gpu.DefaultRequirements().Features))

	all := fromFeatureStructs(
		core1_2.PhysicalDeviceVulkan12Features{DescriptorIndexing: true, BufferDeviceAddress: true},
		core1_3.PhysicalDeviceVulkan13Features{DynamicRendering: true, Synchronization2: true},
	)
	require.Equal(t, gpu.AllFeatures, all)
}

func TestFeatureChain(t *testing.T) {
	require.Nil(t, featureChain(0))

	next := featureChain(gpu.FeatureSynchronization2)
	vk13, ok := next.(core1_3.PhysicalDeviceVulkan13Features)
	require.True(t, ok, "%T", next)
	require.True(t, vk13.Synchronization2)
	require.False(t, vk13.DynamicRendering)

	next = featureChain(gpu.FeatureBufferDeviceAddress)
	vk12, ok := next.(core1_2.PhysicalDeviceVulkan12Features)
	require.True(t, ok, "%T", next)
	require.True(t, vk12.BufferDeviceAddress)
	require.False(t, vk12.DescriptorIndexing)
	require.Nil(t, vk12.Next)

	next = featureChain(gpu.AllFeatures)
	vk12, ok = next.(core1_2.PhysicalDeviceVulkan12Features)
	require.True(t, ok, "%T", next)
	require.True(t, vk12.DescriptorIndexing)
	require.True(t, vk12.BufferDeviceAddress)

	vk13, ok = vk12.Next.(core1_3.PhysicalDeviceVulkan13Features)
	require.True(t, ok, "%T", vk12.Next)
	require.True(t, vk13.DynamicRendering)
	require.True(t, vk13.Synchronization2)
}
