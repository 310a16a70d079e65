package gpu_test

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/frameloop/gpu"
	"github.com/vkngwrapper/frameloop/gpu/gputest"
	"golang.org/x/exp/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBootstrap(t *testing.T) {
	inst := gputest.NewInstance(
		gputest.Candidate(0, "igpu", gpu.DeviceTypeIntegrated),
		gputest.Candidate(1, "dgpu", gpu.DeviceTypeDiscrete),
	)

	ctx, err := gpu.Bootstrap(inst, gpu.DefaultRequirements(), discard)
	require.NoError(t, err)
	require.Equal(t, "dgpu", ctx.PhysicalDevice.Name)
	require.True(t, ctx.Allocator.Valid())
	require.Equal(t, 1, inst.Device.Live(gpu.KindAllocator))

	ctx.Device.Destroy(gpu.KindAllocator, ctx.Allocator)
	ctx.Destroy()
	ctx.Destroy()
	require.True(t, inst.Device.Closed())
	require.Empty(t, inst.Device.Violations())
}

func TestBootstrapEnablesRequiredFeatures(t *testing.T) {
	inst := gputest.NewInstance(gputest.Candidate(0, "dgpu", gpu.DeviceTypeDiscrete))
	req := gpu.DefaultRequirements()
	req.Features = gpu.FeatureSynchronization2 | gpu.FeatureBufferDeviceAddress

	ctx, err := gpu.Bootstrap(inst, req, discard)
	require.NoError(t, err)
	require.Equal(t, req.Features, inst.EnabledFeatures())

	ctx.Device.Destroy(gpu.KindAllocator, ctx.Allocator)
	ctx.Destroy()
}

func TestBootstrapNoDevice(t *testing.T) {
	inst := gputest.NewInstance()

	ctx, err := gpu.Bootstrap(inst, gpu.DefaultRequirements(), discard)
	require.Nil(t, ctx)
	require.True(t, errors.Is(err, gpu.ErrNoSuitableDevice))
	require.False(t, inst.DeviceCreated())
}

func TestBootstrapAllocatorFailureClosesDevice(t *testing.T) {
	inst := gputest.NewInstance(gputest.Candidate(0, "dgpu", gpu.DeviceTypeDiscrete))
	inst.Device.Fail = map[string]error{"CreateAllocator": errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")}

	_, err := gpu.Bootstrap(inst, gpu.DefaultRequirements(), discard)
	require.ErrorContains(t, err, "create allocator")
	require.True(t, inst.Device.Closed())
}

func TestBootstrapEnumerationFailure(t *testing.T) {
	inst := gputest.NewInstance()
	inst.CandidatesErr = errors.New("VK_ERROR_INITIALIZATION_FAILED")

	_, err := gpu.Bootstrap(inst, gpu.DefaultRequirements(), discard)
	require.ErrorContains(t, err, "enumerate physical devices")
}
