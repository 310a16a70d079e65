package swapchain

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/frameloop/gpu"
	"github.com/vkngwrapper/frameloop/gpu/gputest"
	"golang.org/x/exp/slog"
)

func newManager(t *testing.T) (*Manager, *gputest.Device) {
	t.Helper()
	dev := gputest.NewDevice()
	return New(dev, slog.New(slog.NewTextHandler(io.Discard, nil))), dev
}

func TestCreateDestroyRoundTrip(t *testing.T) {
	m, dev := newManager(t)

	require.NoError(t, m.Create(800, 600))
	chain := m.Chain()
	require.Len(t, chain.Images, 3)
	require.Len(t, chain.Views, len(chain.Images))
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, chain.Extent)
	require.Equal(t, 3, dev.Live(gpu.KindImageView))

	m.Destroy()
	require.Zero(t, dev.Live(gpu.KindImageView))
	require.Zero(t, dev.Live(gpu.KindSwapchain))
	require.False(t, m.Chain().Handle.Valid())

	dev.SwapchainImages = 2
	require.NoError(t, m.Create(1280, 720))
	chain = m.Chain()
	require.Len(t, chain.Images, 2)
	require.Len(t, chain.Views, 2)
	require.Equal(t, gpu.Extent2D{Width: 1280, Height: 720}, chain.Extent)

	m.Destroy()
	require.Zero(t, dev.LiveTotal())
	require.Empty(t, dev.Violations())
}

func TestCreateRequest(t *testing.T) {
	m, dev := newManager(t)
	require.NoError(t, m.Create(640, 480))

	reqs := dev.SwapchainRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, gpu.FormatB8G8R8A8UNorm, reqs[0].Format)
	require.Equal(t, gpu.PresentModeFIFO, reqs[0].PresentMode)
	require.NotZero(t, reqs[0].Usage&gpu.UsageTransferDst)
}

func TestDestroyIsIdempotent(t *testing.T) {
	m, dev := newManager(t)
	m.Destroy()

	require.NoError(t, m.Create(16, 16))
	m.Destroy()
	m.Destroy()
	require.Empty(t, dev.Violations())
}

func TestRecreate(t *testing.T) {
	m, dev := newManager(t)
	require.NoError(t, m.Create(800, 600))
	require.NoError(t, m.Recreate(1024, 768))

	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, m.Chain().Extent)
	require.Equal(t, 1, dev.Live(gpu.KindSwapchain))
	require.Equal(t, 3, dev.Live(gpu.KindImageView))
	require.Empty(t, dev.Violations())
}

func TestCreateRejectsZeroExtent(t *testing.T) {
	m, dev := newManager(t)

	err := m.Create(0, 600)
	require.True(t, errors.Is(err, ErrZeroExtent))
	require.Zero(t, dev.LiveTotal())

	require.NoError(t, m.Create(1, 1))
}

func TestCreateTwiceFails(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Create(64, 64))
	require.Error(t, m.Create(64, 64))
}

func TestCreateBackendFailure(t *testing.T) {
	m, dev := newManager(t)
	dev.Fail = map[string]error{"CreateSwapchain": errors.New("VK_ERROR_SURFACE_LOST_KHR")}

	require.Error(t, m.Create(64, 64))
	require.False(t, m.Chain().Handle.Valid())
}
