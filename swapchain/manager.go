// Package swapchain manages the chain of presentable images.
package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/frameloop/gpu"
	"golang.org/x/exp/slog"
)

// ErrZeroExtent is returned when a chain is requested for a surface with no
// area, as while the window is minimized.
var ErrZeroExtent = errors.New("swapchain extent is zero")

const (
	PreferredFormat      = gpu.FormatB8G8R8A8UNorm
	PreferredPresentMode = gpu.PresentModeFIFO
	// Usage lets the engine blit into swapchain images.
	Usage = gpu.UsageColorAttachment | gpu.UsageTransferDst
)

// Device is the part of gpu.Device the manager needs.
type Device interface {
	CreateSwapchain(req gpu.SwapchainRequest) (gpu.Swapchain, error)
	Destroy(kind gpu.Kind, handle gpu.Handle)
}

type Manager struct {
	device Device
	log    *slog.Logger
	chain  gpu.Swapchain
}

func New(device Device, log *slog.Logger) *Manager {
	return &Manager{device: device, log: log}
}

// Create builds a chain sized to width x height. The backend may clamp the
// extent to what the surface supports; Chain reports the result.
func (m *Manager) Create(width, height int) error {
	if m.chain.Handle.Valid() {
		return errors.New("swapchain already created")
	}

	extent := gpu.Extent2D{Width: width, Height: height}
	if extent.Empty() {
		return errors.Wrapf(ErrZeroExtent, "requested %s", extent)
	}

	chain, err := m.device.CreateSwapchain(gpu.SwapchainRequest{
		Extent:      extent,
		Format:      PreferredFormat,
		PresentMode: PreferredPresentMode,
		Usage:       Usage,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}

	if len(chain.Views) != len(chain.Images) {
		m.chain = chain
		m.Destroy()
		return errors.Newf("swapchain has %d images but %d views", len(chain.Images), len(chain.Views))
	}

	m.chain = chain
	m.log.Debug("created swapchain", "extent", chain.Extent, "format", chain.Format, "images", len(chain.Images))
	return nil
}

// Destroy destroys every image view and then the chain. It does nothing if
// there is no chain.
func (m *Manager) Destroy() {
	if !m.chain.Handle.Valid() {
		return
	}

	for _, view := range m.chain.Views {
		m.device.Destroy(gpu.KindImageView, view)
	}
	m.device.Destroy(gpu.KindSwapchain, m.chain.Handle)
	m.chain = gpu.Swapchain{}
}

// Recreate replaces the chain with one sized to width x height. The caller
// must ensure the GPU no longer uses the old chain.
func (m *Manager) Recreate(width, height int) error {
	m.Destroy()
	return m.Create(width, height)
}

func (m *Manager) Chain() gpu.Swapchain {
	return m.chain
}
