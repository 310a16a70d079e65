package gpu

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Context is the logical device the engine renders with, the physical device
// it was opened on and the allocator that owns device memory.
type Context struct {
	Device         Device
	PhysicalDevice Candidate
	QueueFamily    int
	Allocator      Handle
}

// Bootstrap selects a physical device meeting req and opens it. No device
// object exists when it returns an error.
func Bootstrap(instance Instance, req Requirements, log *slog.Logger) (*Context, error) {
	candidates, err := instance.Candidates()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	for _, c := range candidates {
		log.Debug("physical device",
			"index", c.Index,
			"name", c.Name,
			"type", c.Type,
			"api", c.APIVersion,
			"features", c.Features,
			"queueFamily", c.QueueFamily,
		)
	}

	selected, err := SelectDevice(candidates, req)
	if err != nil {
		return nil, err
	}
	physical := candidates[selected]
	log.Info("selected GPU", "name", physical.Name, "type", physical.Type, "api", physical.APIVersion)

	device, err := instance.CreateDevice(physical, req.Features)
	if err != nil {
		return nil, errors.Wrapf(err, "create device on %s", physical.Name)
	}

	allocator, err := device.CreateAllocator()
	if err != nil {
		device.Close()
		return nil, errors.Wrap(err, "create allocator")
	}

	return &Context{
		Device:         device,
		PhysicalDevice: physical,
		QueueFamily:    device.QueueFamily(),
		Allocator:      allocator,
	}, nil
}

// Destroy closes the logical device. The allocator and every other device
// object must already have been destroyed.
func (c *Context) Destroy() {
	if c.Device == nil {
		return
	}
	c.Device.Close()
	c.Device = nil
}
