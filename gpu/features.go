package gpu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// APIVersion is a packed Vulkan API version (variant bits ignored).
type APIVersion uint32

func Version(major, minor, patch int) APIVersion {
	return APIVersion(uint32(major)<<22 | uint32(minor)<<12 | uint32(patch))
}

func (v APIVersion) Major() int { return int(uint32(v)>>22) & 0x7f }
func (v APIVersion) Minor() int { return int(uint32(v)>>12) & 0x3ff }
func (v APIVersion) Patch() int { return int(uint32(v)) & 0xfff }

func (v APIVersion) AtLeast(other APIVersion) bool {
	if v.Major() != other.Major() {
		return v.Major() > other.Major()
	}
	if v.Minor() != other.Minor() {
		return v.Minor() > other.Minor()
	}
	return v.Patch() >= other.Patch()
}

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// ParseAPIVersion accepts "major.minor" or "major.minor.patch".
func ParseAPIVersion(s string) (APIVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Newf("invalid API version %q", s)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, errors.Newf("invalid API version %q", s)
		}
		nums[i] = n
	}

	return Version(nums[0], nums[1], nums[2]), nil
}

// Features is the set of device capabilities the engine negotiates for.
type Features uint32

const (
	FeatureDynamicRendering Features = 1 << iota
	FeatureSynchronization2
	FeatureDescriptorIndexing
	FeatureBufferDeviceAddress
)

var featureNames = []struct {
	feature Features
	name    string
}{
	{FeatureDynamicRendering, "dynamicRendering"},
	{FeatureSynchronization2, "synchronization2"},
	{FeatureDescriptorIndexing, "descriptorIndexing"},
	{FeatureBufferDeviceAddress, "bufferDeviceAddress"},
}

func (f Features) Has(required Features) bool {
	return f&required == required
}

func (f Features) String() string {
	if f == 0 {
		return "none"
	}

	var names []string
	for _, entry := range featureNames {
		if f&entry.feature != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// AllFeatures is every feature the engine knows how to negotiate.
const AllFeatures = FeatureDynamicRendering | FeatureSynchronization2 |
	FeatureDescriptorIndexing | FeatureBufferDeviceAddress

const ExtensionSwapchain = "VK_KHR_swapchain"

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegrated
	DeviceTypeDiscrete
	DeviceTypeVirtual
	DeviceTypeCPU
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypeOther:      "other",
	DeviceTypeIntegrated: "integrated",
	DeviceTypeDiscrete:   "discrete",
	DeviceTypeVirtual:    "virtual",
	DeviceTypeCPU:        "cpu",
}

func (t DeviceType) String() string {
	name, ok := deviceTypeNames[t]
	if !ok {
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
	return name
}

func (t DeviceType) rank() int {
	switch t {
	case DeviceTypeDiscrete:
		return 4
	case DeviceTypeIntegrated:
		return 3
	case DeviceTypeVirtual:
		return 2
	case DeviceTypeCPU:
		return 1
	default:
		return 0
	}
}

// Candidate describes one physical device as seen through a particular
// presentation surface.
type Candidate struct {
	Index             int
	Name              string
	Type              DeviceType
	APIVersion        APIVersion
	VendorID          uint32
	DeviceID          uint32
	PipelineCacheUUID uuid.UUID
	// Features reports what the device supports, as queried from it.
	Features          Features
	Extensions        []string
	// QueueFamily supports graphics, compute and presentation to the surface.
	// It is -1 when no such family exists.
	QueueFamily int
	// SurfaceSupport is false when the surface reports no formats or present
	// modes for this device.
	SurfaceSupport bool
}

type Requirements struct {
	MinAPIVersion APIVersion
	Features      Features
	Extensions    []string
}

func DefaultRequirements() Requirements {
	return Requirements{
		MinAPIVersion: Version(1, 3, 0),
		Features:      AllFeatures,
		Extensions:    []string{ExtensionSwapchain},
	}
}

// Reject returns why c does not satisfy r, or nil.
func (r Requirements) Reject(c Candidate) error {
	if !c.APIVersion.AtLeast(r.MinAPIVersion) {
		return errors.Newf("API version %s below required %s", c.APIVersion, r.MinAPIVersion)
	}
	if !c.Features.Has(r.Features) {
		return errors.Newf("missing features %s", r.Features&^c.Features)
	}

	has := make(map[string]bool, len(c.Extensions))
	for _, ext := range c.Extensions {
		has[ext] = true
	}
	for _, ext := range r.Extensions {
		if !has[ext] {
			return errors.Newf("missing extension %s", ext)
		}
	}

	if c.QueueFamily < 0 {
		return errors.New("no queue family supports graphics, compute and present")
	}
	if !c.SurfaceSupport {
		return errors.New("surface reports no formats or present modes")
	}
	return nil
}

// SelectDevice returns the position in candidates of the device to use. Among
// the devices meeting r it prefers discrete over integrated over virtual over
// CPU devices; ties go to the earliest enumerated device.
func SelectDevice(candidates []Candidate, r Requirements) (int, error) {
	var suitable []int
	var reasons []string
	for i, c := range candidates {
		if err := r.Reject(c); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", c.Name, err))
			continue
		}
		suitable = append(suitable, i)
	}

	if len(suitable) == 0 {
		if len(reasons) == 0 {
			return -1, errors.Wrap(ErrNoSuitableDevice, "no physical devices found")
		}
		return -1, errors.Wrapf(ErrNoSuitableDevice, "%d device(s) rejected: %s", len(candidates), strings.Join(reasons, "; "))
	}

	sort.SliceStable(suitable, func(a, b int) bool {
		return candidates[suitable[a]].Type.rank() > candidates[suitable[b]].Type.rank()
	})
	return suitable[0], nil
}
