// Package gputest provides an in-memory backend for testing code written
// against the gpu interfaces. Submitted work "executes" on a timer, so tests
// can observe the CPU racing ahead of a slow GPU.
package gputest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/frameloop/gpu"
)

// Candidate returns a physical device that meets gpu.DefaultRequirements.
func Candidate(index int, name string, typ gpu.DeviceType) gpu.Candidate {
	return gpu.Candidate{
		Index:          index,
		Name:           name,
		Type:           typ,
		APIVersion:     gpu.Version(1, 3, 250),
		VendorID:       0x10de,
		DeviceID:       0x2684 + uint32(index),
		Features:       gpu.AllFeatures,
		Extensions:     []string{gpu.ExtensionSwapchain},
		QueueFamily:    0,
		SurfaceSupport: true,
	}
}

// Instance is a fake gpu.Instance.
type Instance struct {
	Devices       []gpu.Candidate
	CandidatesErr error
	// Device is returned by CreateDevice. NewInstance sets it to a fresh
	// Device.
	Device          *Device
	CreateDeviceErr error

	mu               sync.Mutex
	deviceCreated    bool
	enabledFeatures  gpu.Features
	surfaceDestroyed bool
	destroyed        bool
}

func NewInstance(candidates ...gpu.Candidate) *Instance {
	return &Instance{
		Devices: candidates,
		Device:  NewDevice(),
	}
}

func (i *Instance) Candidates() ([]gpu.Candidate, error) {
	if i.CandidatesErr != nil {
		return nil, i.CandidatesErr
	}
	return append([]gpu.Candidate(nil), i.Devices...), nil
}

func (i *Instance) CreateDevice(c gpu.Candidate, features gpu.Features) (gpu.Device, error) {
	if i.CreateDeviceErr != nil {
		return nil, i.CreateDeviceErr
	}
	if !c.Features.Has(features) {
		return nil, errors.Newf("%s does not support %s", c.Name, features&^c.Features)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.deviceCreated = true
	i.enabledFeatures = features
	i.Device.queueFamily = c.QueueFamily
	return i.Device, nil
}

func (i *Instance) DestroySurface() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.surfaceDestroyed = true
}

func (i *Instance) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.surfaceDestroyed {
		i.Device.mu.Lock()
		i.Device.violate("instance destroyed before its surface")
		i.Device.mu.Unlock()
	}
	i.destroyed = true
}

func (i *Instance) DeviceCreated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deviceCreated
}

// EnabledFeatures is what the last CreateDevice call enabled.
func (i *Instance) EnabledFeatures() gpu.Features {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabledFeatures
}

func (i *Instance) SurfaceDestroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.surfaceDestroyed
}

func (i *Instance) Destroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}

type fenceState int

const (
	fenceUnsignaled fenceState = iota
	fencePending
	fenceSignaled
)

type fence struct {
	state fenceState
	done  chan struct{}
	// refs holds every object the fence's submission uses.
	refs map[gpu.Handle]bool
}

// Device is a fake gpu.Device. Its exported fields configure behavior and
// must be set before the device is used.
type Device struct {
	// Latency is how long each submission takes to execute.
	Latency time.Duration
	// SwapchainImages is the number of images in each swapchain. Defaults
	// to 3.
	SwapchainImages int
	// AcquireHook, when set, is called with the 1-based acquire count and
	// may inject an error such as gpu.ErrOutOfDate.
	AcquireHook func(n int) error
	// PresentHook is the same for presents.
	PresentHook func(n int) error
	// Fail injects an error into the named method, e.g. "CreateSwapchain".
	Fail map[string]error
	// CacheData is returned by PipelineCacheData.
	CacheData []byte

	mu          sync.Mutex
	queueFamily int
	next        gpu.Handle
	live        map[gpu.Handle]gpu.Kind
	created     map[gpu.Kind]int
	fences      map[gpu.Handle]*fence
	buffers     map[gpu.Handle]gpu.Handle
	bufferFence map[gpu.Handle]gpu.Handle
	recorded    map[gpu.Handle]map[gpu.Handle]bool
	// parts maps an image to the objects that go with it: its view and
	// allocation, or its owning swapchain.
	parts          map[gpu.Handle][]gpu.Handle
	swapchainViews map[gpu.Handle][]gpu.Handle
	setViews       map[gpu.Handle]gpu.Handle

	ops               []string
	violations        []string
	submits           int
	presents          int
	acquires          int
	imageIndex        int
	inFlight          int
	maxInFlight       int
	swapchainRequests []gpu.SwapchainRequest
	imageRequests     []gpu.ImageRequest
	initialCache      []byte
	closed            bool
}

func NewDevice() *Device {
	return &Device{
		SwapchainImages: 3,
		live:            make(map[gpu.Handle]gpu.Kind),
		created:         make(map[gpu.Kind]int),
		fences:          make(map[gpu.Handle]*fence),
		buffers:         make(map[gpu.Handle]gpu.Handle),
		bufferFence:     make(map[gpu.Handle]gpu.Handle),
		recorded:        make(map[gpu.Handle]map[gpu.Handle]bool),
		parts:           make(map[gpu.Handle][]gpu.Handle),
		swapchainViews:  make(map[gpu.Handle][]gpu.Handle),
		setViews:        make(map[gpu.Handle]gpu.Handle),
	}
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) log(format string, args ...any) {
	d.ops = append(d.ops, fmt.Sprintf(format, args...))
}

func (d *Device) fail(op string) error {
	if err := d.Fail[op]; err != nil {
		return errors.Wrapf(err, "%s", op)
	}
	return nil
}

func (d *Device) newHandle() gpu.Handle {
	d.next++
	return d.next
}

func (d *Device) create(kind gpu.Kind) gpu.Handle {
	h := d.newHandle()
	d.live[h] = kind
	d.created[kind]++
	d.log("create %s#%d", kind, h)
	return h
}

func (d *Device) isLive(h gpu.Handle, kind gpu.Kind) bool {
	k, ok := d.live[h]
	return ok && k == kind
}

func (d *Device) QueueFamily() int {
	return d.queueFamily
}

func (d *Device) CreateAllocator() (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateAllocator"); err != nil {
		return 0, err
	}
	return d.create(gpu.KindAllocator), nil
}

func (d *Device) CreateCommandPool() (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateCommandPool"); err != nil {
		return 0, err
	}
	return d.create(gpu.KindCommandPool), nil
}

func (d *Device) AllocateCommandBuffer(pool gpu.Handle) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("AllocateCommandBuffer"); err != nil {
		return 0, err
	}
	if !d.isLive(pool, gpu.KindCommandPool) {
		return 0, errors.Newf("allocate from unknown command pool #%d", pool)
	}
	h := d.newHandle()
	d.buffers[h] = pool
	d.log("allocate CommandBuffer#%d", h)
	return h, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateFence"); err != nil {
		return 0, err
	}
	h := d.create(gpu.KindFence)
	f := &fence{state: fenceUnsignaled, done: make(chan struct{})}
	if signaled {
		f.state = fenceSignaled
		close(f.done)
	}
	d.fences[h] = f
	return h, nil
}

func (d *Device) CreateSemaphore() (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSemaphore"); err != nil {
		return 0, err
	}
	return d.create(gpu.KindSemaphore), nil
}

func (d *Device) WaitForFence(h gpu.Handle, timeout time.Duration) error {
	d.mu.Lock()
	f, ok := d.fences[h]
	if !ok {
		d.mu.Unlock()
		return errors.Newf("wait on unknown fence #%d", h)
	}
	done := f.done
	d.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.Wrapf(gpu.ErrTimeout, "fence #%d", h)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("wait Fence#%d", h)
	return nil
}

func (d *Device) ResetFence(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return errors.Newf("reset of unknown fence #%d", h)
	}
	if f.state == fencePending {
		d.violate("reset of in-flight Fence#%d", h)
	}
	f.state = fenceUnsignaled
	f.done = make(chan struct{})
	d.log("reset Fence#%d", h)
	return nil
}

func (d *Device) CreateSwapchain(req gpu.SwapchainRequest) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSwapchain"); err != nil {
		return gpu.Swapchain{}, err
	}
	if req.Extent.Empty() {
		return gpu.Swapchain{}, errors.Newf("swapchain extent %s", req.Extent)
	}
	d.swapchainRequests = append(d.swapchainRequests, req)

	sc := gpu.Swapchain{
		Handle: d.create(gpu.KindSwapchain),
		Format: req.Format,
		Extent: req.Extent,
	}
	for i := 0; i < d.SwapchainImages; i++ {
		img := d.newHandle()
		view := d.create(gpu.KindImageView)
		d.parts[img] = []gpu.Handle{view, sc.Handle}
		sc.Images = append(sc.Images, img)
		sc.Views = append(sc.Views, view)
	}
	d.swapchainViews[sc.Handle] = append([]gpu.Handle(nil), sc.Views...)
	return sc, nil
}

func (d *Device) AcquireNextImage(swapchain gpu.Handle, timeout time.Duration, signal gpu.Handle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(swapchain, gpu.KindSwapchain) {
		return -1, errors.Newf("acquire from unknown swapchain #%d", swapchain)
	}
	if !d.isLive(signal, gpu.KindSemaphore) {
		return -1, errors.Newf("acquire signaling unknown semaphore #%d", signal)
	}

	d.acquires++
	if d.AcquireHook != nil {
		if err := d.AcquireHook(d.acquires); err != nil {
			return -1, err
		}
	}

	index := d.imageIndex % d.SwapchainImages
	d.imageIndex++
	d.log("acquire Swapchain#%d image %d", swapchain, index)
	return index, nil
}

func (d *Device) CreateImage(req gpu.ImageRequest) (gpu.AllocatedImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateImage"); err != nil {
		return gpu.AllocatedImage{}, err
	}
	if !d.isLive(req.Allocator, gpu.KindAllocator) {
		return gpu.AllocatedImage{}, errors.Newf("create image with unknown allocator #%d", req.Allocator)
	}
	d.imageRequests = append(d.imageRequests, req)

	img := gpu.AllocatedImage{
		Allocation: d.create(gpu.KindAllocation),
		Image:      d.create(gpu.KindImage),
		View:       d.create(gpu.KindImageView),
		Extent:     req.Extent,
		Format:     req.Format,
	}
	d.parts[img.Image] = []gpu.Handle{img.View, img.Allocation}
	return img, nil
}

func (d *Device) CreatePipelineCache(initialData []byte) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreatePipelineCache"); err != nil {
		return 0, err
	}
	d.initialCache = append([]byte(nil), initialData...)
	return d.create(gpu.KindPipelineCache), nil
}

func (d *Device) PipelineCacheData(cache gpu.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(cache, gpu.KindPipelineCache) {
		return nil, errors.Newf("read unknown pipeline cache #%d", cache)
	}
	return append([]byte(nil), d.CacheData...), nil
}

func (d *Device) CreateComputePipeline(req gpu.ComputePipelineRequest) (gpu.ComputePipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateComputePipeline"); err != nil {
		return gpu.ComputePipeline{}, err
	}
	if _, err := gpu.ParseSPIRV(req.Shader); err != nil {
		return gpu.ComputePipeline{}, err
	}
	if req.Cache.Valid() && !d.isLive(req.Cache, gpu.KindPipelineCache) {
		return gpu.ComputePipeline{}, errors.Newf("unknown pipeline cache #%d", req.Cache)
	}

	p := gpu.ComputePipeline{
		DescriptorSetLayout: d.create(gpu.KindDescriptorSetLayout),
		DescriptorPool:      d.create(gpu.KindDescriptorPool),
		Layout:              d.create(gpu.KindPipelineLayout),
		Pipeline:            d.create(gpu.KindPipeline),
		PushConstantSize:    req.PushConstantSize,
	}
	p.DescriptorSet = d.newHandle()
	d.parts[p.DescriptorSet] = []gpu.Handle{p.DescriptorPool}
	if req.StorageImage.Valid() {
		d.setViews[p.DescriptorSet] = req.StorageImage
	}
	return p, nil
}

func (d *Device) BindStorageImage(set gpu.Handle, view gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(view, gpu.KindImageView) {
		return errors.Newf("bind unknown image view #%d", view)
	}
	for _, f := range d.fences {
		if f.state == fencePending && f.refs[set] {
			d.violate("descriptor set #%d updated while in use by the GPU", set)
		}
	}
	d.setViews[set] = view
	d.log("bind Set#%d View#%d", set, view)
	return nil
}

type recorder struct {
	d    *Device
	refs map[gpu.Handle]bool
}

func (r *recorder) use(handles ...gpu.Handle) {
	for _, h := range handles {
		r.refs[h] = true
		for _, part := range r.d.parts[h] {
			r.refs[part] = true
		}
	}
}

func (r *recorder) TransitionImage(image gpu.Handle, from, to gpu.Layout) error {
	r.use(image)
	r.d.log("transition #%d %s->%s", image, from, to)
	return nil
}

func (r *recorder) Dispatch(p gpu.ComputePipeline, pushConstants []byte, groupsX, groupsY int) error {
	if len(pushConstants) != p.PushConstantSize {
		return errors.Newf("push constants are %d bytes, pipeline expects %d", len(pushConstants), p.PushConstantSize)
	}
	r.use(p.Pipeline, p.Layout, p.DescriptorSet)
	if view, ok := r.d.setViews[p.DescriptorSet]; ok {
		r.use(view)
	}
	r.d.log("dispatch Pipeline#%d %dx%d", p.Pipeline, groupsX, groupsY)
	return nil
}

func (r *recorder) BlitImage(src, dst gpu.Handle, srcExtent, dstExtent gpu.Extent2D) error {
	r.use(src, dst)
	r.d.log("blit #%d %s -> #%d %s", src, srcExtent, dst, dstExtent)
	return nil
}

func (d *Device) Record(cmd gpu.Handle, record func(gpu.Recorder) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool, ok := d.buffers[cmd]
	if !ok {
		return errors.Newf("record into unknown command buffer #%d", cmd)
	}
	if f, ok := d.fences[d.bufferFence[cmd]]; ok && f.state == fencePending {
		d.violate("CommandBuffer#%d recorded while in flight", cmd)
	}
	d.log("begin CommandBuffer#%d", cmd)

	r := &recorder{d: d, refs: map[gpu.Handle]bool{cmd: true, pool: true}}
	if err := record(r); err != nil {
		return err
	}

	d.recorded[cmd] = r.refs
	d.log("end CommandBuffer#%d", cmd)
	return nil
}

func (d *Device) Submit(s gpu.Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("Submit"); err != nil {
		return err
	}

	refs, ok := d.recorded[s.CommandBuffer]
	if !ok {
		return errors.Newf("submit of unrecorded command buffer #%d", s.CommandBuffer)
	}
	delete(d.recorded, s.CommandBuffer)

	f, ok := d.fences[s.Fence]
	if !ok {
		return errors.Newf("submit with unknown fence #%d", s.Fence)
	}
	if f.state != fenceUnsignaled {
		d.violate("Fence#%d submitted while not reset", s.Fence)
	}

	f.state = fencePending
	f.refs = refs
	f.refs[s.Wait] = true
	f.refs[s.Signal] = true
	f.refs[s.Fence] = true
	d.bufferFence[s.CommandBuffer] = s.Fence
	d.submits++
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	d.log("submit CommandBuffer#%d Fence#%d", s.CommandBuffer, s.Fence)

	done := f.done
	if d.Latency <= 0 {
		d.signal(f, done)
		return nil
	}
	time.AfterFunc(d.Latency, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.signal(f, done)
	})
	return nil
}

func (d *Device) signal(f *fence, done chan struct{}) {
	if f.done != done || f.state != fencePending {
		return
	}
	f.state = fenceSignaled
	f.refs = nil
	d.inFlight--
	close(done)
}

func (d *Device) Present(p gpu.Presentation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(p.Swapchain, gpu.KindSwapchain) {
		return errors.Newf("present to unknown swapchain #%d", p.Swapchain)
	}

	d.presents++
	d.log("present Swapchain#%d image %d", p.Swapchain, p.ImageIndex)
	if d.PresentHook != nil {
		return d.PresentHook(d.presents)
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	var pending []chan struct{}
	for _, f := range d.fences {
		if f.state == fencePending {
			pending = append(pending, f.done)
		}
	}
	d.mu.Unlock()

	for _, done := range pending {
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("wait idle")
	return nil
}

func (d *Device) Destroy(kind gpu.Kind, h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isLive(h, kind) {
		d.violate("destroy of unknown %s#%d", kind, h)
		return
	}
	for fh, f := range d.fences {
		if f.state == fencePending && f.refs[h] {
			d.violate("%s#%d destroyed while Fence#%d is pending", kind, h, fh)
		}
	}

	switch kind {
	case gpu.KindSwapchain:
		for _, view := range d.swapchainViews[h] {
			if _, ok := d.live[view]; ok {
				d.violate("Swapchain#%d destroyed before ImageView#%d", h, view)
			}
		}
		delete(d.swapchainViews, h)
	case gpu.KindFence:
		delete(d.fences, h)
	case gpu.KindCommandPool:
		for buf, pool := range d.buffers {
			if pool == h {
				delete(d.buffers, buf)
			}
		}
	}

	delete(d.live, h)
	d.log("destroy %s#%d", kind, h)
}

func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.live) > 0 {
		d.violate("device closed with %d live objects: %v", len(d.live), d.liveNames())
	}
	d.closed = true
	d.log("close device")
}

func (d *Device) liveNames() []string {
	names := make([]string, 0, len(d.live))
	for h, kind := range d.live {
		names = append(names, fmt.Sprintf("%s#%d", kind, h))
	}
	sort.Strings(names)
	return names
}

// Ops returns the log of device operations in the order they happened.
func (d *Device) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// Violations returns every misuse of the device seen so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live returns the number of live objects of kind.
func (d *Device) Live(kind gpu.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, k := range d.live {
		if k == kind {
			n++
		}
	}
	return n
}

func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Created returns the number of objects of kind ever created.
func (d *Device) Created(kind gpu.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

func (d *Device) Acquires() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires
}

// MaxInFlight returns the largest number of submissions that were executing
// at the same time.
func (d *Device) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *Device) SwapchainRequests() []gpu.SwapchainRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.SwapchainRequest(nil), d.swapchainRequests...)
}

func (d *Device) ImageRequests() []gpu.ImageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.ImageRequest(nil), d.imageRequests...)
}

// InitialCacheData returns the data the last pipeline cache was created
// with.
func (d *Device) InitialCacheData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialCache
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
