package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/frameloop/deletion"
	"github.com/vkngwrapper/frameloop/gpu"
)

// storageImageBinding is where compute shaders find the image they write.
const storageImageBinding = 0

func (d *Device) CreatePipelineCache(initialData []byte) (gpu.Handle, error) {
	cache, res, err := d.driver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initialData,
	})
	if err != nil {
		return 0, gpu.Check("vkCreatePipelineCache", res, err)
	}
	return d.objects.add(cache), nil
}

func (d *Device) PipelineCacheData(cacheHandle gpu.Handle) ([]byte, error) {
	cache, err := lookup[core1_0.PipelineCache](d.objects, cacheHandle)
	if err != nil {
		return nil, err
	}

	data, res, err := d.driver.GetPipelineCacheData(cache)
	if err != nil {
		return nil, gpu.Check("vkGetPipelineCacheData", res, err)
	}
	return data, nil
}

// CreateComputePipeline builds a compute pipeline whose only descriptor set
// holds one storage image, plus a push constant range of the requested size.
// The shader module is destroyed once the pipeline exists.
func (d *Device) CreateComputePipeline(req gpu.ComputePipelineRequest) (p gpu.ComputePipeline, err error) {
	code, err := gpu.ParseSPIRV(req.Shader)
	if err != nil {
		return gpu.ComputePipeline{}, err
	}

	var cache core1_0.PipelineCache
	if req.Cache.Valid() {
		cache, err = lookup[core1_0.PipelineCache](d.objects, req.Cache)
		if err != nil {
			return gpu.ComputePipeline{}, err
		}
	}

	var created []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			created[i]()
		}
	}()

	setLayout, res, err := d.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         storageImageBinding,
				DescriptorType:  core1_0.DescriptorTypeStorageImage,
				DescriptorCount: 1,

				StageFlags: core1_0.StageCompute,
			},
		},
	})
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkCreateDescriptorSetLayout", res, err)
	}
	created = append(created, func() { d.driver.DestroyDescriptorSetLayout(setLayout, nil) })

	layoutInfo := core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{setLayout},
	}
	if req.PushConstantSize > 0 {
		layoutInfo.PushConstantRanges = []core1_0.PushConstantRange{
			{
				Stages: core1_0.StageCompute,
				Offset: 0,
				Size:   req.PushConstantSize,
			},
		}
	}
	pipelineLayout, res, err := d.driver.CreatePipelineLayout(nil, layoutInfo)
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkCreatePipelineLayout", res, err)
	}
	created = append(created, func() { d.driver.DestroyPipelineLayout(pipelineLayout, nil) })

	shader, res, err := d.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkCreateShaderModule", res, err)
	}
	defer d.driver.DestroyShaderModule(shader, nil)

	var cachePtr *core1_0.PipelineCache
	if cache.Initialized() {
		cachePtr = &cache
	}
	pipelines, res, err := d.driver.CreateComputePipelines(cachePtr, nil,
		core1_0.ComputePipelineCreateInfo{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: shader,
				Name:   "main",
			},
			Layout:            pipelineLayout,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkCreateComputePipelines", res, err)
	}
	pipeline := pipelines[0]
	created = append(created, func() { d.driver.DestroyPipeline(pipeline, nil) })

	pool, res, err := d.driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeStorageImage,
				DescriptorCount: 1,
			},
		},
	})
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkCreateDescriptorPool", res, err)
	}
	created = append(created, func() { d.driver.DestroyDescriptorPool(pool, nil) })

	sets, res, err := d.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{setLayout},
	})
	if err != nil {
		return gpu.ComputePipeline{}, gpu.Check("vkAllocateDescriptorSets", res, err)
	}

	// From here on the objects are destroyed through their handles.
	created = nil
	poolHandle := d.objects.add(pool)
	p = gpu.ComputePipeline{
		Pipeline:            d.objects.add(pipeline),
		Layout:              d.objects.add(pipelineLayout),
		DescriptorSetLayout: d.objects.add(setLayout),
		DescriptorPool:      poolHandle,
		DescriptorSet:       d.objects.addChild(poolHandle, sets[0]),
		PushConstantSize:    req.PushConstantSize,
	}

	if req.StorageImage.Valid() {
		if err := d.BindStorageImage(p.DescriptorSet, req.StorageImage); err != nil {
			var q deletion.Queue
			p.Release(&q)
			q.Flush(d)
			return gpu.ComputePipeline{}, errors.Wrap(err, "bind storage image")
		}
	}

	return p, nil
}

func (d *Device) BindStorageImage(setHandle gpu.Handle, viewHandle gpu.Handle) error {
	set, err := lookup[core1_0.DescriptorSet](d.objects, setHandle)
	if err != nil {
		return err
	}
	view, err := lookup[core1_0.ImageView](d.objects, viewHandle)
	if err != nil {
		return err
	}

	err = d.driver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          set,
			DstBinding:      storageImageBinding,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeStorageImage,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   view,
					ImageLayout: core1_0.ImageLayoutGeneral,
				},
			},
		},
	}, nil)
	return gpu.Check("vkUpdateDescriptorSets", "", err)
}
