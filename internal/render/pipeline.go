package render

import (
	"bytes"
	"embed"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:embed shaders
var shaderFS embed.FS

// Pipeline owns the graphics pipeline, its layout, and the pipeline cache
// behind it.
type Pipeline struct {
	device core1_0.Device
	log    logrus.FieldLogger

	layout    core1_0.PipelineLayout
	pipeline  core1_0.Pipeline
	cache     core1_0.PipelineCache
	cachePath string
}

// NewPipeline compiles the embedded shaders into the one graphics pipeline
// the program needs. Viewport and scissor are dynamic, so the pipeline
// survives swapchain rebuilds untouched. cachePath optionally persists the
// driver's pipeline cache across runs; an unusable cache file is discarded,
// never fatal.
func NewPipeline(device core1_0.Device, renderPass core1_0.RenderPass, caps *DeviceCaps, cachePath string, log logrus.FieldLogger) (*Pipeline, error) {
	p := &Pipeline{device: device, log: log, cachePath: cachePath}

	cache, _, err := device.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: loadCacheData(cachePath, caps, log),
	})
	if err != nil {
		return nil, setupErr(err, "creating pipeline cache")
	}
	p.cache = cache

	if err := p.createPipeline(renderPass); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) createPipeline(renderPass core1_0.RenderPass) error {
	vertBytes, err := shaderFS.ReadFile("shaders/vert.spv")
	if err != nil {
		return setupErr(err, "reading vertex shader")
	}
	vertShader, _, err := p.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(vertBytes),
	})
	if err != nil {
		return setupErr(err, "creating vertex shader module")
	}
	defer vertShader.Destroy(nil)

	fragBytes, err := shaderFS.ReadFile("shaders/frag.spv")
	if err != nil {
		return setupErr(err, "reading fragment shader")
	}
	fragShader, _, err := p.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(fragBytes),
	})
	if err != nil {
		return setupErr(err, "creating fragment shader module")
	}
	defer fragShader.Destroy(nil)

	layout, _, err := p.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{})
	if err != nil {
		return setupErr(err, "creating pipeline layout")
	}
	p.layout = layout

	pipelines, _, err := p.device.CreateGraphicsPipelines(p.cache, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: vertShader, Name: "main"},
				{Stage: core1_0.StageFragment, Module: fragShader, Name: "main"},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   vertexBindingDescriptions(),
				VertexAttributeDescriptions: vertexAttributeDescriptions(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: core1_0.PrimitiveTopologyTriangleList,
			},
			// Counts matter, contents are supplied at record time.
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: make([]core1_0.Viewport, 1),
				Scissors:  make([]core1_0.Rect2D, 1),
			},
			DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
				DynamicStates: []core1_0.DynamicState{
					core1_0.DynamicStateViewport,
					core1_0.DynamicStateScissor,
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeBack,
				FrontFace:   core1_0.FrontFaceClockwise,
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOp: core1_0.LogicOpCopy,
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			Layout:            layout,
			RenderPass:        renderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return setupErr(err, "creating graphics pipeline")
	}
	p.pipeline = pipelines[0]
	return nil
}

// Handle is the bindable pipeline.
func (p *Pipeline) Handle() core1_0.Pipeline {
	return p.pipeline
}

// SaveCache writes the populated pipeline cache to disk when a path is
// configured. Called at shutdown, after the last pipeline build.
func (p *Pipeline) SaveCache() error {
	if p.cachePath == "" || p.cache == nil {
		return nil
	}

	data, _, err := p.cache.CacheData()
	if err != nil {
		return errors.Wrap(err, "serializing pipeline cache")
	}
	if err := os.WriteFile(p.cachePath, data, 0666); err != nil {
		return errors.Wrap(err, "writing pipeline cache")
	}
	p.log.WithFields(logrus.Fields{
		"path":  p.cachePath,
		"bytes": len(data),
	}).Debug("pipeline cache saved")
	return nil
}

// Destroy releases the pipeline, its layout and the cache.
func (p *Pipeline) Destroy() {
	if p.pipeline != nil {
		p.pipeline.Destroy(nil)
		p.pipeline = nil
	}
	if p.layout != nil {
		p.layout.Destroy(nil)
		p.layout = nil
	}
	if p.cache != nil {
		p.cache.Destroy(nil)
		p.cache = nil
	}
}

// loadCacheData reads and validates a previously saved pipeline cache. Any
// mismatch, a different GPU or a garbled header, discards the file.
func loadCacheData(path string, caps *DeviceCaps, log logrus.FieldLogger) []byte {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithField("path", path).Debug("no pipeline cache on disk")
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("pipeline cache unreadable, starting cold")
		return nil
	}
	if err := validateCacheHeader(data, caps); err != nil {
		log.WithError(err).Warn("pipeline cache rejected, starting cold")
		return nil
	}

	log.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Debug("pipeline cache loaded")
	return data
}

// validateCacheHeader checks the standard cache header: length, version,
// vendor and device IDs, and the driver's cache UUID.
func validateCacheHeader(data []byte, caps *DeviceCaps) error {
	var (
		headerLength  uint32
		headerVersion common.PipelineCacheHeaderVersion
		vendorID      uint32
		deviceID      uint32
		cacheID       uuid.UUID
	)

	reader := bytes.NewReader(data)
	if err := binary.Read(reader, common.ByteOrder, &headerLength); err != nil {
		return errors.Wrap(err, "reading header length")
	}
	if err := binary.Read(reader, common.ByteOrder, &headerVersion); err != nil {
		return errors.Wrap(err, "reading header version")
	}
	if err := binary.Read(reader, common.ByteOrder, &vendorID); err != nil {
		return errors.Wrap(err, "reading vendor ID")
	}
	if err := binary.Read(reader, common.ByteOrder, &deviceID); err != nil {
		return errors.Wrap(err, "reading device ID")
	}
	if err := binary.Read(reader, common.ByteOrder, &cacheID); err != nil {
		return errors.Wrap(err, "reading cache UUID")
	}

	if headerLength == 0 {
		return errors.New("zero header length")
	}
	if headerVersion != common.PipelineCacheHeaderVersion1 {
		return errors.Newf("unsupported header version %#x", headerVersion)
	}
	if vendorID != caps.VendorID {
		return errors.Newf("cache vendor %#x, device vendor %#x", vendorID, caps.VendorID)
	}
	if deviceID != caps.DeviceID {
		return errors.Newf("cache device %#x, running on %#x", deviceID, caps.DeviceID)
	}
	if cacheID != caps.PipelineCacheID {
		return errors.Newf("cache UUID %s, driver reports %s", cacheID, caps.PipelineCacheID)
	}
	return nil
}

// bytesToBytecode repacks an embedded SPIR-V byte stream into the 32-bit
// words shader module creation expects.
func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	return byteCode
}
