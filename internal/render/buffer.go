package render

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	vkngmath "github.com/vkngwrapper/math"
)

// Vertex matches the vertex shader's input layout: a 2D position and an RGB
// color, tightly packed.
type Vertex struct {
	Position vkngmath.Vec2[float32]
	Color    vkngmath.Vec3[float32]
}

func vertexBindingDescriptions() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
	}
}

// triangleVertices is the only geometry in the program: one corner each of
// red, green and blue, blending across the face.
var triangleVertices = []Vertex{
	{Position: vkngmath.Vec2[float32]{X: 0.0, Y: -0.5}, Color: vkngmath.Vec3[float32]{X: 1, Y: 0, Z: 0}},
	{Position: vkngmath.Vec2[float32]{X: 0.5, Y: 0.5}, Color: vkngmath.Vec3[float32]{X: 0, Y: 1, Z: 0}},
	{Position: vkngmath.Vec2[float32]{X: -0.5, Y: 0.5}, Color: vkngmath.Vec3[float32]{X: 0, Y: 0, Z: 1}},
}

// VertexBuffer owns the device buffer holding the triangle.
type VertexBuffer struct {
	Buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	count  int
}

// NewVertexBuffer uploads the triangle into a host-visible buffer. Three
// vertices do not justify a staging copy into device-local memory.
func NewVertexBuffer(physical core1_0.PhysicalDevice, device core1_0.Device) (*VertexBuffer, error) {
	size := binary.Size(triangleVertices)

	buffer, _, err := device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       core1_0.BufferUsageVertexBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, setupErr(err, "creating vertex buffer")
	}

	requirements := buffer.MemoryRequirements()
	memoryType, err := findMemoryType(physical, requirements.MemoryTypeBits,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	memory, _, err := device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	})
	if err != nil {
		buffer.Destroy(nil)
		return nil, setupErr(err, "allocating vertex buffer memory")
	}

	vb := &VertexBuffer{Buffer: buffer, memory: memory, count: len(triangleVertices)}
	if _, err := buffer.BindBufferMemory(memory, 0); err != nil {
		vb.Destroy()
		return nil, setupErr(err, "binding vertex buffer memory")
	}
	if err := writeMemory(memory, 0, triangleVertices); err != nil {
		vb.Destroy()
		return nil, setupErr(err, "uploading vertices")
	}
	return vb, nil
}

// VertexCount is the count the draw call issues.
func (b *VertexBuffer) VertexCount() int {
	return b.count
}

// Destroy releases the buffer and its backing memory.
func (b *VertexBuffer) Destroy() {
	if b.Buffer != nil {
		b.Buffer.Destroy(nil)
		b.Buffer = nil
	}
	if b.memory != nil {
		b.memory.Free(nil)
		b.memory = nil
	}
}

// findMemoryType picks the first memory type allowed by the requirement bits
// that carries every requested property.
func findMemoryType(physical core1_0.PhysicalDevice, typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memoryProperties := physical.MemoryProperties()
	for i, memoryType := range memoryProperties.MemoryTypes {
		typeBit := uint32(1 << i)
		if typeFilter&typeBit != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, setupErrf("no memory type matches filter %#x with properties %#x", typeFilter, properties)
}

// writeMemory maps a host-visible allocation and copies data into it.
func writeMemory(memory core1_0.DeviceMemory, offset int, data any) error {
	size := binary.Size(data)

	ptr, _, err := memory.Map(offset, size, 0)
	if err != nil {
		return errors.Wrap(err, "mapping device memory")
	}
	defer memory.Unmap()

	raw := unsafe.Slice((*byte)(ptr), size)
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, data); err != nil {
		return errors.Wrap(err, "encoding vertex data")
	}
	copy(raw, buf.Bytes())
	return nil
}
