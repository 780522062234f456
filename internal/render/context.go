package render

import (
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// frameSlot is one of the fixed set of in-flight frame records. Each slot
// owns its own command buffer and synchronization trio so recording for one
// frame never waits on the other still moving through the GPU.
type frameSlot struct {
	commands       core1_0.CommandBuffer
	imageAvailable core1_0.Semaphore
	renderFinished core1_0.Semaphore
	inFlight       core1_0.Fence
}

// renderContext is the device-backed FrameContext. It owns the command pool,
// the per-slot records, and the recording of the triangle draw; the swapchain
// manager, pipeline and vertex buffer are shared collaborators owned by App.
type renderContext struct {
	device    *Device
	swapchain *SwapchainManager
	pipeline  *Pipeline
	vertices  *VertexBuffer
	window    *Window
	log       logrus.FieldLogger

	renderPass core1_0.RenderPass
	pool       core1_0.CommandPool
	slots      [MaxFramesInFlight]frameSlot
}

// newRenderContext builds the per-slot resources: a resettable command pool
// on the graphics family, one primary command buffer per slot, and the slot's
// semaphores and fence. Fences start signaled so the first wait on each slot
// falls through.
func newRenderContext(device *Device, swapchain *SwapchainManager, renderPass core1_0.RenderPass, pipeline *Pipeline, vertices *VertexBuffer, window *Window, graphicsFamily int, log logrus.FieldLogger) (*renderContext, error) {
	ctx := &renderContext{
		device:     device,
		swapchain:  swapchain,
		pipeline:   pipeline,
		vertices:   vertices,
		window:     window,
		log:        log,
		renderPass: renderPass,
	}

	pool, _, err := device.Handle.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: graphicsFamily,
		Flags:            core1_0.CommandPoolCreateResetBuffer,
	})
	if err != nil {
		return nil, setupErr(err, "creating command pool")
	}
	ctx.pool = pool

	buffers, _, err := device.Handle.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: MaxFramesInFlight,
	})
	if err != nil {
		ctx.Destroy()
		return nil, setupErr(err, "allocating command buffers")
	}

	for i := range ctx.slots {
		slot := &ctx.slots[i]
		slot.commands = buffers[i]

		slot.imageAvailable, _, err = device.Handle.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			ctx.Destroy()
			return nil, setupErr(err, "creating acquire semaphore for slot %d", i)
		}
		slot.renderFinished, _, err = device.Handle.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			ctx.Destroy()
			return nil, setupErr(err, "creating render semaphore for slot %d", i)
		}
		slot.inFlight, _, err = device.Handle.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			ctx.Destroy()
			return nil, setupErr(err, "creating fence for slot %d", i)
		}
	}

	return ctx, nil
}

func (c *renderContext) WaitSlotFence(slot int) error {
	_, err := c.device.Handle.WaitForFences(true, common.NoTimeout, []core1_0.Fence{c.slots[slot].inFlight})
	return err
}

func (c *renderContext) ResetSlotFence(slot int) error {
	_, err := c.device.Handle.ResetFences([]core1_0.Fence{c.slots[slot].inFlight})
	return err
}

func (c *renderContext) AcquireImage(slot int) (int, bool, error) {
	imageIndex, res, err := c.swapchain.Swapchain().AcquireNextImage(common.NoTimeout, c.slots[slot].imageAvailable, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	// A suboptimal acquire still delivered a usable image; presentation
	// reports the mismatch again and triggers the rebuild after the frame.
	return imageIndex, false, nil
}

func (c *renderContext) RecordCommands(slot, imageIndex int, extent core1_0.Extent2D) error {
	buffer := c.slots[slot].commands

	if _, err := buffer.Reset(0); err != nil {
		return err
	}
	if _, err := buffer.Begin(core1_0.CommandBufferBeginInfo{}); err != nil {
		return err
	}

	err := buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  c.renderPass,
			Framebuffer: c.swapchain.Framebuffer(imageIndex),
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
			},
		})
	if err != nil {
		return err
	}

	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, c.pipeline.Handle())
	// Viewport and scissor are dynamic so the pipeline survives rebuilds.
	buffer.CmdSetViewport([]core1_0.Viewport{
		{
			X: 0, Y: 0,
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		},
	})
	buffer.CmdSetScissor([]core1_0.Rect2D{
		{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
	})
	buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{c.vertices.Buffer}, []int{0})
	buffer.CmdDraw(c.vertices.VertexCount(), 1, 0, 0)
	buffer.CmdEndRenderPass()

	_, err = buffer.End()
	return err
}

func (c *renderContext) Submit(slot int) error {
	_, err := c.device.GraphicsQueue.Submit(c.slots[slot].inFlight, []core1_0.SubmitInfo{
		{
			WaitSemaphores:   []core1_0.Semaphore{c.slots[slot].imageAvailable},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{c.slots[slot].commands},
			SignalSemaphores: []core1_0.Semaphore{c.slots[slot].renderFinished},
		},
	})
	return err
}

func (c *renderContext) PresentImage(slot, imageIndex int) (bool, error) {
	res, err := c.swapchain.Extension().QueuePresent(c.device.PresentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{c.slots[slot].renderFinished},
		Swapchains:     []khr_swapchain.Swapchain{c.swapchain.Swapchain()},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (c *renderContext) Extent() core1_0.Extent2D {
	return c.swapchain.Extent()
}

func (c *renderContext) RebuildSwapchain() (bool, error) {
	width, height := c.window.DrawableExtent()
	return c.swapchain.Recreate(width, height)
}

func (c *renderContext) WaitDeviceIdle() error {
	_, err := c.device.Handle.WaitIdle()
	return err
}

// Destroy releases the per-slot sync objects and the command pool. Command
// buffers are freed with the pool. Callers drain the device first.
func (c *renderContext) Destroy() {
	for i := range c.slots {
		slot := &c.slots[i]
		if slot.imageAvailable != nil {
			slot.imageAvailable.Destroy(nil)
			slot.imageAvailable = nil
		}
		if slot.renderFinished != nil {
			slot.renderFinished.Destroy(nil)
			slot.renderFinished = nil
		}
		if slot.inFlight != nil {
			slot.inFlight.Destroy(nil)
			slot.inFlight = nil
		}
	}
	if c.pool != nil {
		c.pool.Destroy(nil)
		c.pool = nil
	}
}
