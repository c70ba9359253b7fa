package pipeline

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/enigma-engine/enigma-go/engine/command"
)

// WGPUExecutor is the WebGPU-backed GPU executor. It owns the instance,
// adapter, device and surface, and encodes the dispatch loop's draws onto the
// current frame's render pass.
//
// Frame discipline mirrors the pipeline's: BeginFrame acquires the swapchain
// texture and opens a render pass, the pipeline drains buckets through the
// command.Executor methods, EndFrame submits the encoded work, Present flips.
type WGPUExecutor interface {
	command.Executor

	// Device returns the WebGPU device.
	Device() *wgpu.Device

	// Queue returns the WebGPU submission queue.
	Queue() *wgpu.Queue

	// SurfaceFormat returns the configured swapchain format. Only meaningful
	// after ConfigureSurface.
	SurfaceFormat() wgpu.TextureFormat

	// ConfigureSurface (re)configures the swapchain and depth texture for the
	// given pixel size. Must be called before the first frame and on resize.
	//
	// Parameters:
	//   - width: surface width in pixels
	//   - height: surface height in pixels
	//
	// Returns:
	//   - error: an error if the depth texture cannot be created
	ConfigureSurface(width, height int) error

	// SetRenderPipeline sets the render pipeline bound at BeginFrame. Draws
	// are silently dropped while no pipeline is set, since an unbound pass
	// would fail GPU validation.
	SetRenderPipeline(p *wgpu.RenderPipeline)

	// SetVertexBuffer sets the vertex buffer bound at BeginFrame (slot 0).
	SetVertexBuffer(buf *wgpu.Buffer)

	// SetIndexBuffer sets the uint32 index buffer bound at BeginFrame.
	// Indexed draws are dropped while no index buffer is set.
	SetIndexBuffer(buf *wgpu.Buffer)

	// BeginFrame acquires the next swapchain texture and opens the frame's
	// render pass.
	//
	// Returns:
	//   - error: an error if the previous frame was not presented or the
	//     surface texture cannot be acquired
	BeginFrame() error

	// EndFrame closes the render pass and submits the command buffer.
	EndFrame()

	// Present flips the acquired surface image and releases frame resources.
	Present()
}

type wgpuExecutorBackend struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface

	surfaceFormat        wgpu.TextureFormat
	depthTextureView     *wgpu.TextureView
	renderPassDescriptor *wgpu.RenderPassDescriptor

	renderPipeline *wgpu.RenderPipeline
	vertexBuffer   *wgpu.Buffer
	indexBuffer    *wgpu.Buffer

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
}

var _ WGPUExecutor = &wgpuExecutorBackend{}

// NewWGPUExecutor brings up the WebGPU instance, surface, adapter and device
// for the given platform surface descriptor.
//
// Parameters:
//   - surfaceDescriptor: the platform surface from window.SurfaceDescriptor
//
// Returns:
//   - WGPUExecutor: the constructed executor
//   - error: an error if no adapter or device is available
func NewWGPUExecutor(surfaceDescriptor *wgpu.SurfaceDescriptor) (WGPUExecutor, error) {
	runtime.LockOSThread()

	b := &wgpuExecutorBackend{
		instance: wgpu.CreateInstance(nil),
	}
	b.surface = b.instance.CreateSurface(surfaceDescriptor)

	adapter, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	b.adapter = adapter

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Enigma Executor Device",
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	b.device = device
	b.queue = device.GetQueue()

	return b, nil
}

func (b *wgpuExecutorBackend) Device() *wgpu.Device { return b.device }

func (b *wgpuExecutorBackend) Queue() *wgpu.Queue { return b.queue }

func (b *wgpuExecutorBackend) SurfaceFormat() wgpu.TextureFormat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.surfaceFormat
}

func (b *wgpuExecutorBackend) ConfigureSurface(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	if b.depthTextureView != nil {
		b.depthTextureView.Release()
		b.depthTextureView = nil
	}
	depthTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("create depth texture: %w", err)
	}
	b.depthTextureView, err = depthTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create depth view: %w", err)
	}

	// The color attachment View is set per frame to the acquired swapchain
	// view; the depth view persists until the next resize.
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    nil,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: 0.1, G: 0.1, B: 0.1, A: 1.0,
				},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
	return nil
}

func (b *wgpuExecutorBackend) SetRenderPipeline(p *wgpu.RenderPipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderPipeline = p
}

func (b *wgpuExecutorBackend) SetVertexBuffer(buf *wgpu.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vertexBuffer = buf
}

func (b *wgpuExecutorBackend) SetIndexBuffer(buf *wgpu.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indexBuffer = buf
}

func (b *wgpuExecutorBackend) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Avoid acquiring a second surface image while the previous frame is
	// still held; wgpu-native rejects overlapping acquisitions.
	if b.frameSurface != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}
	if b.renderPassDescriptor == nil {
		return fmt.Errorf("surface not configured")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	b.renderPassDescriptor.ColorAttachments[0].View = view
	pass := encoder.BeginRenderPass(b.renderPassDescriptor)

	if b.renderPipeline != nil {
		pass.SetPipeline(b.renderPipeline)
		if b.vertexBuffer != nil {
			pass.SetVertexBuffer(0, b.vertexBuffer, 0, wgpu.WholeSize)
		}
		if b.indexBuffer != nil {
			pass.SetIndexBuffer(b.indexBuffer, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		}
	}

	b.frameEncoder = encoder
	b.framePass = pass
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuExecutorBackend) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.framePass == nil || b.renderPipeline == nil || b.indexBuffer == nil {
		return
	}
	b.framePass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (b *wgpuExecutorBackend) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.framePass == nil || b.renderPipeline == nil {
		return
	}
	b.framePass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (b *wgpuExecutorBackend) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()

	commandBuffer, err := b.frameEncoder.Finish(nil)
	if err == nil {
		b.queue.Submit(commandBuffer)
		commandBuffer.Release()
	}
	b.frameEncoder.Release()
	b.frameEncoder = nil
	b.framePass = nil
}

func (b *wgpuExecutorBackend) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()

	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	b.frameSurface.Release()
	b.frameSurface = nil
}
