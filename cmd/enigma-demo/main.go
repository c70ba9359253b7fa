// Command enigma-demo drives the phase-dispatch pipeline end to end: producer
// tasks submit draw commands through the detector while the main thread walks
// the canonical phase order each frame and draws through the WebGPU executor.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/config"
	"github.com/enigma-engine/enigma-go/engine/detector"
	"github.com/enigma-engine/enigma-go/engine/logging"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"github.com/enigma-engine/enigma-go/engine/pipeline"
	"github.com/enigma-engine/enigma-go/engine/profiler"
	"github.com/enigma-engine/enigma-go/engine/queue"
	"github.com/enigma-engine/enigma-go/engine/window"
	"go.uber.org/zap"
)

// demoShader draws one small triangle per instance; the instance index
// scatters the triangles so instanced submissions are visible as clusters.
const demoShader = `
@vertex
fn vs_main(@builtin(vertex_index) vi: u32, @builtin(instance_index) ii: u32) -> @builtin(position) vec4<f32> {
    var corners = array<vec2<f32>, 3>(
        vec2<f32>(0.0, 0.04),
        vec2<f32>(-0.035, -0.02),
        vec2<f32>(0.035, -0.02),
    );
    let fi = f32(ii);
    let offset = vec2<f32>(
        fract(fi * 0.6180339887) * 1.8 - 0.9,
        fract(fi * 0.3819660113) * 1.8 - 0.9,
    );
    return vec4<f32>(corners[vi] + offset, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(0.85, 0.55, 0.2, 1.0);
}
`

func main() {
	configPath := flag.String("config", "", "path to engine YAML config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	cfg.Profiler.Enabled = true

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	win := window.NewWindow(
		window.WithTitle(cfg.Window.Title),
		window.WithWidth(cfg.Window.Width),
		window.WithHeight(cfg.Window.Height),
	)

	executor, err := pipeline.NewWGPUExecutor(win.SurfaceDescriptor())
	if err != nil {
		logger.Fatal("executor bring-up failed", zap.Error(err))
	}
	if err := executor.ConfigureSurface(win.Width(), win.Height()); err != nil {
		logger.Fatal("configure surface failed", zap.Error(err))
	}
	win.SetResizeCallback(func(width, height int) {
		if width > 0 && height > 0 {
			if err := executor.ConfigureSurface(width, height); err != nil {
				logger.Warn("surface reconfigure failed", zap.Error(err))
			}
		}
	})

	if err := setupDemoPipeline(executor); err != nil {
		logger.Fatal("demo render pipeline failed", zap.Error(err))
	}

	q := queue.NewCommandQueue(cfg.Queue, cfg.Detector,
		queue.WithLogger(logger.Named("RenderCommandQueue")),
		queue.WithRules(detector.DefaultRules()...),
	)

	prof := profiler.NewProfiler(
		profiler.WithLogger(logger.Named("Profiler")),
		profiler.WithInterval(time.Duration(cfg.Profiler.IntervalMs)*time.Millisecond),
		profiler.WithQueue(q),
	)

	pipelineLog := logger.Named("EnigmaRenderingPipeline")
	pl := pipeline.NewPipeline(q,
		pipeline.WithExecutor(executor),
		pipeline.WithLogger(pipelineLog),
		pipeline.WithProfiler(prof),
		pipeline.WithDebugRenderer(pipeline.PhaseRendererFunc(func() error {
			stats := q.Stats()
			pipelineLog.Debug("debug overlay",
				zap.Uint64("submitted", stats.Submitted),
				zap.Uint64("executed", stats.Executed),
				zap.Uint64("dropped", stats.Dropped))
			return nil
		})),
	)
	if err := pl.Initialize(); err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	quit := make(chan struct{})
	go produce(q, logger.Named("Producer"), quit)

	var frame uint64
	win.SetUpdateCallback(func() {
		frame++
		if err := executor.BeginFrame(); err != nil {
			pipelineLog.Warn("begin frame failed", zap.Error(err))
			return
		}
		pl.RenderFrame(frame)
		executor.EndFrame()
		executor.Present()
	})

	logger.Info("enigma demo running",
		zap.Int("width", win.Width()),
		zap.Int("height", win.Height()),
		zap.Stringer("detector_mode", cfg.Detector.Mode))

	win.ProcessMessages()
	close(quit)
	_ = win.Close()
}

// setupDemoPipeline compiles the inline shader and binds a minimal render
// pipeline plus a 3-index buffer so both draw kinds reach the GPU.
func setupDemoPipeline(executor pipeline.WGPUExecutor) error {
	device := executor.Device()

	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "demo_triangles",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: demoShader,
		},
	})
	if err != nil {
		return err
	}

	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "demo_triangles",
		BindGroupLayouts: []*wgpu.BindGroupLayout{},
	})
	if err != nil {
		return err
	}

	renderPipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "demo_triangles Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    executor.SurfaceFormat(),
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		return err
	}
	executor.SetRenderPipeline(renderPipeline)

	// The indexed draw kinds walk this trivial 0-1-2 triangle.
	indexData := make([]byte, 12)
	for i, idx := range []uint32{0, 1, 2} {
		binary.LittleEndian.PutUint32(indexData[i*4:], idx)
	}
	indexBuffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "demo_triangles Index Buffer",
		Size:  uint64(len(indexData)),
		Usage: wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	executor.Queue().WriteBuffer(indexBuffer, 0, indexData)
	executor.SetIndexBuffer(indexBuffer)

	return nil
}

// produce runs the game-logic side: a fixed-rate tick fans submission tasks
// out to a worker pool, mixing explicit-phase and detector-routed commands.
func produce(q queue.Queue, log *zap.Logger, quit <-chan struct{}) {
	pool := worker.NewDynamicWorkerPool(4, 256, 1*time.Second)
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	taskID := 0

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			burst := []struct {
				cmd   command.RenderCommand
				phase phase.Phase
				tag   string
			}{
				{command.NewIndexedDraw(3, 1, 0, 0, 0), phase.Sky, "skybox"},
				{command.NewIndexedDraw(3, uint32(8+rng.Intn(24)), 0, 0, 0), phase.TerrainSolid, "chunks"},
				{command.NewIndexedDraw(3, uint32(2+rng.Intn(8)), 0, 0, 0), phase.Entities, "mobs"},
				{command.NewInstancedDraw(3, uint32(64+rng.Intn(192)), 0, 0), phase.Particles, "sparks"},
				{command.NewIndexedDraw(3, 1, 0, 0, 0), phase.HandSolid, "held_item"},
			}
			for _, b := range burst {
				taskID++
				sub := b
				pool.SubmitTask(worker.Task{
					ID: taskID,
					Do: func() (any, error) {
						// Half the stream goes through the detector so the
						// rule engine sees a realistic command mix.
						if sub.phase == phase.Particles || sub.phase == phase.TerrainSolid {
							if _, err := q.SubmitAuto(sub.cmd, sub.tag); err != nil {
								log.Debug("auto submit refused", zap.String("tag", sub.tag), zap.Error(err))
							}
							return nil, nil
						}
						if err := q.Submit(sub.cmd, sub.phase, sub.tag); err != nil {
							log.Debug("submit refused", zap.String("tag", sub.tag), zap.Error(err))
						}
						return nil, nil
					},
				})
			}
		}
	}
}
