package pipeline

import (
	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"github.com/enigma-engine/enigma-go/engine/profiler"
	"go.uber.org/zap"
)

// PipelineBuilderOption is a functional option applied to a pipeline during
// construction via NewPipeline.
type PipelineBuilderOption func(*renderingPipeline)

// WithLogger attaches a component logger to the pipeline.
//
// Parameters:
//   - log: the logger to use (nil keeps the no-op default)
//
// Returns:
//   - PipelineBuilderOption: a function that applies the logger option
func WithLogger(log *zap.Logger) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		if log != nil {
			pl.log = log
		}
	}
}

// WithExecutor sets the GPU executor the dispatch loop drains buckets
// through. Without one, commands are still consumed each frame but no draw
// reaches a GPU.
//
// Parameters:
//   - ex: the executor to draw through
//
// Returns:
//   - PipelineBuilderOption: a function that applies the executor option
func WithExecutor(ex command.Executor) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		pl.executor = ex
	}
}

// WithPhaseRenderer installs a per-phase hook at construction time.
//
// Parameters:
//   - p: the phase the hook serves
//   - r: the hook
//
// Returns:
//   - PipelineBuilderOption: a function that applies the renderer option
func WithPhaseRenderer(p phase.Phase, r PhaseRenderer) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		pl.RegisterPhaseRenderer(p, r)
	}
}

// WithDebugRenderer installs the dedicated debug-path renderer.
//
// Parameters:
//   - r: the debug renderer
//
// Returns:
//   - PipelineBuilderOption: a function that applies the debug option
func WithDebugRenderer(r PhaseRenderer) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		pl.debug = r
	}
}

// WithOutlineRenderer installs the dedicated outline single-pass renderer.
//
// Parameters:
//   - r: the outline renderer
//
// Returns:
//   - PipelineBuilderOption: a function that applies the outline option
func WithOutlineRenderer(r PhaseRenderer) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		pl.outline = r
	}
}

// WithProfiler attaches a profiler ticked once per RenderFrame.
//
// Parameters:
//   - p: the profiler to tick
//
// Returns:
//   - PipelineBuilderOption: a function that applies the profiler option
func WithProfiler(p *profiler.Profiler) PipelineBuilderOption {
	return func(pl *renderingPipeline) {
		pl.prof = p
	}
}
