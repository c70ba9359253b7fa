package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"github.com/enigma-engine/enigma-go/engine/profiler"
	"github.com/enigma-engine/enigma-go/engine/queue"
	"go.uber.org/zap"
)

// PhaseRenderer is the per-phase hook the dispatch loop invokes before
// draining a phase's immediate-mode bucket. The pipeline does not know or
// care what fixed shader passes the hook runs; a returned error is logged
// and the frame continues.
type PhaseRenderer interface {
	// RenderAll runs the phase's fixed passes.
	//
	// Returns:
	//   - error: an error if the phase's passes failed; never aborts the frame
	RenderAll() error
}

// PhaseRendererFunc adapts a plain function to the PhaseRenderer interface.
type PhaseRendererFunc func() error

// RenderAll calls f.
func (f PhaseRendererFunc) RenderAll() error { return f() }

// FrameReport summarizes one RenderFrame call.
type FrameReport struct {
	Frame            uint64
	CommandsExecuted int
	// PhasesDispatched lists, in canonical order, the phases that had a hook
	// or queued commands this frame.
	PhasesDispatched []phase.Phase
	HookErrors       int
	Panics           int
	Duration         time.Duration
}

// Pipeline drives one full frame of rendering: it walks the canonical phase
// sequence, runs the per-phase renderer hooks, and drains each phase's
// command bucket through the GPU executor.
//
// Debug and Outline are special-cased: Debug dispatches through a dedicated
// debug-renderer path because it is the validation surface, and Outline has a
// dedicated single-pass path.
type Pipeline interface {
	// Initialize prepares the queue (and its detector). Must be called once
	// before the first RenderFrame.
	//
	// Returns:
	//   - error: an error if the queue cannot be initialized
	Initialize() error

	// RegisterPhaseRenderer installs the hook for one phase, replacing any
	// previous hook. Debug and Outline registrations route to their dedicated
	// paths.
	//
	// Parameters:
	//   - p: the phase the hook serves (non-dispatchable phases are ignored)
	//   - r: the hook (nil uninstalls)
	RegisterPhaseRenderer(p phase.Phase, r PhaseRenderer)

	// RenderFrame runs one frame: BeginFrame, SwapBuffers, the canonical
	// phase walk, EndFrame. A panic inside one phase's hook or executor is
	// recovered at phase granularity; the remaining phases still run.
	//
	// Parameters:
	//   - frame: the monotonic frame index
	//
	// Returns:
	//   - FrameReport: what the frame dispatched
	RenderFrame(frame uint64) FrameReport

	// CurrentPhase returns the phase the dispatch loop is visiting, or None
	// outside the walk.
	CurrentPhase() phase.Phase

	// Queue returns the pipeline's command queue for producers to submit into.
	Queue() queue.Queue
}

type renderingPipeline struct {
	q        queue.Queue
	log      *zap.Logger
	executor command.Executor
	prof     *profiler.Profiler

	mu        sync.Mutex
	renderers [phase.Count]PhaseRenderer
	debug     PhaseRenderer
	outline   PhaseRenderer

	initialized atomic.Bool
	current     atomic.Int32
}

var _ Pipeline = &renderingPipeline{}

// NewPipeline creates a Pipeline over the given queue.
//
// Parameters:
//   - q: the command queue the pipeline owns the frame lifecycle of
//   - options: variadic list of PipelineBuilderOption functions
//
// Returns:
//   - Pipeline: the constructed pipeline
func NewPipeline(q queue.Queue, options ...PipelineBuilderOption) Pipeline {
	pl := &renderingPipeline{
		q:   q,
		log: zap.NewNop(),
	}
	pl.current.Store(int32(phase.None))
	for _, opt := range options {
		opt(pl)
	}
	return pl
}

func (pl *renderingPipeline) Initialize() error {
	if pl.initialized.Load() {
		return nil
	}
	if pl.q == nil {
		return fmt.Errorf("initialize pipeline: no command queue")
	}
	if err := pl.q.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	pl.initialized.Store(true)
	return nil
}

func (pl *renderingPipeline) RegisterPhaseRenderer(p phase.Phase, r PhaseRenderer) {
	if !p.Valid() {
		pl.log.Debug("ignoring renderer registration for non-dispatchable phase",
			zap.Stringer("phase", p))
		return
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	switch p {
	case phase.Debug:
		pl.debug = r
	case phase.Outline:
		pl.outline = r
	default:
		pl.renderers[p] = r
	}
}

// hookFor resolves the renderer hook for a phase, routing Debug and Outline
// through their dedicated paths.
func (pl *renderingPipeline) hookFor(p phase.Phase) PhaseRenderer {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	switch p {
	case phase.Debug:
		return pl.debug
	case phase.Outline:
		return pl.outline
	default:
		return pl.renderers[p]
	}
}

func (pl *renderingPipeline) RenderFrame(frame uint64) FrameReport {
	report := FrameReport{Frame: frame}
	if !pl.initialized.Load() {
		pl.log.Warn("render frame on uninitialized pipeline", zap.Uint64("frame", frame))
		return report
	}
	start := time.Now()

	pl.q.BeginFrame(frame)
	pl.q.SwapBuffers()

	for _, p := range phase.CanonicalOrder() {
		hook := pl.hookFor(p)
		pending := pl.q.CommandCount(p)
		if hook == nil && pending == 0 {
			continue
		}
		report.PhasesDispatched = append(report.PhasesDispatched, p)
		pl.current.Store(int32(p))
		pl.dispatchPhase(p, hook, pending, &report)
	}
	pl.current.Store(int32(phase.None))

	pl.q.EndFrame()
	report.Duration = time.Since(start)

	if pl.prof != nil {
		pl.prof.Tick()
	}
	return report
}

// dispatchPhase runs one phase's hook and drains its bucket, recovering from
// panics so one broken phase cannot abort the remaining phases of the frame.
func (pl *renderingPipeline) dispatchPhase(p phase.Phase, hook PhaseRenderer, pending int, report *FrameReport) {
	defer func() {
		if r := recover(); r != nil {
			report.Panics++
			pl.log.Error("phase dispatch panicked",
				zap.Stringer("phase", p),
				zap.Uint64("frame", report.Frame),
				zap.Any("panic", r))
		}
	}()

	if hook != nil {
		if err := hook.RenderAll(); err != nil {
			report.HookErrors++
			pl.log.Warn("phase renderer hook failed",
				zap.Stringer("phase", p),
				zap.Error(err))
		}
	} else if pending > 0 {
		// Nothing fixed to render for this phase; the immediate-mode bucket
		// still drains below.
		pl.log.Debug("no renderer hook for phase", zap.Stringer("phase", p))
	}

	report.CommandsExecuted += pl.q.ExecutePhase(p, pl.executor)
}

func (pl *renderingPipeline) CurrentPhase() phase.Phase {
	return phase.Phase(pl.current.Load())
}

func (pl *renderingPipeline) Queue() queue.Queue {
	return pl.q
}
