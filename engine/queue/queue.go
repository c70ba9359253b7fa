package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/detector"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"go.uber.org/zap"
)

var (
	// ErrNotInitialized is returned when the queue is used before Initialize.
	ErrNotInitialized = errors.New("queue: not initialized")
	// ErrInvalidCommand is returned for commands with a zero count field;
	// nothing is stored.
	ErrInvalidCommand = errors.New("queue: invalid command")
	// ErrInvalidPhase is returned for submissions targeting None, Count or
	// an out-of-range phase.
	ErrInvalidPhase = errors.New("queue: phase is not dispatchable")
	// ErrPhaseFull is returned when a phase bucket is at its configured cap;
	// the newest command is dropped.
	ErrPhaseFull = errors.New("queue: phase bucket is full")
	// ErrUnclassified is returned by SubmitAuto when the detector produced
	// no dispatchable phase for the command.
	ErrUnclassified = errors.New("queue: detector produced no phase")
)

// Config carries the queue's tuning knobs.
type Config struct {
	EnablePhaseDetection      bool `yaml:"enable_phase_detection"`
	EnableDebugLogging        bool `yaml:"enable_debug_logging"`
	EnablePerformanceCounters bool `yaml:"enable_performance_counters"`
	// MaxCommandsPerPhase caps each bucket per frame; zero or negative means
	// unbounded.
	MaxCommandsPerPhase int `yaml:"max_commands_per_phase"`
	// FrameTimeoutUs is a soft frame-budget heuristic used only for
	// diagnostics.
	FrameTimeoutUs uint64 `yaml:"frame_timeout_us"`
}

// DefaultConfig returns phase detection and counters on, with a 4096-command
// bucket cap and a 60 Hz soft frame budget.
func DefaultConfig() Config {
	return Config{
		EnablePhaseDetection:      true,
		EnablePerformanceCounters: true,
		MaxCommandsPerPhase:       4096,
		FrameTimeoutUs:            16666,
	}
}

// FrameTimeout returns the soft frame budget as a duration.
func (c Config) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutUs) * time.Microsecond
}

// Stats is a snapshot of the queue's aggregate counters.
type Stats struct {
	Frames          uint64
	Submitted       uint64
	Executed        uint64
	Rejected        uint64
	Dropped         uint64
	Unclassified    uint64
	ExecutionErrors uint64
	// PerPhaseSubmitted maps each phase to its lifetime submission count;
	// phases that never saw a command are absent.
	PerPhaseSubmitted map[phase.Phase]uint64
	// AvgCommandsPerFrame is Submitted / Frames, 0 before the first frame.
	AvgCommandsPerFrame float64
}

// Queue is the central immediate-mode command buffer: a phase-bucketed,
// double-buffered store decoupling a producer (game/update) thread from a
// consumer (render) thread.
//
// Frame discipline: BeginFrame → producer Submit/SubmitAuto → SwapBuffers →
// ExecutePhase per dispatched phase (consumer) → EndFrame. Producers only
// ever touch the submit-side buffer under the queue's mutex; the consumer
// drains the execute-side buffer without taking that lock. SwapBuffers
// exchanges the two buffers by pointer at the frame boundary. EndFrame clears
// both sides: no command ever survives into the next frame.
type Queue interface {
	// Initialize allocates the phase detector per the configured policy.
	// Must be called once before first use; calling it again is a no-op.
	//
	// Returns:
	//   - error: an error if the detector configuration is invalid
	Initialize() error

	// Submit appends a command to the bucket for the given phase. Invalid
	// commands are rejected and stored nowhere; a bucket at its cap drops
	// the newest command.
	//
	// Parameters:
	//   - cmd: the command to queue
	//   - p: the target phase (must be dispatchable)
	//   - tag: a free-form debug tag carried into logging
	//
	// Returns:
	//   - error: ErrInvalidCommand, ErrInvalidPhase, ErrPhaseFull or nil
	Submit(cmd command.RenderCommand, p phase.Phase, tag string) error

	// SubmitAuto routes the command through the phase detector to obtain a
	// phase, then behaves like Submit. When phase detection is disabled the
	// detector's current phase is used without inference.
	//
	// Parameters:
	//   - cmd: the command to queue
	//   - tag: a free-form debug tag carried into logging
	//
	// Returns:
	//   - phase.Phase: the phase the command was routed to (None when
	//     unclassified)
	//   - error: ErrUnclassified when no dispatchable phase was produced,
	//     otherwise as Submit
	SubmitAuto(cmd command.RenderCommand, tag string) (phase.Phase, error)

	// BeginFrame records the frame index and forwards it to the detector.
	//
	// Parameters:
	//   - frame: the monotonic frame index
	BeginFrame(frame uint64)

	// SwapBuffers exchanges the submit-side and execute-side buffers by
	// pointer. Called once per frame by the consumer, after which the
	// frame's submissions are visible to ExecutePhase.
	SwapBuffers()

	// ExecuteAllPhases drains every execute-side bucket strictly in the
	// canonical phase order.
	//
	// Parameters:
	//   - ex: the GPU executor to draw through
	//
	// Returns:
	//   - int: the number of commands executed
	ExecuteAllPhases(ex command.Executor) int

	// ExecutePhase drains one execute-side bucket in submission order.
	// Commands failing the validity gate are skipped and counted as
	// execution errors.
	//
	// Parameters:
	//   - p: the phase to drain
	//   - ex: the GPU executor to draw through
	//
	// Returns:
	//   - int: the number of commands executed
	ExecutePhase(p phase.Phase, ex command.Executor) int

	// EndFrame forwards to the detector, folds frame metrics and clears all
	// buckets on both buffer sides.
	EndFrame()

	// CommandCount returns the number of commands pending for one phase
	// across both buffer sides.
	CommandCount(p phase.Phase) int

	// TotalCommandCount returns the number of pending commands across all
	// phases and both buffer sides.
	TotalCommandCount() int

	// IsEmpty reports whether no commands are pending anywhere.
	IsEmpty() bool

	// ActivePhases returns the phases with non-empty buckets, in canonical
	// order.
	ActivePhases() []phase.Phase

	// ClearPhase drops all pending commands for one phase on both sides.
	// This is the per-phase cancellation primitive; it must not race with
	// an in-flight ExecutePhase for the same phase.
	ClearPhase(p phase.Phase)

	// Clear drops all pending commands everywhere.
	Clear()

	// CurrentPhase returns the detector's current phase.
	CurrentPhase() phase.Phase

	// SetCurrentPhase forwards a manual phase override to the detector.
	SetCurrentPhase(p phase.Phase, confidence float64)

	// Detector exposes the queue's phase detector, or nil before Initialize.
	Detector() detector.Detector

	// Stats returns a snapshot of the aggregate counters.
	Stats() Stats
}

type commandQueue struct {
	cfg    Config
	detCfg detector.Config
	log    *zap.Logger

	initialized atomic.Bool
	det         detector.Detector
	detOverride detector.Detector
	rules       []detector.TransitionRule

	// mu guards the submit-side buffer, the buffer pointers and the
	// per-frame overflow latch. The execute side is drained lock-free by
	// the consumer between SwapBuffers and EndFrame.
	mu      sync.Mutex
	submit  *phaseBuffer
	execute *phaseBuffer

	overflowWarned [phase.Count]bool

	frame      atomic.Uint64
	frameStart time.Time

	frames          atomic.Uint64
	submitted       atomic.Uint64
	executed        atomic.Uint64
	rejected        atomic.Uint64
	dropped         atomic.Uint64
	unclassified    atomic.Uint64
	executionErrors atomic.Uint64
	perPhase        [phase.Count]atomic.Uint64
}

var _ Queue = &commandQueue{}

// NewCommandQueue creates a Queue with the given queue and detector
// configurations. Initialize must be called before first use.
//
// Parameters:
//   - cfg: the queue configuration
//   - detCfg: the phase-detector configuration, used by Initialize
//   - options: variadic list of QueueBuilderOption functions
//
// Returns:
//   - Queue: the constructed queue
func NewCommandQueue(cfg Config, detCfg detector.Config, options ...QueueBuilderOption) Queue {
	q := &commandQueue{
		cfg:     cfg,
		detCfg:  detCfg,
		log:     zap.NewNop(),
		submit:  &phaseBuffer{},
		execute: &phaseBuffer{},
	}
	for _, opt := range options {
		opt(q)
	}
	return q
}

func (q *commandQueue) Initialize() error {
	if q.initialized.Load() {
		return nil
	}
	if q.detOverride != nil {
		q.det = q.detOverride
	} else {
		det, err := detector.NewDetector(q.detCfg,
			detector.WithLogger(q.log.Named("PhaseDetector")),
			detector.WithRules(q.rules...))
		if err != nil {
			return fmt.Errorf("initialize command queue: %w", err)
		}
		q.det = det
	}
	q.initialized.Store(true)
	q.log.Debug("command queue initialized",
		zap.Bool("phase_detection", q.cfg.EnablePhaseDetection),
		zap.Int("max_commands_per_phase", q.cfg.MaxCommandsPerPhase))
	return nil
}

func (q *commandQueue) Submit(cmd command.RenderCommand, p phase.Phase, tag string) error {
	if !q.initialized.Load() {
		return ErrNotInitialized
	}
	if !p.Valid() {
		q.rejected.Add(1)
		return ErrInvalidPhase
	}
	return q.submitTo(cmd, p, tag)
}

func (q *commandQueue) SubmitAuto(cmd command.RenderCommand, tag string) (phase.Phase, error) {
	if !q.initialized.Load() {
		return phase.None, ErrNotInitialized
	}
	if !cmd.IsValid() {
		q.rejected.Add(1)
		if q.cfg.EnableDebugLogging {
			q.log.Debug("rejected invalid command", zap.Stringer("command", cmd), zap.String("tag", tag))
		}
		return phase.None, ErrInvalidCommand
	}

	var p phase.Phase
	if q.cfg.EnablePhaseDetection {
		p = q.det.ProcessCommand(cmd, time.Now())
	} else {
		p = q.det.CurrentPhase()
	}
	if !p.Valid() {
		// The detector made no inference (e.g. manual mode before any
		// override). The command is inert: None never holds a bucket.
		q.unclassified.Add(1)
		if q.cfg.EnableDebugLogging {
			q.log.Debug("dropped unclassified command", zap.Stringer("command", cmd), zap.String("tag", tag))
		}
		return phase.None, ErrUnclassified
	}
	return p, q.submitTo(cmd, p, tag)
}

// submitTo is the common tail of both submit paths. Invalid commands are
// rejected here so no bucket ever stores one (reject-at-submit policy).
func (q *commandQueue) submitTo(cmd command.RenderCommand, p phase.Phase, tag string) error {
	if !cmd.IsValid() {
		q.rejected.Add(1)
		if q.cfg.EnableDebugLogging {
			q.log.Debug("rejected invalid command",
				zap.Stringer("phase", p), zap.Stringer("command", cmd), zap.String("tag", tag))
		}
		return ErrInvalidCommand
	}

	q.mu.Lock()
	bucket := q.submit.buckets[p]
	if q.cfg.MaxCommandsPerPhase > 0 && len(bucket) >= q.cfg.MaxCommandsPerPhase {
		warned := q.overflowWarned[p]
		q.overflowWarned[p] = true
		q.mu.Unlock()

		q.dropped.Add(1)
		if !warned {
			// One warning per phase per frame; a runaway producer must not
			// flood the log on top of overflowing the bucket.
			q.log.Warn("phase bucket full, dropping commands",
				zap.Stringer("phase", p),
				zap.Int("cap", q.cfg.MaxCommandsPerPhase),
				zap.String("tag", tag))
		}
		return ErrPhaseFull
	}
	q.submit.buckets[p] = append(bucket, cmd)
	q.mu.Unlock()

	if q.cfg.EnablePerformanceCounters {
		q.submitted.Add(1)
		q.perPhase[p].Add(1)
	}
	if q.cfg.EnableDebugLogging {
		q.log.Debug("command submitted",
			zap.Stringer("phase", p), zap.Stringer("command", cmd), zap.String("tag", tag))
	}
	return nil
}

func (q *commandQueue) BeginFrame(frame uint64) {
	if !q.initialized.Load() {
		return
	}
	now := time.Now()
	q.frame.Store(frame)
	q.frameStart = now

	q.mu.Lock()
	q.overflowWarned = [phase.Count]bool{}
	q.mu.Unlock()

	q.det.BeginFrame(frame, now)
}

func (q *commandQueue) SwapBuffers() {
	q.mu.Lock()
	q.submit, q.execute = q.execute, q.submit
	q.mu.Unlock()
	if q.cfg.EnableDebugLogging {
		q.log.Debug("buffers swapped", zap.Uint64("frame", q.frame.Load()))
	}
}

func (q *commandQueue) ExecuteAllPhases(ex command.Executor) int {
	total := 0
	for _, p := range phase.CanonicalOrder() {
		total += q.ExecutePhase(p, ex)
	}
	return total
}

func (q *commandQueue) ExecutePhase(p phase.Phase, ex command.Executor) int {
	if !q.initialized.Load() {
		return 0
	}
	if !p.Valid() {
		if q.cfg.EnableDebugLogging {
			q.log.Debug("refusing to execute non-dispatchable phase", zap.Stringer("phase", p))
		}
		return 0
	}

	bucket := q.execute.buckets[p]
	executed := 0
	for i := range bucket {
		// Second validity gate behind the reject-at-submit policy: an
		// invalid command is never an executor call, only a counted skip.
		if !bucket[i].IsValid() {
			q.executionErrors.Add(1)
			continue
		}
		bucket[i].Execute(ex)
		executed++
	}

	// Drain: executed commands leave the bucket so they never re-execute and
	// never ride a later swap back to the submit side.
	q.mu.Lock()
	q.execute.clearPhase(p)
	q.mu.Unlock()

	if executed > 0 && q.cfg.EnablePerformanceCounters {
		q.executed.Add(uint64(executed))
	}
	return executed
}

func (q *commandQueue) EndFrame() {
	if !q.initialized.Load() {
		return
	}
	now := time.Now()
	q.det.EndFrame(now)

	// Clearing both sides guarantees no command survives the frame
	// boundary, even if the host never swapped or executed.
	q.mu.Lock()
	q.submit.clear()
	q.execute.clear()
	q.mu.Unlock()

	q.frames.Add(1)

	if q.cfg.EnableDebugLogging && q.cfg.FrameTimeoutUs > 0 {
		if elapsed := now.Sub(q.frameStart); elapsed > q.cfg.FrameTimeout() {
			q.log.Debug("frame exceeded soft budget",
				zap.Uint64("frame", q.frame.Load()),
				zap.Duration("elapsed", elapsed),
				zap.Duration("budget", q.cfg.FrameTimeout()))
		}
	}
}

func (q *commandQueue) CommandCount(p phase.Phase) int {
	if p < phase.None || p >= phase.Count {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submit.count(p) + q.execute.count(p)
}

func (q *commandQueue) TotalCommandCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submit.total() + q.execute.total()
}

func (q *commandQueue) IsEmpty() bool {
	return q.TotalCommandCount() == 0
}

func (q *commandQueue) ActivePhases() []phase.Phase {
	q.mu.Lock()
	defer q.mu.Unlock()
	var active []phase.Phase
	for _, p := range phase.CanonicalOrder() {
		if q.submit.count(p)+q.execute.count(p) > 0 {
			active = append(active, p)
		}
	}
	return active
}

func (q *commandQueue) ClearPhase(p phase.Phase) {
	if p < phase.None || p >= phase.Count {
		return
	}
	q.mu.Lock()
	q.submit.clearPhase(p)
	q.execute.clearPhase(p)
	q.mu.Unlock()
	if q.cfg.EnableDebugLogging {
		q.log.Debug("phase cleared", zap.Stringer("phase", p))
	}
}

func (q *commandQueue) Clear() {
	q.mu.Lock()
	q.submit.clear()
	q.execute.clear()
	q.mu.Unlock()
	if q.cfg.EnableDebugLogging {
		q.log.Debug("all phases cleared")
	}
}

func (q *commandQueue) CurrentPhase() phase.Phase {
	if !q.initialized.Load() {
		return phase.None
	}
	return q.det.CurrentPhase()
}

func (q *commandQueue) SetCurrentPhase(p phase.Phase, confidence float64) {
	if !q.initialized.Load() {
		return
	}
	q.det.SetCurrentPhase(p, confidence)
}

func (q *commandQueue) Detector() detector.Detector {
	return q.det
}

func (q *commandQueue) Stats() Stats {
	s := Stats{
		Frames:            q.frames.Load(),
		Submitted:         q.submitted.Load(),
		Executed:          q.executed.Load(),
		Rejected:          q.rejected.Load(),
		Dropped:           q.dropped.Load(),
		Unclassified:      q.unclassified.Load(),
		ExecutionErrors:   q.executionErrors.Load(),
		PerPhaseSubmitted: make(map[phase.Phase]uint64),
	}
	for p := phase.None; p < phase.Count; p++ {
		if n := q.perPhase[p].Load(); n > 0 {
			s.PerPhaseSubmitted[p] = n
		}
	}
	if s.Frames > 0 {
		s.AvgCommandsPerFrame = float64(s.Submitted) / float64(s.Frames)
	}
	return s
}
