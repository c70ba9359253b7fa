package detector

import (
	"fmt"
	"sync"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Mode selects the detector's operating policy.
type Mode int

const (
	// ModeAutomatic drives transitions purely from registered rules.
	ModeAutomatic Mode = iota
	// ModeManual performs no inference; only SetCurrentPhase moves the phase.
	ModeManual
	// ModeHybrid combines rule-driven transitions with manual overrides,
	// scoring each automatic transition against the next override.
	ModeHybrid
	// ModeStatistical biases rule confidences by the learned per-phase
	// command-type distributions.
	ModeStatistical
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeAutomatic:
		return "automatic"
	case ModeManual:
		return "manual"
	case ModeHybrid:
		return "hybrid"
	case ModeStatistical:
		return "statistical"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode resolves a mode by the name produced by String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "automatic":
		return ModeAutomatic, nil
	case "manual":
		return ModeManual, nil
	case "hybrid":
		return ModeHybrid, nil
	case "statistical":
		return ModeStatistical, nil
	default:
		return ModeAutomatic, fmt.Errorf("unknown detector mode %q", s)
	}
}

// MarshalYAML encodes the mode by name.
func (m Mode) MarshalYAML() (any, error) {
	if m < ModeAutomatic || m > ModeStatistical {
		return nil, fmt.Errorf("cannot marshal out-of-range detector mode %d", int(m))
	}
	return m.String(), nil
}

// UnmarshalYAML decodes a mode from its lower-case name.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config carries the detector's tuning knobs. Timeout fields are microsecond
// counts to match the engine's configuration surface.
type Config struct {
	Mode                   Mode    `yaml:"mode"`
	PhaseTimeoutUs         uint64  `yaml:"phase_timeout_us"`
	MinPhaseTimeUs         uint64  `yaml:"min_phase_time_us"`
	HistoryFrameCount      int     `yaml:"history_frame_count"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	EnablePatternLearning  bool    `yaml:"enable_pattern_learning"`
	EnableResourceTracking bool    `yaml:"enable_resource_tracking"`
	EnableTimingAnalysis   bool    `yaml:"enable_timing_analysis"`
	EnablePhaseValidation  bool    `yaml:"enable_phase_validation"`
}

// DefaultConfig returns automatic detection with learning and tracking on.
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeAutomatic,
		PhaseTimeoutUs:         5000,
		MinPhaseTimeUs:         50,
		HistoryFrameCount:      120,
		ConfidenceThreshold:    0.5,
		EnablePatternLearning:  true,
		EnableResourceTracking: true,
		EnableTimingAnalysis:   true,
	}
}

// PhaseTimeout returns the soft staleness bound for the current phase.
func (c Config) PhaseTimeout() time.Duration {
	return time.Duration(c.PhaseTimeoutUs) * time.Microsecond
}

// MinPhaseTime returns the default minimum hold time before any rule fires.
func (c Config) MinPhaseTime() time.Duration {
	return time.Duration(c.MinPhaseTimeUs) * time.Microsecond
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.Mode < ModeAutomatic || c.Mode > ModeStatistical {
		return fmt.Errorf("unknown detector mode %d", int(c.Mode))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.HistoryFrameCount < 0 {
		return fmt.Errorf("negative history frame count %d", c.HistoryFrameCount)
	}
	return nil
}

// PhaseChangeCallback observes a phase transition. Callbacks run
// synchronously on the thread that caused the transition; a panicking
// callback is recovered, logged, and does not stop the remaining callbacks.
type PhaseChangeCallback func(old, new phase.Phase, confidence float64)

// Detector maintains the current rendering phase, driven either by observed
// commands (rules and learned statistics) or by explicit assignment.
type Detector interface {
	// ProcessCommand observes one command at the given wall-clock time,
	// possibly transitioning the current phase, and returns the phase the
	// command belongs to.
	//
	// Parameters:
	//   - cmd: the observed command
	//   - now: the current wall-clock time
	//
	// Returns:
	//   - phase.Phase: the phase after evaluation (None until a transition
	//     or override has occurred)
	ProcessCommand(cmd command.RenderCommand, now time.Time) phase.Phase

	// CurrentPhase returns the detector's current phase.
	CurrentPhase() phase.Phase

	// CurrentConfidence returns the confidence of the latest transition.
	CurrentConfidence() float64

	// SetCurrentPhase overrides the current phase, bypassing rule
	// evaluation. Registered callbacks fire synchronously when the phase
	// actually changes.
	//
	// Parameters:
	//   - p: the phase to assume
	//   - confidence: caller-asserted confidence in [0,1]
	SetCurrentPhase(p phase.Phase, confidence float64)

	// RegisterRule appends a transition rule. Registration order is the
	// tie-break between rules of equal confidence.
	RegisterRule(rule TransitionRule)

	// Rules returns a copy of the registered ruleset.
	Rules() []TransitionRule

	// RegisterPhaseChangeCallback adds a transition listener and returns an
	// id usable with UnregisterPhaseChangeCallback.
	RegisterPhaseChangeCallback(fn PhaseChangeCallback) int

	// UnregisterPhaseChangeCallback removes a listener; unknown ids are a
	// no-op.
	UnregisterPhaseChangeCallback(id int)

	// BeginFrame opens a frame: per-frame command history is reset while
	// learned statistics and rules are preserved.
	//
	// Parameters:
	//   - frame: the monotonic frame index
	//   - now: the current wall-clock time
	BeginFrame(frame uint64, now time.Time)

	// EndFrame folds the frame's phase-duration and command-mix samples into
	// the running statistics and appends a record to the bounded frame
	// history.
	EndFrame(now time.Time)

	// Statistics returns a snapshot of the learned history for one phase.
	Statistics(p phase.Phase) PhaseStatistics

	// Metrics returns the detector's self-evaluation counters.
	Metrics() PerformanceMetrics

	// Export serializes the learned statistics, rule weights and frame
	// history to an opaque byte buffer.
	Export() ([]byte, error)

	// Import restores a buffer produced by Export. Registered rules keep
	// their conditions; only matching rule confidences are updated.
	Import(data []byte) error
}

type registeredCallback struct {
	id int
	fn PhaseChangeCallback
}

type pendingCallback struct {
	fn         PhaseChangeCallback
	id         int
	old, new   phase.Phase
	confidence float64
}

type detector struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	rules          []TransitionRule
	callbacks      []registeredCallback
	nextCallbackID int

	current    phase.Phase
	confidence float64

	lastTransition time.Time
	haveTransition bool
	intervalStart  time.Time
	inFrame        bool

	frame        uint64
	frameSamples map[phase.Phase]*frameSample

	stats   [phase.Count]phaseAccumulator
	history []frameRecord

	metrics        PerformanceMetrics
	predicted      phase.Phase
	havePrediction bool
}

var _ Detector = &detector{}

// NewDetector creates a Detector with the given configuration.
//
// Parameters:
//   - cfg: the detector configuration (validated)
//   - options: variadic list of DetectorBuilderOption functions
//
// Returns:
//   - Detector: the configured detector
//   - error: an error if the configuration is invalid
func NewDetector(cfg Config, options ...DetectorBuilderOption) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	d := &detector{
		cfg:          cfg,
		log:          zap.NewNop(),
		current:      phase.None,
		frameSamples: make(map[phase.Phase]*frameSample),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

func (d *detector) ProcessCommand(cmd command.RenderCommand, now time.Time) phase.Phase {
	d.mu.Lock()

	if d.cfg.Mode == ModeManual {
		if d.cfg.EnableResourceTracking {
			d.recordCommandLocked(cmd)
		}
		p := d.current
		d.mu.Unlock()
		return p
	}

	var pending []pendingCallback
	if rule, score := d.evaluateLocked(cmd, now); rule != nil && score >= d.cfg.ConfidenceThreshold {
		pending = d.transitionLocked(rule.To, score, now, rule.Trigger, false)
	}
	// Recorded after evaluation: a command that triggers a transition belongs
	// to the phase it opens, not the one it closes.
	if d.cfg.EnableResourceTracking {
		d.recordCommandLocked(cmd)
	}
	p := d.current
	d.mu.Unlock()

	d.fireCallbacks(pending)
	return p
}

// evaluateLocked picks the winning rule for the current phase and command.
// Highest biased confidence wins; a strict comparison keeps the earliest
// registered rule on ties.
func (d *detector) evaluateLocked(cmd command.RenderCommand, now time.Time) (*TransitionRule, float64) {
	var (
		best      *TransitionRule
		bestScore float64
	)
	var held time.Duration
	if d.haveTransition {
		held = now.Sub(d.lastTransition)
	}

	for i := range d.rules {
		r := &d.rules[i]
		if r.From != d.current {
			continue
		}
		min := r.MinPhaseTime
		if min == 0 {
			min = d.cfg.MinPhaseTime()
		}
		if d.haveTransition && held < min {
			continue
		}
		if r.Trigger == TriggerTimeout {
			if !d.haveTransition || held < d.cfg.PhaseTimeout() {
				continue
			}
		}
		if r.Condition != nil && !r.Condition(cmd) {
			continue
		}
		score := r.Confidence
		if d.statisticalBiasLocked() {
			score *= d.affinityLocked(r.To, cmd.Type())
			if score > 1 {
				score = 1
			}
		}
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best, bestScore
}

func (d *detector) statisticalBiasLocked() bool {
	return d.cfg.EnablePatternLearning &&
		(d.cfg.Mode == ModeStatistical || d.cfg.Mode == ModeHybrid)
}

// affinityLocked scales a candidate transition by how often the target phase
// has historically seen this command kind. Laplace smoothing keeps the bias
// at exactly 1.0 for phases with no recorded history.
func (d *detector) affinityLocked(to phase.Phase, t command.Type) float64 {
	if !to.Valid() {
		return 1
	}
	acc := &d.stats[to]
	total := acc.typeTotal()
	return float64(acc.typeCounts[t]+1) * float64(numCommandTypes) /
		float64(total+uint64(numCommandTypes))
}

func (d *detector) recordCommandLocked(cmd command.RenderCommand) {
	s := d.frameSamples[d.current]
	if s == nil {
		s = &frameSample{}
		d.frameSamples[d.current] = s
	}
	s.commands++
	s.typeCounts[cmd.Type()]++
}

// transitionLocked moves the current phase and returns the callback
// invocations to fire after the lock is released. A transition to the phase
// already current returns nil and has no effect.
func (d *detector) transitionLocked(to phase.Phase, confidence float64, now time.Time, trigger TriggerType, manual bool) []pendingCallback {
	old := d.current

	if manual && d.havePrediction {
		// The override is the ground truth for the last automatic
		// transition, even when it re-asserts the predicted phase.
		if to == d.predicted {
			d.metrics.PredictionsConfirmed++
		} else {
			d.metrics.PredictionsRejected++
		}
		d.havePrediction = false
	}

	if to == old {
		return nil
	}

	if d.cfg.EnablePhaseValidation && old.Valid() && to.Valid() {
		if canonicalIndex(to) < canonicalIndex(old) {
			d.log.Warn("phase transition runs against canonical order",
				zap.Stringer("from", old),
				zap.Stringer("to", to))
		}
	}

	// Close the open timing interval of the outgoing phase.
	if d.inFrame && d.cfg.EnableTimingAnalysis {
		s := d.frameSamples[old]
		if s == nil {
			s = &frameSample{}
			d.frameSamples[old] = s
		}
		s.duration += now.Sub(d.intervalStart)
	}
	d.intervalStart = now

	d.current = to
	d.confidence = confidence
	d.lastTransition = now
	d.haveTransition = true

	if manual {
		d.metrics.ManualOverrides++
	} else {
		if trigger == TriggerTimeout {
			d.metrics.TimeoutTransitions++
		} else {
			d.metrics.RuleTransitions++
		}
		if d.statisticalBiasLocked() {
			d.metrics.PredictionsMade++
			d.predicted = to
			d.havePrediction = true
		}
	}

	d.log.Debug("phase transition",
		zap.Stringer("from", old),
		zap.Stringer("to", to),
		zap.Float64("confidence", confidence),
		zap.Bool("manual", manual))

	pending := make([]pendingCallback, len(d.callbacks))
	for i, cb := range d.callbacks {
		pending[i] = pendingCallback{fn: cb.fn, id: cb.id, old: old, new: to, confidence: confidence}
	}
	return pending
}

func canonicalIndex(p phase.Phase) int {
	for i, c := range phase.CanonicalOrder() {
		if c == p {
			return i
		}
	}
	return -1
}

// fireCallbacks invokes listeners outside the detector lock, isolating each
// one so a panicking listener cannot abort its siblings.
func (d *detector) fireCallbacks(pending []pendingCallback) {
	for _, p := range pending {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.mu.Lock()
					d.metrics.CallbackPanics++
					d.mu.Unlock()
					d.log.Error("phase-change callback panicked",
						zap.Int("callback_id", p.id),
						zap.Any("panic", r))
				}
			}()
			p.fn(p.old, p.new, p.confidence)
		}()
	}
}

func (d *detector) CurrentPhase() phase.Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *detector) CurrentConfidence() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confidence
}

func (d *detector) SetCurrentPhase(p phase.Phase, confidence float64) {
	d.mu.Lock()
	pending := d.transitionLocked(p, confidence, time.Now(), TriggerCommandMatch, true)
	d.mu.Unlock()
	d.fireCallbacks(pending)
}

func (d *detector) RegisterRule(rule TransitionRule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule)
}

func (d *detector) Rules() []TransitionRule {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TransitionRule, len(d.rules))
	copy(out, d.rules)
	return out
}

func (d *detector) RegisterPhaseChangeCallback(fn PhaseChangeCallback) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextCallbackID
	d.nextCallbackID++
	d.callbacks = append(d.callbacks, registeredCallback{id: id, fn: fn})
	return id
}

func (d *detector) UnregisterPhaseChangeCallback(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cb := range d.callbacks {
		if cb.id == id {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

func (d *detector) BeginFrame(frame uint64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = frame
	d.frameSamples = make(map[phase.Phase]*frameSample)
	d.intervalStart = now
	d.inFrame = true
}

func (d *detector) EndFrame(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inFrame {
		return
	}
	d.inFrame = false

	// Close the interval still open on the current phase.
	if d.cfg.EnableTimingAnalysis && d.current.Valid() {
		s := d.frameSamples[d.current]
		if s == nil {
			s = &frameSample{}
			d.frameSamples[d.current] = s
		}
		s.duration += now.Sub(d.intervalStart)
	}

	for p, s := range d.frameSamples {
		if p < phase.None || p >= phase.Count {
			continue
		}
		acc := &d.stats[p]
		if d.cfg.EnableTimingAnalysis {
			acc.addDuration(s.duration)
		}
		acc.commandCount += s.commands
		for t, n := range s.typeCounts {
			acc.typeCounts[t] += n
		}
	}

	if d.cfg.HistoryFrameCount > 0 {
		rec := frameRecord{frame: d.frame, samples: make(map[phase.Phase]frameSample, len(d.frameSamples))}
		for p, s := range d.frameSamples {
			rec.samples[p] = *s
		}
		d.history = append(d.history, rec)
		if len(d.history) > d.cfg.HistoryFrameCount {
			d.history = d.history[len(d.history)-d.cfg.HistoryFrameCount:]
		}
	}
}

func (d *detector) Statistics(p phase.Phase) PhaseStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p < phase.None || p >= phase.Count {
		return PhaseStatistics{Phase: p, CommandTypeCounts: map[command.Type]uint64{}}
	}
	return d.stats[p].snapshot(p)
}

func (d *detector) Metrics() PerformanceMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metrics
	if scored := m.PredictionsConfirmed + m.PredictionsRejected; scored > 0 {
		m.Accuracy = float64(m.PredictionsConfirmed) / float64(scored)
	}
	return m
}
