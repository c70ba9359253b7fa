package detector

import (
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
)

// numCommandTypes bounds the closed command.Type enumeration.
const numCommandTypes = int(command.TypeIndexedInstancedDraw) + 1

// confidenceSaturation controls how many duration samples a phase needs
// before its derived confidence approaches 1 (n / (n + saturation)).
const confidenceSaturation = 4.0

// PhaseStatistics is a read-only snapshot of the learned history for one
// phase. Once at least one duration sample has been recorded,
// MinTime <= AverageTime <= MaxTime holds.
type PhaseStatistics struct {
	Phase        phase.Phase
	Samples      uint64 // completed per-frame duration samples
	CommandCount uint64
	TotalTime    time.Duration
	MinTime      time.Duration
	AverageTime  time.Duration
	MaxTime      time.Duration
	// CommandTypeCounts maps each command kind to how often it was observed
	// while this phase was current.
	CommandTypeCounts map[command.Type]uint64
	// Confidence in [0,1] grows with the number of recorded samples.
	Confidence float64
}

// PerformanceMetrics is the detector's self-evaluation: how often its
// automatic transitions were later confirmed or contradicted by manual
// overrides, plus transition and failure counters.
type PerformanceMetrics struct {
	PredictionsMade      uint64
	PredictionsConfirmed uint64
	PredictionsRejected  uint64
	RuleTransitions      uint64
	TimeoutTransitions   uint64
	ManualOverrides      uint64
	CallbackPanics       uint64
	// Accuracy is PredictionsConfirmed / (PredictionsConfirmed +
	// PredictionsRejected), or 0 before any prediction was scored.
	Accuracy float64
}

// phaseAccumulator is the mutable cross-frame aggregate behind
// PhaseStatistics.
type phaseAccumulator struct {
	samples      uint64
	commandCount uint64
	totalTime    time.Duration
	minTime      time.Duration
	maxTime      time.Duration
	typeCounts   [numCommandTypes]uint64
}

func (a *phaseAccumulator) addDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	if a.samples == 0 || d < a.minTime {
		a.minTime = d
	}
	if d > a.maxTime {
		a.maxTime = d
	}
	a.samples++
	a.totalTime += d
}

func (a *phaseAccumulator) typeTotal() uint64 {
	var total uint64
	for _, n := range a.typeCounts {
		total += n
	}
	return total
}

func (a *phaseAccumulator) snapshot(p phase.Phase) PhaseStatistics {
	s := PhaseStatistics{
		Phase:             p,
		Samples:           a.samples,
		CommandCount:      a.commandCount,
		TotalTime:         a.totalTime,
		MinTime:           a.minTime,
		MaxTime:           a.maxTime,
		CommandTypeCounts: make(map[command.Type]uint64, numCommandTypes),
		Confidence:        float64(a.samples) / (float64(a.samples) + confidenceSaturation),
	}
	if a.samples > 0 {
		s.AverageTime = a.totalTime / time.Duration(a.samples)
	}
	for t, n := range a.typeCounts {
		if n > 0 {
			s.CommandTypeCounts[command.Type(t)] = n
		}
	}
	return s
}

// frameSample accumulates what one phase saw during the current frame.
type frameSample struct {
	duration   time.Duration
	commands   uint64
	typeCounts [numCommandTypes]uint64
}

// frameRecord is one entry of the bounded frame-history ring used for
// statistical prediction and snapshot export.
type frameRecord struct {
	frame   uint64
	samples map[phase.Phase]frameSample
}
