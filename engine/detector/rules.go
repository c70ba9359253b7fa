package detector

import (
	"fmt"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
)

// TriggerType classifies what causes a transition rule to fire.
type TriggerType int

const (
	// TriggerCommandMatch fires when the rule's condition matches a
	// submitted command.
	TriggerCommandMatch TriggerType = iota
	// TriggerTimeout fires once the current phase has been held longer than
	// the configured phase timeout, regardless of the command stream.
	TriggerTimeout
	// TriggerStatistical marks rules whose confidence is meant to be tuned
	// by imported learning snapshots rather than hand-set.
	TriggerStatistical
)

// String returns the snake-case name of the trigger type.
func (t TriggerType) String() string {
	switch t {
	case TriggerCommandMatch:
		return "command_match"
	case TriggerTimeout:
		return "timeout"
	case TriggerStatistical:
		return "statistical"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// ParseTriggerType resolves a trigger type by the name produced by String.
func ParseTriggerType(s string) (TriggerType, error) {
	switch s {
	case "command_match":
		return TriggerCommandMatch, nil
	case "timeout":
		return TriggerTimeout, nil
	case "statistical":
		return TriggerStatistical, nil
	default:
		return TriggerCommandMatch, fmt.Errorf("unknown trigger type %q", s)
	}
}

// TransitionRule describes one way the current phase may move forward.
//
// When several rules match the same phase/command pair, the highest
// confidence wins; equal confidences fall back to registration order
// (earliest registered wins). The winner must still clear the detector's
// confidence threshold to take effect.
type TransitionRule struct {
	// From is the phase this rule can fire out of.
	From phase.Phase
	// To is the phase this rule transitions into.
	To phase.Phase
	// Trigger classifies the rule; timeout rules additionally require the
	// current phase to be older than the configured phase timeout.
	Trigger TriggerType
	// Condition is evaluated against the observed command; nil matches any
	// command.
	Condition func(command.RenderCommand) bool
	// Confidence weights this rule in [0,1].
	Confidence float64
	// MinPhaseTime is the minimum time the current phase must have been
	// held before this rule may fire; zero falls back to the detector's
	// configured minimum.
	MinPhaseTime time.Duration
}

// MatchType builds a rule condition matching any of the given command types.
//
// Parameters:
//   - types: the command types that satisfy the condition
//
// Returns:
//   - func(command.RenderCommand) bool: the condition predicate
func MatchType(types ...command.Type) func(command.RenderCommand) bool {
	return func(c command.RenderCommand) bool {
		for _, t := range types {
			if c.Type() == t {
				return true
			}
		}
		return false
	}
}

// MatchInstances builds a rule condition matching commands whose instance
// count is at least min. Heavily instanced draws are a strong signal for the
// particle and entity phases.
func MatchInstances(min uint32) func(command.RenderCommand) bool {
	return func(c command.RenderCommand) bool {
		return c.InstanceCount() >= min
	}
}

// DefaultRules returns a forward ruleset over the canonical phase sequence.
// It encodes the broad shape of a frame: sky geometry is lightly indexed,
// the terrain fill is dominated by indexed-instanced chunk draws, particles
// arrive as heavily instanced non-indexed draws, and the tail groups advance
// on timeouts once their predecessors go quiet.
func DefaultRules() []TransitionRule {
	return []TransitionRule{
		// Bootstrap: the first command of a frame belongs to the sky group.
		{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},

		// Sky group collapses into terrain fill when instanced chunk draws appear.
		{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerCommandMatch,
			Condition: MatchType(command.TypeIndexedInstancedDraw), Confidence: 0.75},
		{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerTimeout, Confidence: 0.55},

		// Entity draws carry moderate instance counts on indexed geometry.
		{From: phase.TerrainSolid, To: phase.Entities, Trigger: TriggerCommandMatch,
			Condition: func(c command.RenderCommand) bool {
				return c.Type() == command.TypeIndexedInstancedDraw && c.InstanceCount() >= 2 && c.InstanceCount() < 64
			},
			Confidence: 0.65},
		{From: phase.TerrainSolid, To: phase.TerrainTranslucent, Trigger: TriggerTimeout, Confidence: 0.5},

		{From: phase.Entities, To: phase.TerrainTranslucent, Trigger: TriggerCommandMatch,
			Condition: MatchType(command.TypeIndexedDraw), Confidence: 0.6},
		{From: phase.Entities, To: phase.TerrainTranslucent, Trigger: TriggerTimeout, Confidence: 0.5},

		// Particles are non-indexed and heavily instanced.
		{From: phase.TerrainTranslucent, To: phase.Particles, Trigger: TriggerCommandMatch,
			Condition: func(c command.RenderCommand) bool {
				return c.Type() == command.TypeInstancedDraw && c.InstanceCount() >= 64
			},
			Confidence: 0.8},
		{From: phase.TerrainTranslucent, To: phase.HandSolid, Trigger: TriggerTimeout, Confidence: 0.5},

		{From: phase.Particles, To: phase.HandSolid, Trigger: TriggerCommandMatch,
			Condition: MatchType(command.TypeIndexedDraw), Confidence: 0.6},
		{From: phase.Particles, To: phase.HandSolid, Trigger: TriggerTimeout, Confidence: 0.5},

		{From: phase.HandSolid, To: phase.HandTranslucent, Trigger: TriggerCommandMatch,
			Condition: MatchType(command.TypeIndexedDraw), Confidence: 0.55},
		{From: phase.HandSolid, To: phase.Debug, Trigger: TriggerTimeout, Confidence: 0.5},
		{From: phase.HandTranslucent, To: phase.Debug, Trigger: TriggerTimeout, Confidence: 0.5},
	}
}
