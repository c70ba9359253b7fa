package queue

import (
	"github.com/enigma-engine/enigma-go/engine/detector"
	"go.uber.org/zap"
)

// QueueBuilderOption is a functional option applied to a queue during
// construction via NewCommandQueue.
type QueueBuilderOption func(*commandQueue)

// WithLogger attaches a component logger to the queue. The queue also derives
// the detector's logger from it as Named("PhaseDetector").
//
// Parameters:
//   - log: the logger to use (nil keeps the no-op default)
//
// Returns:
//   - QueueBuilderOption: a function that applies the logger option
func WithLogger(log *zap.Logger) QueueBuilderOption {
	return func(q *commandQueue) {
		if log != nil {
			q.log = log
		}
	}
}

// WithRules seeds the detector with transition rules when Initialize
// allocates it.
//
// Parameters:
//   - rules: the rules to register, in order
//
// Returns:
//   - QueueBuilderOption: a function that applies the rules option
func WithRules(rules ...detector.TransitionRule) QueueBuilderOption {
	return func(q *commandQueue) {
		q.rules = append(q.rules, rules...)
	}
}

// WithDetector injects a pre-built detector instead of letting Initialize
// allocate one from the detector configuration.
//
// Parameters:
//   - d: the detector to use
//
// Returns:
//   - QueueBuilderOption: a function that applies the detector option
func WithDetector(d detector.Detector) QueueBuilderOption {
	return func(q *commandQueue) {
		q.detOverride = d
	}
}
