package detector

import "go.uber.org/zap"

// DetectorBuilderOption is a functional option applied to a detector during
// construction via NewDetector.
type DetectorBuilderOption func(*detector)

// WithLogger attaches a component logger to the detector. The detector logs
// under the given logger's name; pass logger.Named("PhaseDetector") to key
// lines by component.
//
// Parameters:
//   - log: the logger to use (nil keeps the no-op default)
//
// Returns:
//   - DetectorBuilderOption: a function that applies the logger option
func WithLogger(log *zap.Logger) DetectorBuilderOption {
	return func(d *detector) {
		if log != nil {
			d.log = log
		}
	}
}

// WithRules registers transition rules at construction time, in order.
//
// Parameters:
//   - rules: the rules to register
//
// Returns:
//   - DetectorBuilderOption: a function that applies the rules option
func WithRules(rules ...TransitionRule) DetectorBuilderOption {
	return func(d *detector) {
		d.rules = append(d.rules, rules...)
	}
}

// WithPhaseChangeCallback registers a transition listener at construction
// time.
//
// Parameters:
//   - fn: the listener to register
//
// Returns:
//   - DetectorBuilderOption: a function that applies the callback option
func WithPhaseChangeCallback(fn PhaseChangeCallback) DetectorBuilderOption {
	return func(d *detector) {
		id := d.nextCallbackID
		d.nextCallbackID++
		d.callbacks = append(d.callbacks, registeredCallback{id: id, fn: fn})
	}
}
