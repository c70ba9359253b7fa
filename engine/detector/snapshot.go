package detector

import (
	"fmt"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
	"gopkg.in/yaml.v3"
)

// snapshotVersion guards against loading buffers written by an incompatible
// build.
const snapshotVersion = 1

type snapshotFile struct {
	Version int                      `yaml:"version"`
	Phases  map[string]phaseSnapshot `yaml:"phases"`
	Rules   []ruleSnapshot           `yaml:"rules"`
	History []frameSnapshot          `yaml:"history"`
}

type phaseSnapshot struct {
	Samples      uint64            `yaml:"samples"`
	CommandCount uint64            `yaml:"command_count"`
	TotalTimeUs  uint64            `yaml:"total_time_us"`
	MinTimeUs    uint64            `yaml:"min_time_us"`
	MaxTimeUs    uint64            `yaml:"max_time_us"`
	CommandTypes map[string]uint64 `yaml:"command_types,omitempty"`
}

type ruleSnapshot struct {
	From       string  `yaml:"from"`
	To         string  `yaml:"to"`
	Trigger    string  `yaml:"trigger"`
	Confidence float64 `yaml:"confidence"`
}

type frameSnapshot struct {
	Frame  uint64                        `yaml:"frame"`
	Phases map[string]framePhaseSnapshot `yaml:"phases"`
}

type framePhaseSnapshot struct {
	DurationUs   uint64            `yaml:"duration_us"`
	Commands     uint64            `yaml:"commands"`
	CommandTypes map[string]uint64 `yaml:"command_types,omitempty"`
}

// Export serializes the learned statistics, the registered rule weights and
// the frame history as YAML. The buffer is opaque to callers; the only
// contract is that Import(Export()) reproduces prediction behavior.
func (d *detector) Export() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file := snapshotFile{
		Version: snapshotVersion,
		Phases:  make(map[string]phaseSnapshot),
	}

	for p := phase.None; p < phase.Count; p++ {
		acc := &d.stats[p]
		if acc.samples == 0 && acc.commandCount == 0 {
			continue
		}
		file.Phases[p.String()] = phaseSnapshot{
			Samples:      acc.samples,
			CommandCount: acc.commandCount,
			TotalTimeUs:  uint64(acc.totalTime / time.Microsecond),
			MinTimeUs:    uint64(acc.minTime / time.Microsecond),
			MaxTimeUs:    uint64(acc.maxTime / time.Microsecond),
			CommandTypes: typeCountsOut(acc.typeCounts),
		}
	}

	for _, r := range d.rules {
		file.Rules = append(file.Rules, ruleSnapshot{
			From:       r.From.String(),
			To:         r.To.String(),
			Trigger:    r.Trigger.String(),
			Confidence: r.Confidence,
		})
	}

	for _, rec := range d.history {
		fs := frameSnapshot{Frame: rec.frame, Phases: make(map[string]framePhaseSnapshot, len(rec.samples))}
		for p, s := range rec.samples {
			fs.Phases[p.String()] = framePhaseSnapshot{
				DurationUs:   uint64(s.duration / time.Microsecond),
				Commands:     s.commands,
				CommandTypes: typeCountsOut(s.typeCounts),
			}
		}
		file.History = append(file.History, fs)
	}

	out, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("marshal detector snapshot: %w", err)
	}
	return out, nil
}

// Import restores a buffer produced by Export. Statistics and history are
// replaced; registered rules keep their conditions and only pick up matching
// confidences from the snapshot.
func (d *detector) Import(data []byte) error {
	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("unmarshal detector snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return fmt.Errorf("unsupported detector snapshot version %d", file.Version)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = [phase.Count]phaseAccumulator{}
	for name, ps := range file.Phases {
		p, err := phase.ParsePhase(name)
		if err != nil {
			return fmt.Errorf("detector snapshot: %w", err)
		}
		counts, err := typeCountsIn(ps.CommandTypes)
		if err != nil {
			return fmt.Errorf("detector snapshot phase %s: %w", name, err)
		}
		d.stats[p] = phaseAccumulator{
			samples:      ps.Samples,
			commandCount: ps.CommandCount,
			totalTime:    time.Duration(ps.TotalTimeUs) * time.Microsecond,
			minTime:      time.Duration(ps.MinTimeUs) * time.Microsecond,
			maxTime:      time.Duration(ps.MaxTimeUs) * time.Microsecond,
			typeCounts:   counts,
		}
	}

	for _, rs := range file.Rules {
		from, err := phase.ParsePhase(rs.From)
		if err != nil {
			return fmt.Errorf("detector snapshot rule: %w", err)
		}
		to, err := phase.ParsePhase(rs.To)
		if err != nil {
			return fmt.Errorf("detector snapshot rule: %w", err)
		}
		trigger, err := ParseTriggerType(rs.Trigger)
		if err != nil {
			return fmt.Errorf("detector snapshot rule: %w", err)
		}
		for i := range d.rules {
			r := &d.rules[i]
			if r.From == from && r.To == to && r.Trigger == trigger {
				r.Confidence = rs.Confidence
				break
			}
		}
	}

	d.history = d.history[:0]
	for _, fs := range file.History {
		rec := frameRecord{frame: fs.Frame, samples: make(map[phase.Phase]frameSample, len(fs.Phases))}
		for name, ps := range fs.Phases {
			p, err := phase.ParsePhase(name)
			if err != nil {
				return fmt.Errorf("detector snapshot history: %w", err)
			}
			counts, err := typeCountsIn(ps.CommandTypes)
			if err != nil {
				return fmt.Errorf("detector snapshot history: %w", err)
			}
			rec.samples[p] = frameSample{
				duration:   time.Duration(ps.DurationUs) * time.Microsecond,
				commands:   ps.Commands,
				typeCounts: counts,
			}
		}
		d.history = append(d.history, rec)
	}
	if d.cfg.HistoryFrameCount > 0 && len(d.history) > d.cfg.HistoryFrameCount {
		d.history = d.history[len(d.history)-d.cfg.HistoryFrameCount:]
	}
	return nil
}

func typeCountsOut(counts [numCommandTypes]uint64) map[string]uint64 {
	out := make(map[string]uint64)
	for t, n := range counts {
		if n > 0 {
			out[command.Type(t).String()] = n
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func typeCountsIn(m map[string]uint64) ([numCommandTypes]uint64, error) {
	var counts [numCommandTypes]uint64
	for name, n := range m {
		t, err := command.ParseType(name)
		if err != nil {
			return counts, err
		}
		counts[t] = n
	}
	return counts, nil
}
