package detector

import (
	"testing"
	"time"

	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
)

func mustDetector(t *testing.T, cfg Config, options ...DetectorBuilderOption) Detector {
	t.Helper()
	d, err := NewDetector(cfg, options...)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func indexedCmd() command.RenderCommand {
	return command.NewIndexedDraw(36, 1, 0, 0, 0)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := cfg
	bad.ConfidenceThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for threshold > 1")
	}
	bad = cfg
	bad.HistoryFrameCount = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative history count")
	}
	bad = cfg
	bad.Mode = Mode(99)
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := NewDetector(bad); err == nil {
		t.Error("NewDetector must refuse an invalid config")
	}
}

func TestManualModeMakesNoInference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeManual
	d := mustDetector(t, cfg, WithRules(DefaultRules()...))

	now := time.Now()
	for i := 0; i < 10; i++ {
		if p := d.ProcessCommand(indexedCmd(), now.Add(time.Duration(i)*time.Millisecond)); p != phase.None {
			t.Fatalf("manual mode inferred phase %v without an override", p)
		}
	}
	d.SetCurrentPhase(phase.Entities, 1.0)
	if p := d.ProcessCommand(indexedCmd(), now.Add(time.Second)); p != phase.Entities {
		t.Fatalf("manual mode should return the overridden phase, got %v", p)
	}
}

func TestManualOverrideFiresCallbackOnce(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	type change struct {
		old, new   phase.Phase
		confidence float64
	}
	var changes []change
	d.RegisterPhaseChangeCallback(func(old, new phase.Phase, confidence float64) {
		changes = append(changes, change{old, new, confidence})
	})

	d.SetCurrentPhase(phase.TerrainSolid, 1.0)
	if got := d.CurrentPhase(); got != phase.TerrainSolid {
		t.Fatalf("CurrentPhase = %v, want %v", got, phase.TerrainSolid)
	}
	if len(changes) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(changes))
	}
	if c := changes[0]; c.old != phase.None || c.new != phase.TerrainSolid || c.confidence != 1.0 {
		t.Fatalf("callback got (%v,%v,%v), want (none,terrain_solid,1.0)", c.old, c.new, c.confidence)
	}

	// Re-asserting the same phase is a no-op.
	d.SetCurrentPhase(phase.TerrainSolid, 1.0)
	if len(changes) != 1 {
		t.Fatalf("re-assert fired the callback again: %d calls", len(changes))
	}
}

func TestUnregisterPhaseChangeCallback(t *testing.T) {
	d := mustDetector(t, DefaultConfig())
	calls := 0
	id := d.RegisterPhaseChangeCallback(func(phase.Phase, phase.Phase, float64) { calls++ })
	d.UnregisterPhaseChangeCallback(id)
	d.SetCurrentPhase(phase.Sky, 1.0)
	if calls != 0 {
		t.Fatalf("unregistered callback fired %d times", calls)
	}
	d.UnregisterPhaseChangeCallback(42) // unknown id is a no-op
}

func TestCallbackPanicIsolation(t *testing.T) {
	d := mustDetector(t, DefaultConfig())
	secondRan := false
	d.RegisterPhaseChangeCallback(func(phase.Phase, phase.Phase, float64) {
		panic("listener bug")
	})
	d.RegisterPhaseChangeCallback(func(phase.Phase, phase.Phase, float64) {
		secondRan = true
	})

	d.SetCurrentPhase(phase.Sky, 1.0)
	if !secondRan {
		t.Fatal("panicking listener aborted its sibling")
	}
	if got := d.Metrics().CallbackPanics; got != 1 {
		t.Fatalf("CallbackPanics = %d, want 1", got)
	}
}

func TestRuleTransition(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))

	now := time.Now()
	if p := d.ProcessCommand(indexedCmd(), now); p != phase.Sky {
		t.Fatalf("expected bootstrap transition to sky, got %v", p)
	}
	if got := d.CurrentConfidence(); got != 0.9 {
		t.Fatalf("CurrentConfidence = %v, want 0.9", got)
	}
	if got := d.Metrics().RuleTransitions; got != 1 {
		t.Fatalf("RuleTransitions = %d, want 1", got)
	}
}

func TestRuleBelowThresholdDoesNotFire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.8
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.6},
	))
	if p := d.ProcessCommand(indexedCmd(), time.Now()); p != phase.None {
		t.Fatalf("rule below threshold transitioned to %v", p)
	}
}

func TestRuleTieBreak(t *testing.T) {
	// Highest confidence wins; equal confidences fall back to registration
	// order.
	d := mustDetector(t, DefaultConfig(), WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.6},
		TransitionRule{From: phase.None, To: phase.TerrainSolid, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))
	if p := d.ProcessCommand(indexedCmd(), time.Now()); p != phase.TerrainSolid {
		t.Fatalf("highest confidence should win, got %v", p)
	}

	d = mustDetector(t, DefaultConfig(), WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.7},
		TransitionRule{From: phase.None, To: phase.TerrainSolid, Trigger: TriggerCommandMatch, Confidence: 0.7},
	))
	if p := d.ProcessCommand(indexedCmd(), time.Now()); p != phase.Sky {
		t.Fatalf("equal confidence must keep registration order, got %v", p)
	}
}

func TestMinPhaseTimeHoldsTransition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPhaseTimeUs = 0
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
		TransitionRule{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerCommandMatch,
			Confidence: 0.9, MinPhaseTime: 10 * time.Millisecond},
	))

	t0 := time.Now()
	if p := d.ProcessCommand(indexedCmd(), t0); p != phase.Sky {
		t.Fatalf("bootstrap failed: %v", p)
	}
	// Too soon for the second rule.
	if p := d.ProcessCommand(indexedCmd(), t0.Add(time.Millisecond)); p != phase.Sky {
		t.Fatalf("rule fired before its minimum hold time: %v", p)
	}
	if p := d.ProcessCommand(indexedCmd(), t0.Add(20*time.Millisecond)); p != phase.TerrainSolid {
		t.Fatalf("rule did not fire after its minimum hold time: %v", p)
	}
}

func TestTimeoutTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhaseTimeoutUs = 5000 // 5ms
	cfg.MinPhaseTimeUs = 0
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
		TransitionRule{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerTimeout, Confidence: 0.6},
	))

	t0 := time.Now()
	d.ProcessCommand(indexedCmd(), t0)
	if p := d.ProcessCommand(indexedCmd(), t0.Add(time.Millisecond)); p != phase.Sky {
		t.Fatalf("timeout rule fired before the phase went stale: %v", p)
	}
	if p := d.ProcessCommand(indexedCmd(), t0.Add(10*time.Millisecond)); p != phase.TerrainSolid {
		t.Fatalf("timeout rule did not fire on a stale phase: %v", p)
	}
	if got := d.Metrics().TimeoutTransitions; got != 1 {
		t.Fatalf("TimeoutTransitions = %d, want 1", got)
	}
}

func TestFrameStatisticsFolding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPhaseTimeUs = 0
	d := mustDetector(t, cfg)

	t0 := time.Now()
	d.BeginFrame(1, t0)
	d.SetCurrentPhase(phase.TerrainSolid, 1.0)
	for i := 0; i < 5; i++ {
		d.ProcessCommand(command.NewIndexedDraw(36, 8, 0, 0, 0), t0.Add(time.Millisecond))
	}
	d.EndFrame(t0.Add(10 * time.Millisecond))

	stats := d.Statistics(phase.TerrainSolid)
	if stats.CommandCount != 5 {
		t.Fatalf("CommandCount = %d, want 5", stats.CommandCount)
	}
	if stats.CommandTypeCounts[command.TypeIndexedInstancedDraw] != 5 {
		t.Fatalf("type counts = %v, want 5 indexed-instanced", stats.CommandTypeCounts)
	}
	if stats.Samples != 1 {
		t.Fatalf("Samples = %d, want 1", stats.Samples)
	}
	if stats.MinTime > stats.AverageTime || stats.AverageTime > stats.MaxTime {
		t.Fatalf("min %v <= avg %v <= max %v violated", stats.MinTime, stats.AverageTime, stats.MaxTime)
	}
	if stats.Confidence <= 0 || stats.Confidence >= 1 {
		t.Fatalf("Confidence = %v, want in (0,1)", stats.Confidence)
	}

	// A second, longer frame keeps the invariant.
	t1 := t0.Add(time.Second)
	d.BeginFrame(2, t1)
	d.ProcessCommand(command.NewIndexedDraw(36, 8, 0, 0, 0), t1.Add(time.Millisecond))
	d.EndFrame(t1.Add(30 * time.Millisecond))

	stats = d.Statistics(phase.TerrainSolid)
	if stats.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", stats.Samples)
	}
	if stats.MinTime > stats.AverageTime || stats.AverageTime > stats.MaxTime {
		t.Fatalf("min %v <= avg %v <= max %v violated after second frame", stats.MinTime, stats.AverageTime, stats.MaxTime)
	}
	if stats.MinTime == stats.MaxTime {
		t.Fatal("expected distinct min and max after frames of different lengths")
	}
}

func TestTransitionCommandCreditsEnteredPhase(t *testing.T) {
	d := mustDetector(t, DefaultConfig(), WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))

	t0 := time.Now()
	d.BeginFrame(1, t0)
	if p := d.ProcessCommand(indexedCmd(), t0); p != phase.Sky {
		t.Fatalf("bootstrap failed: %v", p)
	}
	d.EndFrame(t0.Add(5 * time.Millisecond))

	// The command that opened the phase counts toward it, not toward the
	// phase it left behind.
	if got := d.Statistics(phase.Sky).CommandCount; got != 1 {
		t.Fatalf("sky CommandCount = %d, want 1", got)
	}
	if got := d.Statistics(phase.None).CommandCount; got != 0 {
		t.Fatalf("none CommandCount = %d, want 0", got)
	}
}

func TestBeginFrameResetsFrameHistoryOnly(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))

	t0 := time.Now()
	d.BeginFrame(1, t0)
	d.ProcessCommand(indexedCmd(), t0)
	d.EndFrame(t0.Add(5 * time.Millisecond))

	before := d.Statistics(phase.Sky).CommandCount
	d.BeginFrame(2, t0.Add(time.Second))
	after := d.Statistics(phase.Sky).CommandCount
	if before == 0 || before != after {
		t.Fatalf("BeginFrame must preserve learned statistics: before=%d after=%d", before, after)
	}
	if len(d.Rules()) != 1 {
		t.Fatal("BeginFrame must preserve registered rules")
	}
}

func TestStatisticalBiasPrefersLearnedTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeStatistical
	cfg.MinPhaseTimeUs = 0
	d := mustDetector(t, cfg, WithRules(
		// Equal confidence and equal conditions: without bias the terrain
		// rule would always win on registration order.
		TransitionRule{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerStatistical, Confidence: 0.6},
		TransitionRule{From: phase.Sky, To: phase.Particles, Trigger: TriggerStatistical, Confidence: 0.6},
	))

	// Teach the detector that the particles phase is dominated by instanced
	// draws.
	t0 := time.Now()
	d.BeginFrame(1, t0)
	d.SetCurrentPhase(phase.Particles, 1.0)
	for i := 0; i < 32; i++ {
		d.ProcessCommand(command.NewInstancedDraw(4, 128, 0, 0), t0.Add(time.Millisecond))
	}
	d.EndFrame(t0.Add(5 * time.Millisecond))

	t1 := t0.Add(time.Second)
	d.BeginFrame(2, t1)
	d.SetCurrentPhase(phase.Sky, 1.0)
	if p := d.ProcessCommand(command.NewInstancedDraw(4, 128, 0, 0), t1.Add(10*time.Millisecond)); p != phase.Particles {
		t.Fatalf("learned command mix should bias toward particles, got %v", p)
	}
	if got := d.Metrics().PredictionsMade; got != 1 {
		t.Fatalf("PredictionsMade = %d, want 1", got)
	}
}

func TestHybridPredictionScoring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHybrid
	cfg.MinPhaseTimeUs = 0
	d := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))

	d.ProcessCommand(indexedCmd(), time.Now())
	// The manual override agrees with the prediction: confirmed, even
	// though the phase itself does not change.
	d.SetCurrentPhase(phase.Sky, 1.0)
	m := d.Metrics()
	if m.PredictionsMade != 1 || m.PredictionsConfirmed != 1 {
		t.Fatalf("metrics after agreeing override = %+v, want 1 made / 1 confirmed", m)
	}
	if m.Accuracy != 1 {
		t.Fatalf("Accuracy = %v, want 1 after one hit", m.Accuracy)
	}

	// A disagreeing override scores a miss.
	d2 := mustDetector(t, cfg, WithRules(
		TransitionRule{From: phase.None, To: phase.Sky, Trigger: TriggerCommandMatch, Confidence: 0.9},
	))
	d2.ProcessCommand(indexedCmd(), time.Now())
	d2.SetCurrentPhase(phase.TerrainSolid, 1.0)
	m = d2.Metrics()
	if m.PredictionsRejected != 1 {
		t.Fatalf("PredictionsRejected = %d, want 1", m.PredictionsRejected)
	}
	if m.Accuracy != 0 {
		t.Fatalf("Accuracy = %v, want 0 after one miss", m.Accuracy)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeStatistical
	cfg.MinPhaseTimeUs = 0
	rules := []TransitionRule{
		{From: phase.Sky, To: phase.TerrainSolid, Trigger: TriggerStatistical, Confidence: 0.6},
		{From: phase.Sky, To: phase.Particles, Trigger: TriggerStatistical, Confidence: 0.6},
	}

	trained := mustDetector(t, cfg, WithRules(rules...))
	t0 := time.Now()
	trained.BeginFrame(1, t0)
	trained.SetCurrentPhase(phase.Particles, 1.0)
	for i := 0; i < 32; i++ {
		trained.ProcessCommand(command.NewInstancedDraw(4, 128, 0, 0), t0.Add(time.Millisecond))
	}
	trained.EndFrame(t0.Add(5 * time.Millisecond))

	buf, err := trained.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	fresh := mustDetector(t, cfg, WithRules(rules...))
	if err := fresh.Import(buf); err != nil {
		t.Fatalf("Import: %v", err)
	}

	// The restored detector must predict like the trained one.
	t1 := t0.Add(time.Second)
	fresh.BeginFrame(1, t1)
	fresh.SetCurrentPhase(phase.Sky, 1.0)
	if p := fresh.ProcessCommand(command.NewInstancedDraw(4, 128, 0, 0), t1.Add(10*time.Millisecond)); p != phase.Particles {
		t.Fatalf("imported statistics did not reproduce prediction behavior, got %v", p)
	}

	gotStats := fresh.Statistics(phase.Particles)
	wantStats := trained.Statistics(phase.Particles)
	if gotStats.CommandCount != wantStats.CommandCount || gotStats.Samples != wantStats.Samples {
		t.Fatalf("imported statistics = %+v, want %+v", gotStats, wantStats)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	d := mustDetector(t, DefaultConfig())
	if err := d.Import([]byte("::: not yaml")); err == nil {
		t.Error("expected error for malformed snapshot")
	}
	if err := d.Import([]byte("version: 99\n")); err == nil {
		t.Error("expected error for unsupported snapshot version")
	}
}

func TestModeNameRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeAutomatic, ModeManual, ModeHybrid, ModeStatistical} {
		got, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", m.String(), err)
		}
		if got != m {
			t.Fatalf("ParseMode(%q) = %v, want %v", m.String(), got, m)
		}
	}
	if _, err := ParseMode("learned"); err == nil {
		t.Error("expected error for unknown mode name")
	}
}
