package profiler

import (
	"runtime"
	"time"

	"github.com/enigma-engine/enigma-go/engine/queue"
	"go.uber.org/zap"
)

// Profiler tracks frame rate, memory statistics and command-queue throughput.
// Reports through the engine logger at a configurable interval.
type Profiler struct {
	log *zap.Logger
	q   queue.Queue

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	lastQueueStats queue.Stats
}

// ProfilerBuilderOption is a functional option applied to a profiler during
// construction via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithLogger attaches a component logger to the profiler.
//
// Parameters:
//   - log: the logger to report through (nil keeps the no-op default)
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the logger option
func WithLogger(log *zap.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if log != nil {
			p.log = log
		}
	}
}

// WithInterval sets how often the profiler reports.
//
// Parameters:
//   - interval: the reporting interval (ignored if <= 0)
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option
func WithInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithQueue folds the command queue's counters into each report: commands
// submitted, executed and dropped since the previous report.
//
// Parameters:
//   - q: the queue to sample
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the queue option
func WithQueue(q queue.Queue) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.q = q
	}
}

// NewProfiler creates a Profiler. The reporting interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		log:            zap.NewNop(),
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Tick should be called once per frame. Reports when the update interval has
// elapsed: FPS, heap usage, allocation rate, GC count/pause times, and — when
// a queue is attached — command throughput for the interval.
//
// Returns:
//   - bool: true if stats were reported this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	// Alloc is live heap; TotalAlloc is cumulative churn; Sys is the actual
	// process footprint from the OS.
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses.
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	fields := []zap.Field{
		zap.Float64("fps", fps),
		zap.Float64("heap_mb", allocMB),
		zap.Float64("alloc_rate_mb_s", allocRateMB),
		zap.Uint32("gc_count", gcCount),
		zap.Uint64("gc_last_pause_us", lastPauseUs),
		zap.Uint64("gc_max_pause_us", maxPauseUs),
		zap.Float64("sys_mb", sysMB),
	}

	if p.q != nil {
		stats := p.q.Stats()
		fields = append(fields,
			zap.Uint64("commands_submitted", stats.Submitted-p.lastQueueStats.Submitted),
			zap.Uint64("commands_executed", stats.Executed-p.lastQueueStats.Executed),
			zap.Uint64("commands_dropped", stats.Dropped-p.lastQueueStats.Dropped),
			zap.Uint64("commands_rejected", stats.Rejected-p.lastQueueStats.Rejected),
			zap.Float64("avg_commands_per_frame", stats.AvgCommandsPerFrame),
		)
		p.lastQueueStats = stats
	}

	p.log.Info("frame profile", fields...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
