// Package profiler samples runtime statistics and evaluation stage timings
// while a run is in progress and reports them through a zap logger.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures the profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 10s)
	ReportInterval time.Duration
	// MaxSamples bounds the rolling window kept per stage (default: 1000)
	MaxSamples int
}

// StageStats summarises the durations observed for one stage.
type StageStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Snapshot is a point-in-time view of the profiler.
type Snapshot struct {
	Uptime     time.Duration         `json:"uptime"`
	Goroutines int                   `json:"goroutines"`
	HeapAlloc  uint64                `json:"heap_alloc"`
	TotalAlloc uint64                `json:"total_alloc"`
	Sys        uint64                `json:"sys"`
	NumGC      uint32                `json:"num_gc"`
	Stages     map[string]StageStats `json:"stages"`
}

type stageTracker struct {
	window []time.Duration
	total  time.Duration
	min    time.Duration
	max    time.Duration
	count  int64
}

// Profiler records stage timings and periodically logs a status report. It
// implements evaluator.Observer.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int
	log            *zap.SugaredLogger

	mu        sync.RWMutex
	startTime time.Time
	stages    map[string]*stageTracker
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a profiler. A nil logger discards the reports.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//   - log: Receives the periodic reports at info level.
//
// Returns:
//   - *Profiler: The profiler, not yet started.
func New(opts Options, log *zap.SugaredLogger) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1000
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		log:            log,
		startTime:      time.Now(),
		stages:         make(map[string]*stageTracker),
	}
}

// Start begins periodic reporting until ctx is done or Stop is called.
// Calling Start on a running profiler does nothing.
func (p *Profiler) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.startTime = time.Now()

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop ends reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Observe records one stage duration. Min, max and count cover every
// observation; the mean covers the last MaxSamples.
func (p *Profiler) Observe(stage string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.stages[stage]
	if !ok {
		t = &stageTracker{min: d, max: d}
		p.stages[stage] = t
	}
	t.window = append(t.window, d)
	t.total += d
	if len(t.window) > p.maxSamples {
		t.total -= t.window[0]
		t.window = t.window[1:]
	}
	t.count++
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// Time starts timing stage and returns the function that records it.
//
// @example
// done := prof.Time("save")
// err := store.Save(res, path)
// done()
func (p *Profiler) Time(stage string) func() {
	start := time.Now()
	return func() { p.Observe(stage, time.Since(start)) }
}

// Snapshot returns the current statistics.
func (p *Profiler) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Uptime:     time.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		TotalAlloc: mem.TotalAlloc,
		Sys:        mem.Sys,
		NumGC:      mem.NumGC,
		Stages:     make(map[string]StageStats, len(p.stages)),
	}
	for name, t := range p.stages {
		st := StageStats{Count: t.count, Min: t.min, Max: t.max}
		if n := len(t.window); n > 0 {
			st.Mean = t.total / time.Duration(n)
		}
		s.Stages[name] = st
	}
	return s
}

// Report logs the current snapshot, one line for the runtime and one per
// stage in name order.
func (p *Profiler) Report() {
	s := p.Snapshot()
	p.log.Infow("runtime",
		"uptime", s.Uptime.Truncate(time.Millisecond),
		"goroutines", s.Goroutines,
		"heap_alloc_mb", float64(s.HeapAlloc)/(1024*1024),
		"sys_mb", float64(s.Sys)/(1024*1024),
		"num_gc", s.NumGC,
	)

	names := make([]string, 0, len(s.Stages))
	for name := range s.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Stages[name]
		p.log.Infow("stage timing",
			"stage", name,
			"count", st.Count,
			"mean", st.Mean.Truncate(time.Microsecond),
			"min", st.Min.Truncate(time.Microsecond),
			"max", st.Max.Truncate(time.Microsecond),
		)
	}
}
