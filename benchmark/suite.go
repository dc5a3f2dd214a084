package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/evaluator"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/results"
)

// Suite manages and executes benchmark scenarios against one dataset.
type Suite struct {
	scenarios []Scenario
	dataset   dataset.Dataset
	outputDir string
	log       *zap.SugaredLogger
	mu        sync.RWMutex
	results   []PerformanceMetrics
}

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	Dataset    dataset.Dataset    `json:"-"          yaml:"-"`
	Logger     *zap.SugaredLogger `json:"-"          yaml:"-"`
	OutputPath string             `json:"outputPath" yaml:"outputPath"`
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
//   - error: An error if no dataset is given.
func NewSuite(args NewSuiteArgs) (*Suite, error) {
	if args.Dataset == nil {
		return nil, errors.New("benchmark suite requires a dataset")
	}
	log := args.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Suite{
		dataset:   args.Dataset,
		outputDir: args.OutputPath,
		log:       log,
		scenarios: make([]Scenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}, nil
}

// AddScenario adds a scenario to the benchmark suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// Scenarios returns a copy of the configured scenarios.
func (bs *Suite) Scenarios() []Scenario {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]Scenario(nil), bs.scenarios...)
}

// RunScenario evaluates the dataset WarmupRuns + Iterations times with the
// scenario's generator and reports the measured iterations. Recall figures
// come from the last iteration; per-image failures count towards ErrorRate
// and never fail the scenario.
//
// Arguments:
//   - ctx: Cancels the scenario.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid, the generator cannot be
//     created or the context is cancelled.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations < 1 {
		return nil, errors.Errorf("scenario %s: iterations must be at least 1, got %d", scenario.Name, scenario.Iterations)
	}

	gen, err := proposals.New(scenario.Generator)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}
	defer func() {
		if err := proposals.Close(gen); err != nil {
			bs.log.Warnw("closing generator", "scenario", scenario.Name, "error", err)
		}
	}()

	ev, err := evaluator.New(evaluator.Config{
		Count:        scenario.Images,
		Threshold:    scenario.Threshold,
		MaxProposals: scenario.MaxProposals,
		Selector:     dataset.Sequential{},
		Label:        common.Positive,
		Workers:      scenario.Workers,
	}, bs.log.With("scenario", scenario.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	var ds dataset.Dataset = bs.dataset
	if r := scenario.Resolution; r != nil {
		ds = dataset.Resized{Dataset: ds, Width: r.Width, Height: r.Height}
	}

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := ev.Evaluate(ctx, ds, gen); err != nil {
			return nil, errors.Wrapf(err, "scenario %s warmup", scenario.Name)
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	var last *results.DatasetResult
	startTime := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if last, err = ev.Evaluate(ctx, ds, gen); err != nil {
			return nil, errors.Wrapf(err, "scenario %s iteration %d", scenario.Name, i)
		}
	}
	totalDuration := time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.TotalDuration = totalDuration
	metrics.MeanIteration = totalDuration / time.Duration(scenario.Iterations)
	metrics.Images = last.Len()
	if secs := totalDuration.Seconds(); secs > 0 {
		metrics.ImagesPerSecond = float64(last.Len()*scenario.Iterations) / secs
	}
	metrics.MeanRecall = last.MeanRecall()
	metrics.OverallRecall = last.OverallRecall()
	metrics.MeanProposals = last.MeanProposals()
	metrics.FailedImages = len(last.Failed())
	if last.Len() > 0 {
		metrics.ErrorRate = float64(metrics.FailedImages) / float64(last.Len())
	}

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	metrics.CPUStats = CPUMetrics{
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
	}

	return metrics, nil
}

// RunAllScenarios executes every configured scenario in order and saves the
// results. A failed scenario is logged and skipped; cancellation stops the
// run after saving what completed.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	for _, scenario := range bs.Scenarios() {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				if saveErr := bs.SaveResults(); saveErr != nil {
					bs.log.Errorw("saving partial results", "error", saveErr)
				}
				return ctx.Err()
			}
			bs.log.Errorw("scenario failed", "scenario", scenario.Name, "error", err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.log.Infow("scenario completed",
			"scenario", scenario.Name,
			"images_per_second", metrics.ImagesPerSecond,
			"mean_recall", metrics.MeanRecall,
			"mean_proposals", metrics.MeanProposals,
		)
	}

	return bs.SaveResults()
}

// SaveResults writes the results as JSON plus a CSV summary, both stamped
// with the current time.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "failed to save summary CSV")
	}

	bs.log.Infow("results saved", "results", resultsFile, "summary", summaryFile)
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{
		"scenario", "generator", "threshold", "max_proposals", "resolution",
		"images_per_second", "total_duration_ms", "alloc_mb",
		"mean_recall", "overall_recall", "mean_proposals", "error_rate",
	}); err != nil {
		return err
	}
	for _, r := range results {
		resolution := "native"
		if r.Scenario.Resolution != nil {
			resolution = r.Scenario.Resolution.Name
		}
		if err := w.Write([]string{
			r.Scenario.Name,
			r.Scenario.Generator.String(),
			strconv.FormatFloat(r.Scenario.Threshold, 'f', -1, 64),
			strconv.Itoa(r.Scenario.MaxProposals),
			resolution,
			strconv.FormatFloat(r.ImagesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(float64(r.TotalDuration.Nanoseconds())/1e6, 'f', 2, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.FormatFloat(r.MeanRecall, 'f', 4, 64),
			strconv.FormatFloat(r.OverallRecall, 'f', 4, 64),
			strconv.FormatFloat(r.MeanProposals, 'f', 1, 64),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// GetResults returns all benchmark results.
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
