package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-recall/proposals"
)

// Resolution is the size every image is resized to before proposals are
// generated.
type Resolution struct {
	Width  int    `json:"width"  yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name"   yaml:"name"`
}

// CommonResolutions are the input sizes compared by the resolution scenarios.
var CommonResolutions = []Resolution{
	{Width: 320, Height: 320, Name: "320x320"},
	{Width: 416, Height: 416, Name: "416x416"},
	{Width: 640, Height: 640, Name: "640x640"},
	{Width: 1024, Height: 1024, Name: "1024x1024"},
}

// Scenario defines one evaluation configuration to measure.
type Scenario struct {
	Name         string         `json:"name"          yaml:"name"`
	Generator    proposals.Spec `json:"generator"     yaml:"generator"`
	Threshold    float64        `json:"threshold"     yaml:"threshold"`
	MaxProposals int            `json:"max_proposals" yaml:"max_proposals"`
	Images       int            `json:"images"        yaml:"images"`
	Workers      int            `json:"workers"       yaml:"workers"`
	Resolution   *Resolution    `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Iterations   int            `json:"iterations"    yaml:"iterations"`
	WarmupRuns   int            `json:"warmup_runs"   yaml:"warmup_runs"`
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a builder for a sliding window run at IoU 0.5
// with at most 9000 proposals per image over the whole dataset.
//
// @example
// s := NewScenarioBuilder("contours_fast").
//
//	WithGenerator(proposals.Spec{Kind: proposals.KindContours, Mode: proposals.ModeFast}).
//	WithImages(20).
//	Build()
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:         name,
			Generator:    proposals.Spec{Kind: proposals.KindWindow},
			Threshold:    0.5,
			MaxProposals: 9000,
			Workers:      1,
			Iterations:   3,
			WarmupRuns:   1,
		},
	}
}

// WithGenerator sets the proposal generator.
func (sb *ScenarioBuilder) WithGenerator(spec proposals.Spec) *ScenarioBuilder {
	sb.scenario.Generator = spec
	return sb
}

// WithThreshold sets the IoU threshold.
func (sb *ScenarioBuilder) WithThreshold(threshold float64) *ScenarioBuilder {
	sb.scenario.Threshold = threshold
	return sb
}

// WithMaxProposals sets the per-image proposal cap.
func (sb *ScenarioBuilder) WithMaxProposals(limit int) *ScenarioBuilder {
	sb.scenario.MaxProposals = limit
	return sb
}

// WithImages sets the number of images per iteration.
func (sb *ScenarioBuilder) WithImages(count int) *ScenarioBuilder {
	sb.scenario.Images = count
	return sb
}

// WithWorkers sets the evaluator concurrency.
func (sb *ScenarioBuilder) WithWorkers(workers int) *ScenarioBuilder {
	sb.scenario.Workers = workers
	return sb
}

// WithResolution resizes every image before generation.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = &Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithIterations sets the number of measured iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of unmeasured iterations.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"        yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios"   yaml:"scenarios"`
}

// PredefinedScenarios contains common scenario sets.
type PredefinedScenarios struct{}

// GetQuickScenarios runs each generator once over a handful of images.
func (ps *PredefinedScenarios) GetQuickScenarios(specs []proposals.Spec) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(specs))
	for _, spec := range specs {
		scenarios = append(scenarios, NewScenarioBuilder("quick_"+specName(spec)).
			WithGenerator(spec).
			WithImages(10).
			WithIterations(1).
			WithWarmupRuns(0).
			Build())
	}
	return &ScenarioSet{
		Name:        "Quick Recall Test",
		Description: "One pass per generator over ten images at IoU 0.5",
		Scenarios:   scenarios,
	}
}

// GetComprehensiveScenarios crosses every generator with the common IoU
// thresholds and proposal caps.
func (ps *PredefinedScenarios) GetComprehensiveScenarios(specs []proposals.Spec) *ScenarioSet {
	var scenarios []Scenario
	for _, spec := range specs {
		for _, threshold := range []float64{0.5, 0.7, 0.9} {
			for _, limit := range []int{100, 1000, 9000} {
				scenarios = append(scenarios, NewScenarioBuilder(
					fmt.Sprintf("%s_iou%.2f_max%d", specName(spec), threshold, limit)).
					WithGenerator(spec).
					WithThreshold(threshold).
					WithMaxProposals(limit).
					Build())
			}
		}
	}
	return &ScenarioSet{
		Name:        "Comprehensive Recall Test",
		Description: "Every generator at IoU 0.5, 0.7 and 0.9 with 100, 1000 and 9000 proposals",
		Scenarios:   scenarios,
	}
}

// GetThresholdScenarios measures one generator at each threshold.
func (ps *PredefinedScenarios) GetThresholdScenarios(spec proposals.Spec, thresholds []float64) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(thresholds))
	for _, threshold := range thresholds {
		scenarios = append(scenarios, NewScenarioBuilder(
			fmt.Sprintf("threshold_%s_%.2f", specName(spec), threshold)).
			WithGenerator(spec).
			WithThreshold(threshold).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Threshold Comparison - %s", spec),
		Description: fmt.Sprintf("Recall of %s across IoU thresholds", spec),
		Scenarios:   scenarios,
	}
}

// GetProposalCapScenarios measures one generator at each proposal cap.
func (ps *PredefinedScenarios) GetProposalCapScenarios(spec proposals.Spec, limits []int) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(limits))
	for _, limit := range limits {
		scenarios = append(scenarios, NewScenarioBuilder(
			fmt.Sprintf("cap_%s_%d", specName(spec), limit)).
			WithGenerator(spec).
			WithMaxProposals(limit).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Proposal Cap Comparison - %s", spec),
		Description: fmt.Sprintf("Recall and speed of %s as the proposal cap grows", spec),
		Scenarios:   scenarios,
	}
}

// GetResolutionComparisonScenarios measures one generator on resized images.
func (ps *PredefinedScenarios) GetResolutionComparisonScenarios(spec proposals.Spec, resolutions []Resolution) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(resolutions))
	for _, r := range resolutions {
		scenarios = append(scenarios, NewScenarioBuilder(
			fmt.Sprintf("resolution_%s_%s", specName(spec), r.Name)).
			WithGenerator(spec).
			WithResolution(r.Width, r.Height).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Resolution Comparison - %s", spec),
		Description: fmt.Sprintf("Compares input resolutions for %s", spec),
		Scenarios:   scenarios,
	}
}

// GetWorkerScenarios measures how one generator scales with concurrency.
func (ps *PredefinedScenarios) GetWorkerScenarios(spec proposals.Spec, workers []int) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(workers))
	for _, w := range workers {
		scenarios = append(scenarios, NewScenarioBuilder(
			fmt.Sprintf("workers_%s_%d", specName(spec), w)).
			WithGenerator(spec).
			WithWorkers(w).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Worker Comparison - %s", spec),
		Description: fmt.Sprintf("Throughput of %s per evaluator worker count", spec),
		Scenarios:   scenarios,
	}
}

func specName(spec proposals.Spec) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(spec.String())
}

// SaveScenarioSet writes a scenario set as JSON when filename ends in .json
// and as YAML otherwise.
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		data, err = json.MarshalIndent(scenarioSet, "", "  ")
	} else {
		data, err = yaml.Marshal(scenarioSet)
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenario set")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "failed to write scenario file")
}

// LoadScenarioSet reads a scenario set from a YAML or JSON file.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}
	var scenarioSet ScenarioSet
	if err := yaml.Unmarshal(data, &scenarioSet); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal scenario set")
	}
	return &scenarioSet, nil
}
