package main

import (
	"fmt"
	"log"

	"github.com/nvr-ai/go-recall/benchmark"
	"github.com/nvr-ai/go-recall/proposals"
)

// Example program to create and save benchmark scenarios
func main() {
	predefined := &benchmark.PredefinedScenarios{}

	generators := []proposals.Spec{
		{Kind: proposals.KindWindow},
		{Kind: proposals.KindContours, Mode: proposals.ModeFast},
		{Kind: proposals.KindContours, Mode: proposals.ModeQuality},
	}
	quality := generators[2]

	sets := map[string]*benchmark.ScenarioSet{
		"comprehensive_scenarios.yaml": predefined.GetComprehensiveScenarios(generators),
		"quick_scenarios.yaml":         predefined.GetQuickScenarios(generators),
		"threshold_scenarios.yaml":     predefined.GetThresholdScenarios(quality, []float64{0.3, 0.5, 0.7, 0.9}),
		"cap_scenarios.yaml":           predefined.GetProposalCapScenarios(quality, []int{100, 500, 1000, 2000, 9000}),
		"resolution_scenarios.yaml":    predefined.GetResolutionComparisonScenarios(quality, benchmark.CommonResolutions),
	}
	for name, set := range sets {
		if err := benchmark.SaveScenarioSet(set, name); err != nil {
			log.Fatalf("Failed to save %s: %v", name, err)
		}
		fmt.Printf("Saved %d scenarios to %s\n", len(set.Scenarios), name)
	}

	customScenario := benchmark.NewScenarioBuilder("custom_onnx_low_iou").
		WithGenerator(proposals.Spec{
			Kind: proposals.KindONNX,
			ONNX: &proposals.ONNXConfig{ModelPath: "../data/yolov8n.onnx"},
		}).
		WithThreshold(0.3).
		WithMaxProposals(2000).
		WithResolution(640, 640).
		WithIterations(5).
		WithWarmupRuns(1).
		Build()

	customSet := &benchmark.ScenarioSet{
		Name:        "Custom ONNX Proposals",
		Description: "A detector's class-agnostic boxes as proposals at IoU 0.3",
		Scenarios:   []benchmark.Scenario{customScenario},
	}
	if err := benchmark.SaveScenarioSet(customSet, "custom_scenarios.json"); err != nil {
		log.Fatalf("Failed to save custom scenarios: %v", err)
	}
	fmt.Printf("Saved %d custom scenarios\n", len(customSet.Scenarios))

	fmt.Println("All scenario files created successfully!")
}
