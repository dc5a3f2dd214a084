package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-recall/benchmark"
	"github.com/nvr-ai/go-recall/proposals"
)

func main() {
	var (
		configFile    = flag.String("config", "", "Path to benchmark configuration file")
		scenarioFile  = flag.String("scenarios", "", "Path to scenario configuration file")
		outputDir     = flag.String("output", "", "Output directory for results")
		datasetRoot   = flag.String("dataset", "", "Root of the Pascal VOC style dataset")
		modelPath     = flag.String("model", "", "Also benchmark an ONNX detector used as a proposal generator")
		quick         = flag.Bool("quick", false, "Run quick benchmark scenarios")
		comprehensive = flag.Bool("comprehensive", false, "Run comprehensive benchmark scenarios")
		thresholds    = flag.Bool("thresholds", false, "Compare IoU thresholds")
		caps          = flag.Bool("caps", false, "Compare proposal caps")
		resolutions   = flag.Bool("resolutions", false, "Compare input resolutions")
		workers       = flag.Bool("workers", false, "Compare evaluator worker counts")
		timeout       = flag.Duration("timeout", 0, "Benchmark timeout duration (default: config timeoutSeconds)")
	)
	flag.Parse()

	config := benchmark.DefaultConfig()
	if *configFile != "" {
		var err error
		config, err = benchmark.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *outputDir != "" {
		config.OutputDir = *outputDir
	}
	if *datasetRoot != "" {
		config.Dataset.Root = *datasetRoot
	}
	if *modelPath != "" {
		config.Generators = append(config.Generators, proposals.Spec{
			Kind: proposals.KindONNX,
			ONNX: &proposals.ONNXConfig{ModelPath: *modelPath},
		})
	}
	if config.Dataset.Root == "" {
		log.Fatal("Dataset root is required (-dataset or dataset.root)")
	}
	if len(config.Generators) == 0 {
		log.Fatal("At least one generator is required")
	}

	logger, err := config.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ds, err := config.OpenDataset()
	if err != nil {
		log.Fatalf("Failed to open dataset: %v", err)
	}

	suite, err := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Dataset:    ds,
		Logger:     logger,
		OutputPath: config.OutputDir,
	})
	if err != nil {
		log.Fatalf("Failed to create suite: %v", err)
	}

	predefined := &benchmark.PredefinedScenarios{}
	add := func(set *benchmark.ScenarioSet) {
		for _, scenario := range set.Scenarios {
			suite.AddScenario(scenario)
		}
		fmt.Printf("Added %d scenarios: %s\n", len(set.Scenarios), set.Name)
	}

	if *scenarioFile != "" {
		set, err := benchmark.LoadScenarioSet(*scenarioFile)
		if err != nil {
			log.Fatalf("Failed to load scenario file: %v", err)
		}
		add(set)
	} else {
		if *quick {
			add(predefined.GetQuickScenarios(config.Generators))
		}
		if *comprehensive {
			add(predefined.GetComprehensiveScenarios(config.Generators))
		}
		for _, spec := range config.Generators {
			if *thresholds {
				add(predefined.GetThresholdScenarios(spec, []float64{0.3, 0.5, 0.7, 0.9}))
			}
			if *caps {
				add(predefined.GetProposalCapScenarios(spec, []int{100, 500, 1000, 2000, 9000}))
			}
			if *resolutions {
				add(predefined.GetResolutionComparisonScenarios(spec, benchmark.CommonResolutions))
			}
			if *workers {
				add(predefined.GetWorkerScenarios(spec, []int{1, 2, 4, 8}))
			}
		}

		// If no specific scenarios requested, use quick by default
		if len(suite.Scenarios()) == 0 {
			add(predefined.GetQuickScenarios(config.Generators))
		}
	}

	if *timeout == 0 {
		*timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("Starting benchmark execution...")
	start := time.Now()

	if err := suite.RunAllScenarios(ctx); err != nil {
		log.Fatalf("Benchmark execution failed: %v", err)
	}

	fmt.Printf("Benchmark completed in %v\n", time.Since(start))

	results := suite.GetResults()
	fmt.Printf("\n=== BENCHMARK RESULTS SUMMARY ===\n")
	fmt.Printf("Total scenarios: %d\n", len(results))
	fmt.Printf("Results saved to: %s\n", config.OutputDir)

	var bestRecall float64
	var bestScenario string
	for _, result := range results {
		if bestScenario == "" || result.MeanRecall > bestRecall {
			bestRecall = result.MeanRecall
			bestScenario = result.Scenario.Name
		}
		fmt.Printf("  %s: recall %.4f, %.1f proposals/image, %.2f images/s (%.2f MB memory)\n",
			result.Scenario.Name,
			result.MeanRecall,
			result.MeanProposals,
			result.ImagesPerSecond,
			float64(result.MemoryStats.AllocBytes)/(1024*1024))
	}

	if bestScenario != "" {
		fmt.Printf("\nBest recall: %s (%.4f)\n", bestScenario, bestRecall)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Benchmark tool for region proposal recall and throughput.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(
			os.Stderr,
			"  %s -dataset ./data/potholes -quick\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -config ./benchmark.yaml -scenarios ./scenarios.yaml\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -dataset ./data/potholes -model ./yolov8n.onnx -thresholds -caps\n",
			filepath.Base(os.Args[0]),
		)
	}
}
