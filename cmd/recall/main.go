// Command recall evaluates how well a region proposal generator covers the
// annotated objects of a Pascal VOC style dataset.
//
// Usage:
//
//	recall -dataset data/potholes -classes pothole -generator contours -mode quality \
//	       -threshold 0.5 -max-proposals 9000 -output output -sweep output/sweep.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-recall/config"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/evaluator"
	"github.com/nvr-ai/go-recall/profiler"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/results"
	"github.com/nvr-ai/go-recall/store"
	"github.com/nvr-ai/go-recall/visualize"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg, log); err != nil {
		log.Errorw("evaluation failed", "error", err)
		os.Exit(1)
	}
}

// parseArgs loads the optional -config file and applies every flag that was
// set explicitly on top of it.
func parseArgs(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("recall", flag.ContinueOnError)
	var (
		configFile   = fs.String("config", "", "Path to a YAML or JSON configuration file")
		datasetRoot  = fs.String("dataset", "", "Root of the Pascal VOC style dataset")
		split        = fs.String("split", "", "Image set name under ImageSets/Main (default: every annotation)")
		classes      = fs.String("classes", "", "Comma separated class names; empty treats every object as positive")
		count        = fs.Int("count", 0, "Number of images to evaluate (0: selector default)")
		threshold    = fs.Float64("threshold", 0.5, "Inclusive IoU threshold in [0, 1]")
		maxProposals = fs.Int("max-proposals", 9000, "Proposals kept per image, in generator order (0: no cap)")
		generator    = fs.String("generator", "contours", "Proposal generator: window, contours or onnx")
		mode         = fs.String("mode", "fast", "Contour generator mode: fast or quality")
		model        = fs.String("model", "", "ONNX model path for -generator onnx")
		selection    = fs.String("select", "sequential", "Image selection: sequential, fixed or random")
		index        = fs.Int("index", 0, "Offset for sequential/random selection, image for fixed selection")
		seed         = fs.Int64("seed", 0, "Seed for random selection")
		workers      = fs.Int("workers", 1, "Images evaluated concurrently")
		output       = fs.String("output", "output", "Directory for the result file")
		sweep        = fs.String("sweep", "", "Write a 0..1 threshold sweep to this CSV file")
		draw         = fs.String("draw", "", "Directory for annotated images")
		crops        = fs.String("crops", "", "Directory for matched proposal crops")
		logLevel     = fs.String("log-level", "info", "Log level: debug, info, warn or error")
		profile      = fs.Duration("profile", 0, "Log runtime and stage timings at this interval (0: off)")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			cfg.Dataset.Root = *datasetRoot
		case "split":
			cfg.Dataset.Split = *split
		case "classes":
			cfg.Dataset.Classes = splitList(*classes)
		case "count":
			cfg.Evaluation.Count = *count
		case "threshold":
			cfg.Evaluation.Threshold = *threshold
		case "max-proposals":
			cfg.Evaluation.MaxProposals = *maxProposals
		case "generator":
			cfg.Generator.Kind = proposals.Kind(*generator)
		case "mode":
			cfg.Generator.Mode = proposals.Mode(*mode)
		case "model":
			if cfg.Generator.ONNX == nil {
				cfg.Generator.ONNX = &proposals.ONNXConfig{}
			}
			cfg.Generator.ONNX.ModelPath = *model
		case "select":
			cfg.Evaluation.Selection.Policy = *selection
		case "index":
			cfg.Evaluation.Selection.Offset = *index
			cfg.Evaluation.Selection.Index = *index
		case "seed":
			cfg.Evaluation.Selection.Seed = *seed
		case "workers":
			cfg.Evaluation.Workers = *workers
		case "output":
			cfg.Output.Dir = *output
		case "sweep":
			cfg.Output.Sweep.Path = *sweep
		case "draw":
			cfg.Output.DrawDir = *draw
		case "crops":
			cfg.Output.CropsDir = *crops
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "profile":
			cfg.Logging.ProfileInterval = *profile
		}
	})

	return cfg, cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// run evaluates the configured dataset, stores the result and writes the
// optional sweep, drawings and crops. It returns the path of the result file.
func run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (string, error) {
	ds, err := cfg.OpenDataset()
	if err != nil {
		return "", errors.Wrap(err, "opening dataset")
	}
	gen, err := proposals.New(cfg.Generator)
	if err != nil {
		return "", errors.Wrap(err, "creating generator")
	}
	defer func() {
		if err := proposals.Close(gen); err != nil {
			log.Warnw("closing generator", "error", err)
		}
	}()

	ecfg, err := cfg.EvaluatorConfig()
	if err != nil {
		return "", err
	}
	if cfg.Logging.ProfileInterval > 0 {
		prof := profiler.New(profiler.Options{ReportInterval: cfg.Logging.ProfileInterval}, log.Named("profiler"))
		prof.Start(ctx)
		defer func() {
			prof.Stop()
			prof.Report()
		}()
		ecfg.Observer = prof
	}
	ev, err := evaluator.New(ecfg, log)
	if err != nil {
		return "", err
	}

	log.Infow("evaluating",
		"dataset", cfg.Dataset.Root,
		"images", ds.Len(),
		"generator", cfg.Generator.String(),
	)
	res, err := ev.Evaluate(ctx, ds, gen)
	if err != nil {
		return "", err
	}
	for _, r := range res.Images {
		if r.Failed() {
			continue
		}
		log.Infow("image recall",
			"index", r.Index,
			"recall", r.Recall,
			"matching_proposals", len(r.MatchedProposals),
			"proposals", r.Stats.Proposals,
		)
	}

	path := filepath.Join(cfg.Output.Dir, store.FileName(res.Threshold))
	if err := store.Save(res, path); err != nil {
		return "", err
	}
	log.Infow("results saved",
		"path", path,
		"mean_recall", res.MeanRecall(),
		"failed", len(res.Failed()),
	)

	if cfg.Output.Sweep.Path != "" {
		if err := writeSweep(ctx, cfg, ev, ds, gen, log); err != nil {
			return path, err
		}
	}
	if cfg.Output.DrawDir != "" || cfg.Output.CropsDir != "" {
		if err := writeImages(cfg.Output, res, log); err != nil {
			return path, err
		}
	}
	return path, nil
}

func writeSweep(
	ctx context.Context,
	cfg config.Config,
	ev *evaluator.Evaluator,
	ds dataset.Dataset,
	gen proposals.Generator,
	log *zap.SugaredLogger,
) error {
	thresholds, err := cfg.Output.Sweep.Thresholds()
	if err != nil {
		return err
	}
	sweep, err := ev.Sweep(ctx, ds, gen, thresholds)
	if err != nil {
		return err
	}

	path := cfg.Output.Sweep.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating sweep directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating sweep file")
	}
	if err := sweep.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing sweep file")
	}
	log.Infow("sweep written",
		"path", path,
		"thresholds", len(thresholds),
		"images", len(sweep.Order),
		"failed", len(sweep.Failed),
	)
	return nil
}

func writeImages(out config.OutputConfig, res *results.DatasetResult, log *zap.SugaredLogger) error {
	for _, r := range res.Images {
		if r.Failed() {
			continue
		}
		name := fmt.Sprintf("%05d", r.Index)
		if r.Image.Path != "" {
			name = strings.TrimSuffix(filepath.Base(r.Image.Path), filepath.Ext(r.Image.Path))
		}
		if out.DrawDir != "" {
			path := filepath.Join(out.DrawDir, name+".png")
			if err := visualize.Save(path, r.Image, r.GroundTruth, r.MatchedProposals); err != nil {
				return errors.Wrapf(err, "drawing image %d", r.Index)
			}
		}
		if out.CropsDir != "" && len(r.MatchedProposals) > 0 && r.Image.HasPixels() {
			paths, err := visualize.SaveCrops(r.Image, r.MatchedProposals, out.CropsDir, 0)
			if err != nil {
				return errors.Wrapf(err, "cropping image %d", r.Index)
			}
			log.Debugw("crops written", "index", r.Index, "count", len(paths))
		}
	}
	return nil
}
