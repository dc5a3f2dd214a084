// Package config - Run configuration for recall evaluations, loaded from YAML
// or JSON and overridable from command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/evaluator"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/recall"
)

// Config is the complete description of an evaluation run.
type Config struct {
	Dataset    DatasetConfig    `json:"dataset"    yaml:"dataset"`
	Generator  proposals.Spec   `json:"generator"  yaml:"generator"`
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`
	Output     OutputConfig     `json:"output"     yaml:"output"`
	Logging    LoggingConfig    `json:"logging"    yaml:"logging"`
}

// DatasetConfig locates a Pascal VOC style dataset.
type DatasetConfig struct {
	Root             string   `json:"root"             yaml:"root"`
	AnnotationDir    string   `json:"annotationDir"    yaml:"annotationDir"`
	ImageDir         string   `json:"imageDir"         yaml:"imageDir"`
	Split            string   `json:"split"            yaml:"split"`
	Classes          []string `json:"classes"          yaml:"classes"`
	IncludeDifficult bool     `json:"includeDifficult" yaml:"includeDifficult"`
	// Resize, when set, resizes every image and its boxes before evaluation.
	Resize *ResizeConfig `json:"resize,omitempty" yaml:"resize,omitempty"`
}

// ResizeConfig is a target image size.
type ResizeConfig struct {
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Selection policies.
const (
	SelectSequential = "sequential"
	SelectFixed      = "fixed"
	SelectRandom     = "random"
)

// SelectionConfig chooses which images are evaluated.
type SelectionConfig struct {
	Policy string `json:"policy" yaml:"policy"`
	Offset int    `json:"offset" yaml:"offset"`
	Index  int    `json:"index"  yaml:"index"`
	Seed   int64  `json:"seed"   yaml:"seed"`
	Span   int    `json:"span"   yaml:"span"`
}

// EvaluationConfig mirrors evaluator.Config.
type EvaluationConfig struct {
	Count        int             `json:"count"        yaml:"count"`
	Threshold    float64         `json:"threshold"    yaml:"threshold"`
	MaxProposals int             `json:"maxProposals" yaml:"maxProposals"`
	Selection    SelectionConfig `json:"selection"    yaml:"selection"`
	Label        int             `json:"label"        yaml:"label"`
	Workers      int             `json:"workers"      yaml:"workers"`
}

// SweepConfig requests a threshold sweep written as CSV.
type SweepConfig struct {
	Path  string  `json:"path"  yaml:"path"`
	Start float64 `json:"start" yaml:"start"`
	Stop  float64 `json:"stop"  yaml:"stop"`
	Step  float64 `json:"step"  yaml:"step"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	// Dir receives the result file, named by store.FileName.
	Dir   string      `json:"dir"   yaml:"dir"`
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`
	// DrawDir receives one annotated image per evaluated image.
	DrawDir string `json:"drawDir" yaml:"drawDir"`
	// CropsDir receives the matched proposal crops.
	CropsDir string `json:"cropsDir" yaml:"cropsDir"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `json:"level"       yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
	// ProfileInterval enables periodic runtime and stage timing reports.
	// Zero disables profiling.
	ProfileInterval time.Duration `json:"profileInterval" yaml:"profileInterval"`
}

// Default returns the configuration of the reference pothole experiment:
// the first images of the dataset, IoU 0.5, at most 9000 contour proposals.
func Default() Config {
	return Config{
		Dataset: DatasetConfig{
			Root:          "data/potholes",
			AnnotationDir: "Annotations",
			ImageDir:      "JPEGImages",
		},
		Generator: proposals.Spec{Kind: proposals.KindContours, Mode: proposals.ModeFast},
		Evaluation: EvaluationConfig{
			Threshold:    0.5,
			MaxProposals: 9000,
			Selection:    SelectionConfig{Policy: SelectSequential, Span: 500},
			Label:        int(common.Positive),
			Workers:      1,
		},
		Output: OutputConfig{
			Dir:   "output",
			Sweep: SweepConfig{Start: 0, Stop: 1, Step: 0.01},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML (or JSON) file over Default(). Fields absent from the
// file keep their default values.
//
// Arguments:
//   - path: The configuration file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "validating config %s", path)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing config %s", path)
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var err error
	if c.Dataset.Root == "" {
		err = multierr.Append(err, errors.New("dataset.root is required"))
	}
	if r := c.Dataset.Resize; r != nil && (r.Width <= 0 || r.Height <= 0) {
		err = multierr.Append(err, errors.Errorf("dataset.resize must be positive, got %dx%d", r.Width, r.Height))
	}
	switch c.Generator.Kind {
	case proposals.KindWindow, proposals.KindContours, proposals.KindONNX:
	default:
		err = multierr.Append(err, errors.Errorf("generator.kind %q is not window, contours or onnx", c.Generator.Kind))
	}
	if _, e := proposals.ParseMode(string(c.Generator.Mode)); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Generator.Kind == proposals.KindONNX && (c.Generator.ONNX == nil || c.Generator.ONNX.ModelPath == "") {
		err = multierr.Append(err, errors.New("generator.onnx.modelPath is required for the onnx generator"))
	}
	if e := matching.ValidateThreshold(c.Evaluation.Threshold); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Evaluation.Workers < 0 {
		err = multierr.Append(err, errors.Errorf("evaluation.workers must not be negative, got %d", c.Evaluation.Workers))
	}
	if _, e := c.Evaluation.Selection.Selector(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Output.Sweep.Path != "" && c.Output.Sweep.Step <= 0 {
		err = multierr.Append(err, errors.New("output.sweep.step must be positive"))
	}
	if c.Logging.ProfileInterval < 0 {
		err = multierr.Append(err, errors.Errorf("logging.profileInterval must not be negative, got %v", c.Logging.ProfileInterval))
	}
	if _, e := zap.ParseAtomicLevel(c.Logging.Level); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "logging.level"))
	}
	return err
}

// Selector builds the selection policy.
func (s SelectionConfig) Selector() (dataset.Selector, error) {
	switch strings.ToLower(s.Policy) {
	case "", SelectSequential:
		return dataset.Sequential{Offset: s.Offset}, nil
	case SelectFixed:
		return dataset.Fixed{Index: s.Index}, nil
	case SelectRandom:
		return dataset.Random{Seed: s.Seed, Offset: s.Offset, Span: s.Span}, nil
	}
	return nil, errors.Errorf("selection policy %q is not sequential, fixed or random", s.Policy)
}

// EvaluatorConfig converts the evaluation section.
func (c Config) EvaluatorConfig() (evaluator.Config, error) {
	sel, err := c.Evaluation.Selection.Selector()
	if err != nil {
		return evaluator.Config{}, err
	}
	return evaluator.Config{
		Count:        c.Evaluation.Count,
		Threshold:    c.Evaluation.Threshold,
		MaxProposals: c.Evaluation.MaxProposals,
		Selector:     sel,
		Label:        common.Label(c.Evaluation.Label),
		Workers:      c.Evaluation.Workers,
	}, nil
}

// OpenDataset opens the configured dataset, wrapped in dataset.Resized when
// a resize is configured.
func (c Config) OpenDataset() (dataset.Dataset, error) {
	voc, err := dataset.OpenVOC(dataset.VOCOptions{
		Root:             c.Dataset.Root,
		AnnotationDir:    c.Dataset.AnnotationDir,
		ImageDir:         c.Dataset.ImageDir,
		Split:            c.Dataset.Split,
		Classes:          c.Dataset.Classes,
		IncludeDifficult: c.Dataset.IncludeDifficult,
	})
	if err != nil {
		return nil, err
	}
	if r := c.Dataset.Resize; r != nil {
		return dataset.Resized{Dataset: voc, Width: r.Width, Height: r.Height}, nil
	}
	return voc, nil
}

// Thresholds expands the sweep range.
func (s SweepConfig) Thresholds() ([]float64, error) {
	return recall.Thresholds(s.Start, s.Stop, s.Step)
}

// NewLogger builds the configured logger.
func (l LoggingConfig) NewLogger() (*zap.SugaredLogger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger.Sugar(), nil
}
