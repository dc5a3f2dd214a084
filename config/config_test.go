package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/proposals"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Evaluation.Threshold)
	assert.Equal(t, 9000, cfg.Evaluation.MaxProposals)
	assert.Equal(t, proposals.KindContours, cfg.Generator.Kind)

	ec, err := cfg.EvaluatorConfig()
	require.NoError(t, err)
	assert.Equal(t, dataset.Sequential{}, ec.Selector)
	assert.Equal(t, common.Positive, ec.Label)
}

func TestLoad_YAML(t *testing.T) {
	path := write(t, "run.yaml", `
dataset:
  root: /data/potholes
  split: val
  classes: [pothole]
  resize:
    width: 512
    height: 512
generator:
  kind: window
  window:
    sizes: [64, 128]
    aspectRatios: [1]
    strideFraction: 0.25
evaluation:
  threshold: 0.7
  count: 20
  selection:
    policy: random
    seed: 7
  workers: 4
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/potholes", cfg.Dataset.Root)
	assert.Equal(t, "JPEGImages", cfg.Dataset.ImageDir, "unset fields keep defaults")
	assert.Equal(t, []string{"pothole"}, cfg.Dataset.Classes)
	require.NotNil(t, cfg.Dataset.Resize)
	assert.Equal(t, 512, cfg.Dataset.Resize.Width)

	require.NotNil(t, cfg.Generator.Window)
	assert.Equal(t, []int{64, 128}, cfg.Generator.Window.Sizes)
	assert.Equal(t, 0.25, cfg.Generator.Window.StrideFraction)

	assert.Equal(t, 0.7, cfg.Evaluation.Threshold)
	assert.Equal(t, 9000, cfg.Evaluation.MaxProposals)

	ec, err := cfg.EvaluatorConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, ec.Count)
	assert.Equal(t, 4, ec.Workers)
	assert.Equal(t, dataset.Random{Seed: 7, Span: 500}, ec.Selector)
}

func TestLoad_JSON(t *testing.T) {
	path := write(t, "run.json", `{"generator": {"kind": "contours", "mode": "quality"}, "evaluation": {"maxProposals": 2000}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, proposals.ModeQuality, cfg.Generator.Mode)
	assert.Equal(t, 2000, cfg.Evaluation.MaxProposals)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(write(t, "bad.yaml", "dataset: [unclosed"))
	assert.Error(t, err)

	_, err = Load(write(t, "invalid.yaml", "evaluation:\n  threshold: 2\n"))
	assert.ErrorIs(t, err, common.ErrInvalidThreshold)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Dataset.Root = ""
	cfg.Dataset.Resize = &ResizeConfig{Width: 0, Height: 10}
	cfg.Generator = proposals.Spec{Kind: proposals.KindONNX, Mode: "slow"}
	cfg.Evaluation.Threshold = -0.1
	cfg.Evaluation.Workers = -2
	cfg.Evaluation.Selection.Policy = "shuffled"
	cfg.Output.Sweep = SweepConfig{Path: "sweep.csv"}
	cfg.Logging.Level = "loud"
	cfg.Logging.ProfileInterval = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 10)

	cfg = Default()
	cfg.Generator.Kind = "selective"
	assert.Error(t, cfg.Validate())
}

func TestSelectionConfig_Selector(t *testing.T) {
	tests := []struct {
		in   SelectionConfig
		want dataset.Selector
	}{
		{in: SelectionConfig{}, want: dataset.Sequential{}},
		{in: SelectionConfig{Policy: "sequential", Offset: 3}, want: dataset.Sequential{Offset: 3}},
		{in: SelectionConfig{Policy: "FIXED", Index: 75}, want: dataset.Fixed{Index: 75}},
		{in: SelectionConfig{Policy: "random", Seed: 1, Offset: 2, Span: 500}, want: dataset.Random{Seed: 1, Offset: 2, Span: 500}},
	}
	for _, tt := range tests {
		got, err := tt.in.Selector()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := SelectionConfig{Policy: "all"}.Selector()
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	cfg := Default()
	cfg.Dataset.Classes = []string{"pothole"}
	cfg.Generator = proposals.Spec{
		Kind: proposals.KindONNX,
		Mode: proposals.ModeFast,
		ONNX: &proposals.ONNXConfig{ModelPath: "models/yolov8n.onnx", ScoreThreshold: 0.05},
	}
	cfg.Output.Sweep.Path = "sweep.csv"
	cfg.Logging.ProfileInterval = 2 * time.Second

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, Save(cfg, path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestOpenDataset(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Annotations"), 0o755))

	cfg := Default()
	cfg.Dataset.Root = root
	ds, err := cfg.OpenDataset()
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.IsType(t, &dataset.VOC{}, ds)

	cfg.Dataset.Resize = &ResizeConfig{Width: 64, Height: 64}
	ds, err = cfg.OpenDataset()
	require.NoError(t, err)
	assert.IsType(t, dataset.Resized{}, ds)

	cfg.Dataset.Root = filepath.Join(root, "missing")
	_, err = cfg.OpenDataset()
	assert.Error(t, err)
}

func TestSweepThresholds(t *testing.T) {
	ts, err := Default().Output.Sweep.Thresholds()
	require.NoError(t, err)
	assert.Len(t, ts, 101)

	_, err = SweepConfig{Start: 0, Stop: 1}.Thresholds()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := LoggingConfig{Level: "warn"}.NewLogger()
	require.NoError(t, err)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Desugar().Core().Enabled(zapcore.WarnLevel))

	log, err = LoggingConfig{Level: "debug", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.True(t, log.Desugar().Core().Enabled(zapcore.DebugLevel))

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}
