package benchmark

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-recall/config"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/proposals"
)

// Config represents the overall benchmark configuration.
type Config struct {
	OutputDir      string               `json:"outputDir"      yaml:"outputDir"`
	Dataset        config.DatasetConfig `json:"dataset"        yaml:"dataset"`
	Generators     []proposals.Spec     `json:"generators"     yaml:"generators"`
	TimeoutSeconds int                  `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Logging        config.LoggingConfig `json:"logging"        yaml:"logging"`
}

// DefaultConfig returns a benchmark of the sliding window and both contour
// modes on the default dataset.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "./benchmark_results",
		Dataset:   config.Default().Dataset,
		Generators: []proposals.Spec{
			{Kind: proposals.KindWindow},
			{Kind: proposals.KindContours, Mode: proposals.ModeFast},
			{Kind: proposals.KindContours, Mode: proposals.ModeQuality},
		},
		TimeoutSeconds: 3600,
		Logging:        config.LoggingConfig{Level: "info"},
	}
}

// OpenDataset opens the configured dataset the same way the recall command
// does.
func (c *Config) OpenDataset() (dataset.Dataset, error) {
	cfg := config.Default()
	cfg.Dataset = c.Dataset
	return cfg.OpenDataset()
}

// SaveConfig saves the benchmark configuration as YAML.
func (c *Config) SaveConfig(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "failed to write config file")
}

// LoadConfig loads a YAML or JSON benchmark configuration over
// DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return cfg, nil
}
