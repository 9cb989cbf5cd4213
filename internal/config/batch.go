package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spachava753/sortbatch/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultParallelism = 1
	DefaultExecutable  = "ml-run-process"
)

// DefaultBatchConfig returns a BatchConfig with default values.
func DefaultBatchConfig() models.BatchConfig {
	return models.BatchConfig{
		OutputRoot:    "sorted",
		Parallelism:   DefaultParallelism,
		Strategy:      models.StrategyPool,
		CleanupPolicy: models.CleanupArchive,
		SortMode:      models.SortSegmented,
		LogLevel:      "info",
		Processor: models.ProcessorConfig{
			Type:       "local",
			Executable: DefaultExecutable,
		},
		Params: DefaultStageParams(),
	}
}

// LoadBatchConfig loads and parses a batch.yaml file. A params_file named in it
// is resolved relative to the batch file and loaded into Params. ScratchDir is
// left empty unless the file sets it, so that it follows any later override
// of OutputRoot; call ApplyDefaults once overrides are in place.
func LoadBatchConfig(path string) (models.BatchConfig, error) {
	cfg := DefaultBatchConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading batch config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing batch config: %w", err)
	}

	for i, ep := range cfg.Epochs {
		if ep == "" {
			return cfg, fmt.Errorf("epochs[%d]: path must not be empty", i)
		}
	}

	applyFieldDefaults(&cfg)

	if cfg.ParamsFile != "" {
		if !filepath.IsAbs(cfg.ParamsFile) {
			cfg.ParamsFile = filepath.Join(filepath.Dir(path), cfg.ParamsFile)
		}
		params, err := LoadStageParams(cfg.ParamsFile)
		if err != nil {
			return cfg, err
		}
		cfg.Params = params
	}

	return cfg, nil
}

// ApplyDefaults fills zero values left after unmarshalling or flag overrides.
// The default scratch dir sits under OutputRoot, so it shares a volume with the
// unit directories.
func ApplyDefaults(cfg *models.BatchConfig) {
	applyFieldDefaults(cfg)
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.OutputRoot, ".scratch")
	}
}

func applyFieldDefaults(cfg *models.BatchConfig) {
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "sorted"
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyPool
	}
	if cfg.CleanupPolicy == "" {
		cfg.CleanupPolicy = models.CleanupArchive
	}
	if cfg.SortMode == "" {
		cfg.SortMode = models.SortSegmented
	}
	if cfg.Processor.Type == "" {
		cfg.Processor.Type = "local"
	}
	if cfg.Processor.Executable == "" {
		cfg.Processor.Executable = DefaultExecutable
	}
}
