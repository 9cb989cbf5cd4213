package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/util"
)

// DefaultStageParams returns StageParams with default values.
func DefaultStageParams() models.StageParams {
	return models.StageParams{
		Dataset: models.DatasetParams{
			SampleRate: 30000,
		},
		Filter: models.FilterParams{
			FreqMin: 300,
			FreqMax: 6000,
		},
		Mask: models.MaskParams{
			Threshold:    5,
			IntervalSize: 2000,
		},
		Sort: models.SortParams{
			DetectThreshold:        3,
			DetectSign:             -1,
			AdjacencyRadius:        -1,
			RmSegmentIntermediates: true,
			SegmentParallelism:     1,
		},
		Tagging: models.TaggingParams{
			FiringRateThresh:   0.01,
			IsolationThresh:    0.95,
			NoiseOverlapThresh: 0.03,
			PeakSNRThresh:      1.5,
		},
		Cutoffs: models.Cutoffs{
			PeakAmpMin:      5,
			PeakAmpMax:      100,
			PeakSNRMin:      3,
			IsolationMin:    0.9,
			NoiseOverlapMax: 0.25,
		},
		Templates: models.TemplateParams{
			ClipSize: 100,
		},
	}
}

// LoadStageParams loads a params.toml file from disk.
func LoadStageParams(path string) (models.StageParams, error) {
	return LoadStageParamsFS(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

// LoadStageParamsFS loads and parses the named params file from the given filesystem.
func LoadStageParamsFS(fsys fs.FS, name string) (models.StageParams, error) {
	cfg := DefaultStageParams()

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", name, err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", name, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parsing %s: unknown keys %v", name, undecoded)
	}

	// Handle legacy 'band' field if freq_min/freq_max are not explicitly set
	if md.IsDefined("filter", "band") && !md.IsDefined("filter", "freq_min") && !md.IsDefined("filter", "freq_max") {
		lo, hi, err := util.ParseBand(cfg.Filter.Band)
		if err != nil {
			return cfg, fmt.Errorf("parsing band %q: %w", cfg.Filter.Band, err)
		}
		cfg.Filter.FreqMin = lo
		cfg.Filter.FreqMax = hi
	}

	return cfg, nil
}
