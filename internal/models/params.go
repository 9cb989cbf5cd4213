package models

// StageParams represents the parsed params.toml stage configuration.
type StageParams struct {
	Dataset   DatasetParams  `toml:"dataset" json:"dataset"`
	Filter    FilterParams   `toml:"filter" json:"filter"`
	Mask      MaskParams     `toml:"mask" json:"mask"`
	Sort      SortParams     `toml:"sort" json:"sort"`
	Tagging   TaggingParams  `toml:"tagging" json:"tagging"`
	Cutoffs   Cutoffs        `toml:"cutoffs" json:"cutoffs"`
	Templates TemplateParams `toml:"templates" json:"templates"`
}

type DatasetParams struct {
	SampleRate float64 `toml:"samplerate" json:"samplerate" validate:"gt=0"` // default: 30000
}

type FilterParams struct {
	FreqMin float64 `toml:"freq_min" json:"freq_min" validate:"gt=0"`
	FreqMax float64 `toml:"freq_max" json:"freq_max" validate:"gtfield=FreqMin"`
	Band    string  `toml:"band,omitempty" json:"-"` // Deprecated: use freq_min/freq_max
}

type MaskParams struct {
	Threshold    float64 `toml:"threshold" json:"threshold" validate:"gt=0"`
	IntervalSize int     `toml:"interval_size" json:"interval_size" validate:"gt=0"`
}

type SortParams struct {
	DetectThreshold        float64 `toml:"detect_threshold" json:"detect_threshold" validate:"gt=0"`
	DetectSign             int     `toml:"detect_sign" json:"detect_sign" validate:"oneof=-1 0 1"`
	AdjacencyRadius        float64 `toml:"adjacency_radius" json:"adjacency_radius"`
	Geom                   string  `toml:"geom,omitempty" json:"geom,omitempty"`
	RmSegmentIntermediates bool    `toml:"rm_segment_intermediates" json:"rm_segment_intermediates"`
	SegmentParallelism     int     `toml:"segment_parallelism" json:"segment_parallelism" validate:"gte=0"`
}

// TaggingParams are handed to the external curation tagger.
type TaggingParams struct {
	FiringRateThresh   float64 `toml:"firing_rate_thresh" json:"firing_rate_thresh"`
	IsolationThresh    float64 `toml:"isolation_thresh" json:"isolation_thresh"`
	NoiseOverlapThresh float64 `toml:"noise_overlap_thresh" json:"noise_overlap_thresh"`
	PeakSNRThresh      float64 `toml:"peak_snr_thresh" json:"peak_snr_thresh"`
}

// Cutoffs are the numeric thresholds applied when cleaning metrics.
type Cutoffs struct {
	PeakAmpMin      float64 `toml:"peak_amp_min" json:"peak_amp_min"`
	PeakAmpMax      float64 `toml:"peak_amp_max" json:"peak_amp_max" validate:"gtfield=PeakAmpMin"`
	PeakSNRMin      float64 `toml:"peak_snr_min" json:"peak_snr_min"`
	IsolationMin    float64 `toml:"isolation_min" json:"isolation_min" validate:"gte=0,lte=1"`
	NoiseOverlapMax float64 `toml:"noise_overlap_max" json:"noise_overlap_max" validate:"gte=0,lte=1"`
}

type TemplateParams struct {
	ClipSize int `toml:"clip_size" json:"clip_size" validate:"gt=0"`
}
