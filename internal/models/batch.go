package models

import "time"

// Strategy selects how the scheduler feeds units to workers.
type Strategy string

const (
	// StrategyPool keeps every worker busy from a shared queue of units.
	StrategyPool Strategy = "pool"
	// StrategyWave runs units in cohorts and waits for each cohort to drain.
	StrategyWave Strategy = "wave"
)

// CleanupPolicy controls what happens to superseded or half-written artifacts.
type CleanupPolicy string

const (
	CleanupArchive CleanupPolicy = "archive"
	CleanupDelete  CleanupPolicy = "delete"
)

// SortMode selects between sorting the whole recording and sorting per epoch.
type SortMode string

const (
	SortFull      SortMode = "full"
	SortSegmented SortMode = "segmented"
)

// BatchConfig represents the parsed batch.yaml configuration.
type BatchConfig struct {
	Name               *string         `yaml:"name,omitempty" json:"name,omitempty"`
	OutputRoot         string          `yaml:"output_root" json:"output_root" validate:"required"`
	Epochs             []string        `yaml:"epochs" json:"epochs"`
	Units              string          `yaml:"units,omitempty" json:"units,omitempty"`
	Parallelism        int             `yaml:"parallelism" json:"parallelism" validate:"min=1"`
	Strategy           Strategy        `yaml:"strategy" json:"strategy" validate:"oneof=pool wave"`
	MaskArtifacts      bool            `yaml:"mask_artifacts" json:"mask_artifacts"`
	ClearIntermediates bool            `yaml:"clear_intermediates" json:"clear_intermediates"`
	CleanupPolicy      CleanupPolicy   `yaml:"cleanup_policy" json:"cleanup_policy" validate:"oneof=archive delete"`
	ScratchDir         string          `yaml:"scratch_dir,omitempty" json:"scratch_dir,omitempty"`
	SortMode           SortMode        `yaml:"sort_mode" json:"sort_mode" validate:"oneof=full segmented"`
	ParamsFile         string          `yaml:"params_file,omitempty" json:"params_file,omitempty"`
	Processor          ProcessorConfig `yaml:"processor" json:"processor"`
	LogLevel           string          `yaml:"log_level,omitempty" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	MetricsFile        string          `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`

	// Params is loaded from ParamsFile, or defaulted, and threaded to every stage.
	Params StageParams `yaml:"-" json:"params"`
}

// ProcessorConfig selects the runner used for external processor calls.
type ProcessorConfig struct {
	Type       string   `yaml:"type" json:"type" validate:"oneof=local docker"`
	Executable string   `yaml:"executable" json:"executable" validate:"required"`
	Image      string   `yaml:"image,omitempty" json:"image,omitempty" validate:"required_if=Type docker"`
	TimeoutSec float64  `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty" validate:"gte=0"`
	Mounts     []string `yaml:"mounts,omitempty" json:"mounts,omitempty"`
}

// Timeout returns the per-invocation timeout, zero meaning unbounded.
func (p ProcessorConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec * float64(time.Second))
}

// BatchResult contains the per-unit outcome report of one batch run.
type BatchResult struct {
	RunID            string         `json:"run_id"`
	Name             string         `json:"name"`
	Cancelled        bool           `json:"cancelled"`
	Strategy         Strategy       `json:"strategy"`
	Parallelism      int            `json:"parallelism"`
	TotalUnits       int            `json:"total_units"`
	DoneUnits        int            `json:"done_units"`
	FailedUnits      int            `json:"failed_units"`
	SkippedUnits     int            `json:"skipped_units"`
	TotalDurationSec float64        `json:"total_duration_sec"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at"`
	Outcomes         []*UnitOutcome `json:"outcomes"`
}
