// Package stage is the fixed catalog of processing stages. Each stage names the
// artifacts it needs and the artifacts it makes, and delegates computation to
// the external toolkit through a processor.Runner.
package stage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"github.com/spachava753/sortbatch/internal/reference"
)

// Name identifies a stage.
type Name string

const (
	ConcatEpochs     Name = "concatenate-epochs"
	Filter           Name = "filter"
	MaskArtifacts    Name = "mask-artifacts"
	Whiten           Name = "whiten"
	Sort             Name = "sort"
	Curate           Name = "curate"
	CleanMetrics     Name = "clean-metrics"
	ExtractTemplates Name = "extract-templates"
	Finalize         Name = "finalize"
)

// Stage is one step of the catalog.
type Stage struct {
	Name Name
	// State is reached once this stage and every earlier stage with the same
	// State have completed.
	State    models.UnitState
	Requires []string
	Produces []string
	// Scratch lists glob patterns for other files the stage may write. They
	// are cleared with Produces when the stage fails.
	Scratch []string
	// Supersedes lists descriptors whose artifacts may be reclaimed once this
	// stage completes.
	Supersedes []string
	// Archives lists descriptors that may be relocated, never discarded, once
	// this stage completes.
	Archives []string
	Run      func(ctx context.Context, env *Env) error
}

// Env is everything a stage call needs. It is built per unit and never shared
// across units.
type Env struct {
	Unit      models.Unit
	NumEpochs int
	Config    models.BatchConfig
	Runner    processor.Runner
	Exec      processor.ExecOptions
	// Log receives external processor output. May be nil.
	Log io.Writer
}

// Path returns the path of an artifact in the unit directory.
func (e *Env) Path(name string) string {
	return filepath.Join(e.Unit.OutputDir, name)
}

func (e *Env) invoke(ctx context.Context, inv processor.Invocation) error {
	if e.Log != nil {
		fmt.Fprintf(e.Log, "### %s %s\n", time.Now().UTC().Format(time.RFC3339), inv.Processor)
	}
	return processor.Invoke(ctx, e.Runner, inv, e.Exec, e.Log)
}

// resolve dereferences a descriptor in the unit directory.
func (e *Env) resolve(descriptor string) (string, error) {
	p, err := reference.Resolve(e.Path(descriptor))
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrSourceNotFound, err)
	}
	return p, nil
}

// publish writes the descriptor for an artifact the toolkit just produced.
func (e *Env) publish(artifact string) error {
	if _, err := reference.Create(e.Path(reference.PathFor(artifact)), e.Path(artifact), ""); err != nil {
		return fmt.Errorf("publishing %s: %w", artifact, err)
	}
	return nil
}

// Catalog returns the stage sequence for a batch configuration.
func Catalog(cfg models.BatchConfig) []Stage {
	whitenInput := FiltPRV
	if cfg.MaskArtifacts {
		whitenInput = MaskedPRV
	}

	sortRequires := []string{PrePRV, ParamsJSON}
	if cfg.SortMode == models.SortSegmented {
		sortRequires = append(sortRequires, EpochOffsetsJSON)
	}

	stages := []Stage{
		{
			Name:     ConcatEpochs,
			State:    models.StateLinked,
			Produces: []string{RawPRV, ParamsJSON, EpochOffsetsJSON},
			Scratch:  []string{RawMDA},
			Run:      concatenateEpochs,
		},
		{
			Name:     Filter,
			State:    models.StateFiltered,
			Requires: []string{RawPRV, ParamsJSON},
			Produces: []string{FiltPRV},
			Scratch:  []string{FiltMDA},
			Run:      bandpassFilter,
		},
	}
	if cfg.MaskArtifacts {
		stages = append(stages, Stage{
			Name:     MaskArtifacts,
			State:    models.StateFiltered,
			Requires: []string{FiltPRV},
			Produces: []string{MaskedPRV},
			Scratch:  []string{MaskedMDA},
			Run:      maskArtifacts,
		})
	}

	supersededByWhiten := []string{FiltPRV}
	if cfg.MaskArtifacts {
		supersededByWhiten = append(supersededByWhiten, MaskedPRV)
	}

	stages = append(stages,
		Stage{
			Name:       Whiten,
			State:      models.StateFiltered,
			Requires:   []string{whitenInput},
			Produces:   []string{PrePRV},
			Scratch:    []string{PreMDA},
			Supersedes: supersededByWhiten,
			Run:        whiten,
		},
		Stage{
			Name:     Sort,
			State:    models.StateSorted,
			Requires: sortRequires,
			Produces: []string{FiringsRawMDA, MetricsRawJSON},
			Scratch: []string{
				"pre-*.mda", "firings-*.mda",
				dmatrixMDA, k1DmatrixMDA, k2DmatrixMDA, dmatrixTemplatesMDA,
				metricsClusterJSON, metricsIsolationJSON,
			},
			Run: sortUnit,
		},
		Stage{
			Name:     Curate,
			State:    models.StateCurated,
			Requires: []string{MetricsRawJSON},
			Produces: []string{MetricsTaggedJSON},
			Run:      tagCuration,
		},
		Stage{
			Name:     CleanMetrics,
			State:    models.StateCurated,
			Requires: []string{MetricsTaggedJSON},
			Produces: []string{MetricsCleanJSON},
			Run:      cleanMetrics,
		},
		Stage{
			Name:     ExtractTemplates,
			State:    models.StateTemplated,
			Requires: []string{PrePRV, FiringsRawMDA},
			Produces: []string{TemplatesMDA, TemplatesStdevMDA, AmplitudesMDA, MarksMDA},
			Run:      extractTemplates,
		},
		Stage{
			Name:     Finalize,
			State:    models.StateDone,
			Requires: []string{MetricsCleanJSON, FiringsRawMDA},
			Produces: []string{FiringsCuratedMDA, UnitJSON},
			Archives: []string{RawPRV, PrePRV},
			Run:      finalize,
		},
	)
	return stages
}
