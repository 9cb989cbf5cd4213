package stage

import "github.com/spachava753/sortbatch/internal/reference"

// Artifact filenames inside a unit directory. The filename is the artifact's
// identity for skip checks.
const (
	RawMDA            = "raw.mda"
	FiltMDA           = "filt.mda"
	MaskedMDA         = "filt_masked.mda"
	PreMDA            = "pre.mda"
	ParamsJSON        = "params.json"
	EpochOffsetsJSON  = "epoch_offsets.json"
	FiringsRawMDA     = "firings_raw.mda"
	MetricsRawJSON    = "metrics_raw.json"
	MetricsTaggedJSON = "metrics_tagged.json"
	MetricsCleanJSON  = "metrics_cleaned.json"
	HandCuratedJSON   = "hand_curated.json"
	TemplatesMDA      = "templates.mda"
	TemplatesStdevMDA = "templates_stdev.mda"
	AmplitudesMDA     = "firings_amplitudes.mda"
	MarksMDA          = "marks.mda"
	FiringsCuratedMDA = "firings_curated.mda"
	UnitJSON          = "unit.json"

	metricsClusterJSON   = "metrics_cluster.json"
	metricsIsolationJSON = "metrics_isolation.json"
	dmatrixMDA           = "dmatrix.mda"
	k1DmatrixMDA         = "k1_dmatrix.mda"
	k2DmatrixMDA         = "k2_dmatrix.mda"
	dmatrixTemplatesMDA  = "dmatrix_templates.mda"

	// LogFile collects external processor output for a unit.
	LogFile = "sortbatch.log"
)

// Descriptor names for the binary timeseries artifacts.
var (
	RawPRV    = reference.PathFor(RawMDA)
	FiltPRV   = reference.PathFor(FiltMDA)
	MaskedPRV = reference.PathFor(MaskedMDA)
	PrePRV    = reference.PathFor(PreMDA)
)
