package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spachava753/sortbatch/internal/curation"
	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/util"
)

// UnitRecord is written last and marks a unit DONE.
type UnitRecord struct {
	Unit           int             `json:"unit"`
	Epochs         []string        `json:"epochs"`
	SortMode       models.SortMode `json:"sort_mode"`
	MaskArtifacts  bool            `json:"mask_artifacts"`
	Clusters       int             `json:"clusters"`
	AcceptedLabels []int           `json:"accepted_labels"`
	Events         int64           `json:"events"`
	CuratedEvents  int64           `json:"curated_events"`
}

func finalize(ctx context.Context, env *Env) error {
	doc, err := curation.Load(env.Path(MetricsCleanJSON))
	if err != nil {
		return err
	}

	if _, err := os.Stat(env.Path(HandCuratedJSON)); err == nil {
		hand, err := curation.Load(env.Path(HandCuratedJSON))
		if err != nil {
			slog.Warn("ignoring unreadable hand curation", "unit", env.Unit.Index, "error", err)
		} else if n := curation.MergeHand(doc, hand); n > 0 {
			slog.Info("merged hand curation", "unit", env.Unit.Index, "changed", n)
			if err := curation.Save(env.Path(MetricsCleanJSON), doc); err != nil {
				return err
			}
		}
	}

	firings, err := mda.ReadFile(env.Path(FiringsRawMDA))
	if err != nil {
		return err
	}
	accepted := curation.AcceptedLabels(doc)
	curated, err := curation.FilterFirings(firings, accepted)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrArtifactCorrupt, FiringsRawMDA, err)
	}
	if err := mda.WriteFile(env.Path(FiringsCuratedMDA), curated, mda.Float64); err != nil {
		return fmt.Errorf("writing curated firings: %w", err)
	}

	rec := UnitRecord{
		Unit:           env.Unit.Index,
		SortMode:       env.Config.SortMode,
		MaskArtifacts:  env.Config.MaskArtifacts,
		Clusters:       len(doc.Clusters),
		AcceptedLabels: make([]int, 0, len(accepted)),
		Events:         firings.N2(),
		CuratedEvents:  curated.N2(),
	}
	for label := range accepted {
		rec.AcceptedLabels = append(rec.AcceptedLabels, label)
	}
	sort.Ints(rec.AcceptedLabels)
	if offsets, err := ReadEpochOffsets(env.Unit.OutputDir); err == nil {
		rec.Epochs = offsets.Epochs
	}

	return util.WriteJSONAtomic(env.Path(UnitJSON), rec)
}
