package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spachava753/sortbatch/internal/curation"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
)

func tagCuration(ctx context.Context, env *Env) error {
	p := env.Config.Params.Tagging
	err := env.invoke(ctx, processor.Invocation{
		Processor: "pyms.add_curation_tags",
		Inputs:    map[string][]string{"metrics": {env.Path(MetricsRawJSON)}},
		Outputs:   map[string]string{"metrics_tagged": env.Path(MetricsTaggedJSON)},
		Parameters: map[string]any{
			"firing_rate_thresh":   p.FiringRateThresh,
			"isolation_thresh":     p.IsolationThresh,
			"noise_overlap_thresh": p.NoiseOverlapThresh,
			"peak_snr_thresh":      p.PeakSNRThresh,
		},
	})
	if err != nil {
		return err
	}
	if _, err := curation.Load(env.Path(MetricsTaggedJSON)); err != nil {
		return fmt.Errorf("%w: tagged metrics unreadable: %w", models.ErrExternalProcessor, err)
	}
	return nil
}

func cleanMetrics(ctx context.Context, env *Env) error {
	doc, err := curation.Load(env.Path(MetricsTaggedJSON))
	if err != nil {
		return err
	}

	decisions := curation.Apply(doc, env.Config.Params.Cutoffs)
	accepted := 0
	for _, d := range decisions {
		if d.Accepted {
			accepted++
			continue
		}
		slog.Debug("cluster rejected", "unit", env.Unit.Index, "label", d.Label, "reasons", d.Reasons)
	}
	slog.Info("cleaned metrics", "unit", env.Unit.Index, "clusters", len(decisions), "accepted", accepted)

	return curation.Save(env.Path(MetricsCleanJSON), doc)
}
