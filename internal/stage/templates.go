package stage

import (
	"context"

	"github.com/spachava753/sortbatch/internal/processor"
)

func extractTemplates(ctx context.Context, env *Env) error {
	pre, err := env.resolve(PrePRV)
	if err != nil {
		return err
	}
	inputs := map[string][]string{
		"firings":    {env.Path(FiringsRawMDA)},
		"timeseries": {pre},
	}

	err = env.invoke(ctx, processor.Invocation{
		Processor: "mv.mv_compute_templates",
		Inputs:    inputs,
		Outputs: map[string]string{
			"templates_out": env.Path(TemplatesMDA),
			"stdevs_out":    env.Path(TemplatesStdevMDA),
		},
		Parameters: map[string]any{"clip_size": env.Config.Params.Templates.ClipSize},
	})
	if err != nil {
		return err
	}

	err = env.invoke(ctx, processor.Invocation{
		Processor: "mv.mv_compute_amplitudes",
		Inputs:    inputs,
		Outputs:   map[string]string{"firings_out": env.Path(AmplitudesMDA)},
	})
	if err != nil {
		return err
	}

	// Marks are single-sample clips at each event's peak.
	return env.invoke(ctx, processor.Invocation{
		Processor:  "pyms.extract_clips",
		Inputs:     inputs,
		Outputs:    map[string]string{"clips_out": env.Path(MarksMDA)},
		Parameters: map[string]any{"clip_size": 1},
	})
}
