package stage

import (
	"context"

	"github.com/spachava753/sortbatch/internal/processor"
)

// transform runs a one-in one-out timeseries processor and publishes the
// output's descriptor.
func (e *Env) transform(ctx context.Context, proc, inputDescriptor, output string, params map[string]any) error {
	in, err := e.resolve(inputDescriptor)
	if err != nil {
		return err
	}
	err = e.invoke(ctx, processor.Invocation{
		Processor:  proc,
		Inputs:     map[string][]string{"timeseries": {in}},
		Outputs:    map[string]string{"timeseries_out": e.Path(output)},
		Parameters: params,
	})
	if err != nil {
		return err
	}
	return e.publish(output)
}

func bandpassFilter(ctx context.Context, env *Env) error {
	rate, err := env.sampleRate()
	if err != nil {
		return err
	}
	p := env.Config.Params.Filter
	return env.transform(ctx, "ephys.bandpass_filter", RawPRV, FiltMDA, map[string]any{
		"samplerate": rate,
		"freq_min":   p.FreqMin,
		"freq_max":   p.FreqMax,
	})
}

func maskArtifacts(ctx context.Context, env *Env) error {
	p := env.Config.Params.Mask
	return env.transform(ctx, "ms3.mask_out_artifacts", FiltPRV, MaskedMDA, map[string]any{
		"threshold":     p.Threshold,
		"interval_size": p.IntervalSize,
	})
}

func whiten(ctx context.Context, env *Env) error {
	input := FiltPRV
	if env.Config.MaskArtifacts {
		input = MaskedPRV
	}
	return env.transform(ctx, "ephys.whiten", input, PreMDA, nil)
}
