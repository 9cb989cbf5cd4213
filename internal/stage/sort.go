package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"golang.org/x/sync/errgroup"
)

func segmentName(prefix string, i int) string {
	return fmt.Sprintf("%s-%d.mda", prefix, i+1)
}

func sortUnit(ctx context.Context, env *Env) error {
	pre, err := env.resolve(PrePRV)
	if err != nil {
		return err
	}

	if env.Config.SortMode == models.SortSegmented {
		err = env.sortSegments(ctx, pre)
	} else {
		err = env.sortTimeseries(ctx, pre, env.Path(FiringsRawMDA))
	}
	if err != nil {
		return err
	}
	return env.computeMetrics(ctx, pre, env.Path(FiringsRawMDA), env.Path(MetricsRawJSON))
}

func (e *Env) sortTimeseries(ctx context.Context, timeseries, firingsOut string) error {
	p := e.Config.Params.Sort
	inputs := map[string][]string{"timeseries": {timeseries}}
	if p.Geom != "" {
		inputs["geom"] = []string{p.Geom}
	}
	return e.invoke(ctx, processor.Invocation{
		Processor: "ms4alg.sort",
		Inputs:    inputs,
		Outputs:   map[string]string{"firings_out": firingsOut},
		Parameters: map[string]any{
			"detect_sign":      p.DetectSign,
			"adjacency_radius": p.AdjacencyRadius,
			"detect_threshold": p.DetectThreshold,
		},
	})
}

// sortSegments splits the preprocessed timeseries at the epoch offsets
// recorded during concatenation, sorts each segment, and anneals the
// per-segment firings into one global firings artifact.
func (e *Env) sortSegments(ctx context.Context, pre string) error {
	offsets, err := ReadEpochOffsets(e.Unit.OutputDir)
	if err != nil {
		return err
	}
	segs := offsets.Segments()

	tsList := make([]string, len(segs))
	firingsList := make([]string, len(segs))
	for i := range segs {
		tsList[i] = e.Path(segmentName("pre", i))
		firingsList[i] = e.Path(segmentName("firings", i))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.Config.Params.Sort.SegmentParallelism))
	for i, seg := range segs {
		g.Go(func() error {
			slog.Debug("sorting segment", "unit", e.Unit.Index, "segment", i+1, "t1", seg.T1, "t2", seg.T2)
			err := e.invoke(gctx, processor.Invocation{
				Processor:  "pyms.extract_timeseries",
				Inputs:     map[string][]string{"timeseries": {pre}},
				Outputs:    map[string]string{"timeseries_out": tsList[i]},
				Parameters: map[string]any{"t1": seg.T1, "t2": seg.T2},
			})
			if err != nil {
				return fmt.Errorf("extracting segment %d: %w", i+1, err)
			}
			if err := e.sortTimeseries(gctx, tsList[i], firingsList[i]); err != nil {
				return fmt.Errorf("sorting segment %d: %w", i+1, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	err = e.invoke(ctx, processor.Invocation{
		Processor: "pyms.anneal_segments",
		Inputs: map[string][]string{
			"timeseries_list": tsList,
			"firings_list":    firingsList,
		},
		Outputs: map[string]string{
			"firings_out":           e.Path(FiringsRawMDA),
			"dmatrix_out":           e.Path(dmatrixMDA),
			"k1_dmatrix_out":        e.Path(k1DmatrixMDA),
			"k2_dmatrix_out":        e.Path(k2DmatrixMDA),
			"dmatrix_templates_out": e.Path(dmatrixTemplatesMDA),
		},
		Parameters: map[string]any{"time_offsets": offsets.SampleOffsets},
	})
	if err != nil {
		return err
	}

	if e.Config.Params.Sort.RmSegmentIntermediates {
		removeAll(append(append(tsList, firingsList...),
			e.Path(dmatrixMDA), e.Path(k1DmatrixMDA), e.Path(k2DmatrixMDA), e.Path(dmatrixTemplatesMDA)))
	}
	return nil
}

// computeMetrics runs the cluster and isolation metrics and combines them
// into one metrics document.
func (e *Env) computeMetrics(ctx context.Context, timeseries, firings, metricsOut string) error {
	rate, err := e.sampleRate()
	if err != nil {
		return err
	}
	inputs := map[string][]string{
		"timeseries": {timeseries},
		"firings":    {firings},
	}

	err = e.invoke(ctx, processor.Invocation{
		Processor:  "ms3.cluster_metrics",
		Inputs:     inputs,
		Outputs:    map[string]string{"cluster_metrics_out": e.Path(metricsClusterJSON)},
		Parameters: map[string]any{"samplerate": rate},
	})
	if err != nil {
		return err
	}
	err = e.invoke(ctx, processor.Invocation{
		Processor:  "ms3.isolation_metrics",
		Inputs:     inputs,
		Outputs:    map[string]string{"metrics_out": e.Path(metricsIsolationJSON)},
		Parameters: map[string]any{"compute_bursting_parents": true},
	})
	if err != nil {
		return err
	}
	err = e.invoke(ctx, processor.Invocation{
		Processor: "ms3.combine_cluster_metrics",
		Inputs:    map[string][]string{"metrics_list": {e.Path(metricsClusterJSON), e.Path(metricsIsolationJSON)}},
		Outputs:   map[string]string{"metrics_out": metricsOut},
	})
	if err != nil {
		return err
	}

	removeAll([]string{e.Path(metricsClusterJSON), e.Path(metricsIsolationJSON)})
	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove intermediate", "path", p, "error", err)
		}
	}
}
