package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spachava753/sortbatch/internal/dataset"
	"github.com/spachava753/sortbatch/internal/linker"
	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"github.com/spachava753/sortbatch/internal/reference"
	"github.com/spachava753/sortbatch/internal/util"
)

// EpochOffsets records where each epoch starts in the concatenated timeseries.
type EpochOffsets struct {
	Epochs        []string `json:"epochs"`
	SampleOffsets []int64  `json:"sample_offsets"`
	TotalSamples  int64    `json:"total_samples"`
}

// Segment is an inclusive sample range [T1, T2].
type Segment struct {
	T1, T2 int64
}

// Segments returns one segment per epoch.
func (o EpochOffsets) Segments() []Segment {
	segs := make([]Segment, len(o.SampleOffsets))
	for i, start := range o.SampleOffsets {
		end := o.TotalSamples - 1
		if i+1 < len(o.SampleOffsets) {
			end = o.SampleOffsets[i+1] - 1
		}
		segs[i] = Segment{T1: start, T2: end}
	}
	return segs
}

// ReadEpochOffsets loads epoch_offsets.json from a unit directory.
func ReadEpochOffsets(dir string) (EpochOffsets, error) {
	var o EpochOffsets
	path := filepath.Join(dir, EpochOffsetsJSON)
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("%w: %v", models.ErrSourceNotFound, err)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: parsing %s: %v", models.ErrArtifactCorrupt, path, err)
	}
	if len(o.SampleOffsets) == 0 || len(o.SampleOffsets) != len(o.Epochs) {
		return o, fmt.Errorf("%w: %s lists %d epochs and %d offsets", models.ErrArtifactCorrupt, path, len(o.Epochs), len(o.SampleOffsets))
	}
	return o, nil
}

// ComputeEpochOffsets reads each epoch's sample count from its MDA header, in
// the order given, and returns the running offsets.
func ComputeEpochOffsets(labels, paths []string) (EpochOffsets, error) {
	o := EpochOffsets{Epochs: labels}
	for _, p := range paths {
		h, err := mda.ReadHeaderFile(p)
		if err != nil {
			return o, fmt.Errorf("reading epoch header: %w", err)
		}
		o.SampleOffsets = append(o.SampleOffsets, o.TotalSamples)
		o.TotalSamples += h.N2()
	}
	return o, nil
}

func concatenateEpochs(ctx context.Context, env *Env) error {
	descs := linker.EpochDescriptors(env.Unit.OutputDir, env.NumEpochs)
	if len(descs) == 0 {
		return fmt.Errorf("%w: unit %d has no epoch descriptors", models.ErrSourceNotFound, env.Unit.Index)
	}

	var paths, labels []string
	for _, d := range descs {
		ref, err := reference.Load(d)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrSourceNotFound, err)
		}
		p, err := ref.Resolve()
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrSourceNotFound, err)
		}
		paths = append(paths, p)
		labels = append(labels, epochLabel(ref))
	}

	offsets, err := ComputeEpochOffsets(labels, paths)
	if err != nil {
		return err
	}

	rate := env.Config.Params.Dataset.SampleRate
	if p, ok := epochParams(paths[0]); ok {
		rate = p.SampleRate
	}

	if err := util.WriteJSONAtomic(env.Path(EpochOffsetsJSON), offsets); err != nil {
		return err
	}
	if err := util.WriteJSONAtomic(env.Path(ParamsJSON), dataset.Params{SampleRate: rate}); err != nil {
		return err
	}

	err = env.invoke(ctx, processor.Invocation{
		Processor: "ms3.concat_timeseries",
		Inputs:    map[string][]string{"timeseries_list": paths},
		Outputs:   map[string]string{"timeseries_out": env.Path(RawMDA)},
	})
	if err != nil {
		return err
	}
	return env.publish(RawMDA)
}

func epochLabel(ref *reference.Reference) string {
	if ref.Descriptor.Label != "" {
		return ref.Descriptor.Label
	}
	return filepath.Base(ref.Path)
}

// EpochsChanged reports whether the epoch descriptors linked in dir list
// different epochs, or the same epochs in a different order, than the
// concatenation recorded in epoch_offsets.json. It is false when either side
// is missing or unreadable.
func EpochsChanged(dir string) bool {
	offsets, err := ReadEpochOffsets(dir)
	if err != nil {
		return false
	}
	descs := linker.LinkedDescriptors(dir)
	if len(descs) == 0 {
		return false
	}
	labels := make([]string, 0, len(descs))
	for _, d := range descs {
		ref, err := reference.Load(d)
		if err != nil {
			return false
		}
		labels = append(labels, epochLabel(ref))
	}
	if slices.Equal(labels, offsets.Epochs) {
		return false
	}
	slog.Warn("linked epochs differ from the concatenated recording, reprocessing",
		"dir", dir, "linked", labels, "concatenated", offsets.Epochs)
	return true
}

// epochParams finds params.json next to an epoch's raw file, or one level up
// when the raw file sits in a per-unit subdirectory.
func epochParams(rawPath string) (dataset.Params, bool) {
	dir := filepath.Dir(rawPath)
	for _, d := range []string{dir, filepath.Dir(dir)} {
		p, ok, err := dataset.ReadParams(d)
		if err != nil {
			slog.Warn("ignoring unreadable epoch params", "dir", d, "error", err)
			continue
		}
		if ok {
			return p, true
		}
	}
	return dataset.Params{}, false
}

// sampleRate reads the unit's dataset params written at concatenation.
func (e *Env) sampleRate() (float64, error) {
	p, ok, err := dataset.ReadParams(e.Unit.OutputDir)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrSourceNotFound, e.Path(ParamsJSON))
	}
	return p.SampleRate, nil
}
