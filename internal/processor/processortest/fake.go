// Package processortest provides an in-process processor.Runner for tests. It
// writes small, deterministic stand-ins for every declared output and records
// each invocation.
package processortest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/processor"
)

// MetricsJSON is what the fake writes for combined cluster metrics: clusters
// 1, 2 and 3 where only 1 passes the default cutoffs.
const MetricsJSON = `{
  "clusters": [
    {"label": 1, "metrics": {"peak_amp": 10, "peak_snr": 5, "isolation": 0.95, "noise_overlap": 0.01, "firing_rate": 1.5}, "tags": []},
    {"label": 2, "metrics": {"peak_amp": 2, "peak_snr": 5, "isolation": 0.95, "noise_overlap": 0.01, "firing_rate": 0.5}, "tags": []},
    {"label": 3, "metrics": {"peak_amp": 10, "peak_snr": 5, "isolation": 0.5, "noise_overlap": 0.01, "firing_rate": 0.7}, "tags": []}
  ]
}
`

// FiringsLabels are the labels of the events in every fake firings output.
var FiringsLabels = []float64{1, 2, 3, 1, 2, 3}

// Runner is a fake processor.Runner. It is safe for concurrent use.
type Runner struct {
	// Fail makes an invocation exit non-zero when it returns true.
	Fail func(inv processor.Invocation) bool
	// WriteOnFail writes outputs before failing, simulating a processor that
	// dies after producing partial results.
	WriteOnFail bool

	mu    sync.Mutex
	calls []processor.Invocation
}

// New creates a fake runner.
func New() *Runner {
	return &Runner{}
}

// Name returns the runner name.
func (r *Runner) Name() string { return "fake" }

// Start is a no-op.
func (r *Runner) Start(ctx context.Context) error { return nil }

// Close is a no-op.
func (r *Runner) Close(ctx context.Context) error { return nil }

// Exec records inv and writes its outputs.
func (r *Runner) Exec(ctx context.Context, inv processor.Invocation, stdout, stderr io.Writer, opts processor.ExecOptions) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	failing := r.Fail != nil && r.Fail(inv)
	if !failing || r.WriteOnFail {
		for key, out := range inv.Outputs {
			if err := writeOutput(inv, key, out); err != nil {
				return -1, fmt.Errorf("fake %s: %w", inv.Processor, err)
			}
		}
	}
	if failing {
		fmt.Fprintf(stderr, "injected failure in %s\n", inv.Processor)
		return 1, nil
	}
	fmt.Fprintf(stdout, "%s ok\n", inv.Processor)
	return 0, nil
}

// Calls returns a copy of every recorded invocation.
func (r *Runner) Calls() []processor.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]processor.Invocation(nil), r.calls...)
}

// Count returns the number of recorded invocations.
func (r *Runner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// CountFor returns the number of invocations of proc.
func (r *Runner) CountFor(proc string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Processor == proc {
			n++
		}
	}
	return n
}

// Reset forgets recorded invocations.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// InUnit matches invocations whose outputs live under dir.
func InUnit(dir string) func(inv processor.Invocation) bool {
	return func(inv processor.Invocation) bool {
		for _, out := range inv.Outputs {
			if filepath.Dir(out) == filepath.Clean(dir) {
				return true
			}
		}
		return false
	}
}

func writeOutput(inv processor.Invocation, key, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}

	switch {
	case inv.Processor == "ms3.concat_timeseries":
		return concat(inv.Inputs["timeseries_list"], out)
	case inv.Processor == "pyms.extract_timeseries":
		return extract(inv.Inputs["timeseries"][0], out, inv.Parameters)
	case key == "timeseries_out":
		return copyFile(inv.Inputs["timeseries"][0], out)
	case inv.Processor == "pyms.add_curation_tags":
		return copyFile(inv.Inputs["metrics"][0], out)
	case strings.HasSuffix(out, ".json"):
		return os.WriteFile(out, []byte(MetricsJSON), 0644)
	case key == "firings_out":
		return mda.WriteFile(out, Firings(), mda.Float64)
	default:
		a := mda.NewArray(2, 2)
		copy(a.Data, []float64{1, 2, 3, 4})
		return mda.WriteFile(out, a, mda.Float32)
	}
}

// Firings returns the firings array the fake sorter writes: channel, time,
// label rows for six events.
func Firings() *mda.Array {
	a := mda.NewArray(3, int64(len(FiringsLabels)))
	for j, label := range FiringsLabels {
		a.Set(0, int64(j), 1)
		a.Set(1, int64(j), float64(10*(j+1)))
		a.Set(2, int64(j), label)
	}
	return a
}

// WriteTimeseries writes a channels x samples timeseries whose entries are
// base + sample index.
func WriteTimeseries(path string, channels, samples int64, base float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	a := mda.NewArray(channels, samples)
	for j := range samples {
		for i := range channels {
			a.Set(i, j, base+float64(j))
		}
	}
	return mda.WriteFile(path, a, mda.Float32)
}

func concat(inputs []string, out string) error {
	var parts []*mda.Array
	var channels, total int64
	for _, in := range inputs {
		a, err := mda.ReadFile(in)
		if err != nil {
			return err
		}
		if channels == 0 {
			channels = a.N1()
		}
		if a.N1() != channels {
			return fmt.Errorf("channel mismatch: %s has %d, want %d", in, a.N1(), channels)
		}
		parts = append(parts, a)
		total += a.N2()
	}
	res := mda.NewArray(channels, total)
	var off int64
	for _, p := range parts {
		copy(res.Data[off*channels:], p.Data)
		off += p.N2()
	}
	return mda.WriteFile(out, res, mda.Float32)
}

func extract(in, out string, params map[string]any) error {
	a, err := mda.ReadFile(in)
	if err != nil {
		return err
	}
	t1, _ := params["t1"].(int64)
	t2, _ := params["t2"].(int64)
	if t1 < 0 || t2 < t1 || t2 >= a.N2() {
		return fmt.Errorf("segment [%d, %d] outside %d samples", t1, t2, a.N2())
	}
	n := a.N1()
	res := mda.NewArray(n, t2-t1+1)
	copy(res.Data, a.Data[t1*n:(t2+1)*n])
	return mda.WriteFile(out, res, mda.Float32)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
