// Package processor defines the boundary to the external sorting toolkit.
package processor

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spachava753/sortbatch/internal/models"
)

// Invocation is one call into the external toolkit: named input artifact
// paths, named output artifact paths, and a flat parameter record.
type Invocation struct {
	Processor  string
	Inputs     map[string][]string
	Outputs    map[string]string
	Parameters map[string]any
}

// Args renders the invocation as ml-run-process arguments with keys sorted.
func (inv Invocation) Args() []string {
	args := []string{inv.Processor}
	if len(inv.Inputs) > 0 {
		args = append(args, "--inputs")
		for _, k := range slices.Sorted(maps.Keys(inv.Inputs)) {
			for _, v := range inv.Inputs[k] {
				args = append(args, k+":"+v)
			}
		}
	}
	if len(inv.Outputs) > 0 {
		args = append(args, "--outputs")
		for _, k := range slices.Sorted(maps.Keys(inv.Outputs)) {
			args = append(args, k+":"+inv.Outputs[k])
		}
	}
	if len(inv.Parameters) > 0 {
		args = append(args, "--parameters")
		for _, k := range slices.Sorted(maps.Keys(inv.Parameters)) {
			args = append(args, k+":"+FormatParam(inv.Parameters[k]))
		}
	}
	return args
}

// OutputPaths returns the declared output paths in key order.
func (inv Invocation) OutputPaths() []string {
	out := make([]string, 0, len(inv.Outputs))
	for _, k := range slices.Sorted(maps.Keys(inv.Outputs)) {
		out = append(out, inv.Outputs[k])
	}
	return out
}

// FormatParam renders a parameter value the way ml-run-process parses it.
func FormatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []int64:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// ExecOptions configures a single invocation.
type ExecOptions struct {
	Env     map[string]string
	Timeout time.Duration
	WorkDir string
}

// Runner executes invocations somewhere the artifact paths are visible.
type Runner interface {
	// Name returns the runner name (e.g., "local", "docker").
	Name() string

	// Start prepares the runner for a batch.
	Start(ctx context.Context) error

	// Exec runs an invocation, streaming output to the provided writers.
	// Returns the exit code or error on failure.
	Exec(ctx context.Context, inv Invocation, stdout, stderr io.Writer, opts ExecOptions) (int, error)

	// Close releases anything Start acquired.
	Close(ctx context.Context) error
}

// Invoke runs inv and verifies that every declared output exists afterward.
// Output is copied to log when non-nil. All failures wrap
// models.ErrExternalProcessor or models.ErrProcessorTimeout.
func Invoke(ctx context.Context, r Runner, inv Invocation, opts ExecOptions, log io.Writer) error {
	tail := &tailBuffer{max: 2048}
	var w io.Writer = tail
	if log != nil {
		w = io.MultiWriter(log, tail)
	}

	code, err := r.Exec(ctx, inv, w, w, opts)
	if err != nil {
		if models.ClassifyError(err) == models.ErrTypeProcessorTimeout {
			return fmt.Errorf("%s: %w", inv.Processor, err)
		}
		return fmt.Errorf("%w: %s: %v", models.ErrExternalProcessor, inv.Processor, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %s exited with code %d: %s", models.ErrExternalProcessor, inv.Processor, code, tail.String())
	}

	for _, p := range inv.OutputPaths() {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: %s did not write declared output %s", models.ErrExternalProcessor, inv.Processor, p)
		}
		if info.Size() == 0 {
			return fmt.Errorf("%w: %s wrote empty output %s", models.ErrExternalProcessor, inv.Processor, p)
		}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
