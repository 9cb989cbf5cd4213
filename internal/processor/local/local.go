// Package local runs external processors as child processes on this host.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
)

// Runner invokes the toolkit executable directly.
type Runner struct {
	executable string
	path       string
}

// NewRunner creates a runner for the given executable name or path.
func NewRunner(executable string) *Runner {
	return &Runner{executable: executable}
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return "local"
}

// Start resolves the executable on PATH.
func (r *Runner) Start(ctx context.Context) error {
	path, err := exec.LookPath(r.executable)
	if err != nil {
		return fmt.Errorf("locating processor executable %q: %w", r.executable, err)
	}
	r.path = path
	return nil
}

// Exec runs the executable with the invocation's arguments.
func (r *Runner) Exec(ctx context.Context, inv processor.Invocation, stdout, stderr io.Writer, opts processor.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	bin := r.path
	if bin == "" {
		bin = r.executable
	}

	cmd := exec.CommandContext(ctx, bin, inv.Args()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = opts.WorkDir
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	err := cmd.Run()
	if err != nil {
		// Check for context timeout
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, fmt.Errorf("%w after %s", models.ErrProcessorTimeout, opts.Timeout)
		}
		// Try to extract exit code
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing %s: %w", inv.Processor, err)
	}

	return 0, nil
}

// Close is a no-op for local processes.
func (r *Runner) Close(ctx context.Context) error {
	return nil
}
