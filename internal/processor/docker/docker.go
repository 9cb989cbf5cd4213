// Package docker runs external processors inside one long-lived container per
// batch, with artifact directories bind-mounted at identical paths so that
// descriptor paths resolve the same inside and out.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
)

// Options configures the container.
type Options struct {
	Image      string
	Executable string
	// Mounts are host directories bind-mounted at the same path.
	Mounts []string
	// Name is the container name; generated by the caller for uniqueness.
	Name string
}

// Runner implements processor.Runner on top of the docker CLI.
type Runner struct {
	opts        Options
	containerID string
}

// NewRunner creates a new Docker runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return "docker"
}

// Start pulls the image if needed and starts the container.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.ensureImage(ctx); err != nil {
		return err
	}

	args := []string{
		"run",
		"-d",
		"--name", r.opts.Name,
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}
	for _, m := range mountPaths(r.opts.Mounts) {
		args = append(args, "-v", fmt.Sprintf("%s:%s", m, m))
	}
	args = append(args, r.opts.Image)
	// Keep container running with sleep infinity
	args = append(args, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("creating docker container: %w: %s", err, stderr.String())
	}
	r.containerID = strings.TrimSpace(stdout.String())
	if r.containerID == "" {
		r.containerID = r.opts.Name
	}
	return nil
}

func (r *Runner) ensureImage(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "docker", "image", "inspect", r.opts.Image).Run(); err == nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "docker", "pull", r.opts.Image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pulling docker image: %w: %s", err, stderr.String())
	}
	return nil
}

// killGrace is how long the in-container timeout waits after SIGTERM before
// SIGKILL, and how much longer the docker client waits beyond that.
const killGrace = 10 * time.Second

// timeoutExitCode is the exit status of coreutils timeout when it fired.
const timeoutExitCode = 124

// Exec runs the toolkit executable in the container. With a timeout the
// executable runs under timeout(1) inside the container, since killing the
// docker client alone leaves the process running there.
func (r *Runner) Exec(ctx context.Context, inv processor.Invocation, stdout, stderr io.Writer, opts processor.ExecOptions) (int, error) {
	if r.containerID == "" {
		return -1, errors.New("docker runner not started")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout+2*killGrace)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, "docker", r.execArgs(inv, opts)...)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	err := execCmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, fmt.Errorf("%w after %s", models.ErrProcessorTimeout, opts.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if opts.Timeout > 0 && exitErr.ExitCode() == timeoutExitCode {
				return -1, fmt.Errorf("%w after %s", models.ErrProcessorTimeout, opts.Timeout)
			}
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing command: %w", err)
	}

	return 0, nil
}

func (r *Runner) execArgs(inv processor.Invocation, opts processor.ExecOptions) []string {
	args := []string{"exec"}
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	args = append(args, r.containerID)
	if opts.Timeout > 0 {
		args = append(args, "timeout",
			"--kill-after="+strconv.Itoa(int(killGrace.Seconds()))+"s",
			strconv.FormatFloat(opts.Timeout.Seconds(), 'f', -1, 64)+"s")
	}
	args = append(args, r.opts.Executable)
	return append(args, inv.Args()...)
}

// Close removes the container.
func (r *Runner) Close(ctx context.Context) error {
	if r.containerID == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", r.containerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Ignore error if container already removed
		if !strings.Contains(stderr.String(), "No such container") {
			return fmt.Errorf("removing container: %w: %s", err, stderr.String())
		}
	}
	r.containerID = ""
	return nil
}

// mountPaths returns absolute, de-duplicated mount roots, dropping any path
// already covered by another mount.
func mountPaths(paths []string) []string {
	var abs []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		a, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		abs = append(abs, filepath.Clean(a))
	}
	slices.Sort(abs)
	abs = slices.Compact(abs)

	var out []string
	for _, p := range abs {
		covered := false
		for _, q := range out {
			if p == q || strings.HasPrefix(p, q+string(filepath.Separator)) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}
