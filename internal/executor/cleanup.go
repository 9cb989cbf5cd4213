package executor

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/reference"
	"github.com/spachava753/sortbatch/internal/stage"
	"github.com/spachava753/sortbatch/internal/util"
)

// scratchDir is the unit's namespace in the shared scratch directory.
// Artifact basenames repeat across units, so units never share a directory.
func (e *DefaultUnitExecutor) scratchDir(unit models.Unit) string {
	return filepath.Join(e.Config.ScratchDir, strconv.Itoa(unit.Index))
}

// cleanupFailed clears whatever a failed stage may have half written, so the
// next run starts that stage from a clean slate.
func (e *DefaultUnitExecutor) cleanupFailed(unit models.Unit, s stage.Stage) {
	e.clearOutputs(unit, s, "failed")
}

// clearStale clears the outputs of every planned stage. Used when the linked
// epochs no longer match the concatenated recording, so that no result of the
// old epoch list can satisfy a later scan.
func (e *DefaultUnitExecutor) clearStale(unit models.Unit, steps []stage.Step) {
	for _, step := range steps {
		e.clearOutputs(unit, step.Stage, "stale")
	}
}

// clearOutputs deletes or archives, per the cleanup policy, the files a stage
// may have written. Archives go under <scratch>/<unit>/<kind>/.
func (e *DefaultUnitExecutor) clearOutputs(unit models.Unit, s stage.Stage, kind string) {
	paths := stageFiles(unit.OutputDir, s)
	if len(paths) == 0 {
		return
	}

	if e.Config.CleanupPolicy == models.CleanupDelete {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("failed to delete artifact", "unit", unit.Index, "path", p, "error", err)
			}
		}
		slog.Info("deleted artifacts", "unit", unit.Index, "stage", s.Name, "kind", kind, "count", len(paths))
		return
	}

	dir := filepath.Join(e.scratchDir(unit), kind, string(s.Name)+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("failed to create archive dir", "unit", unit.Index, "dir", dir, "error", err)
		return
	}
	for _, p := range paths {
		if err := util.MoveFile(p, filepath.Join(dir, filepath.Base(p))); err != nil {
			slog.Warn("failed to archive artifact", "unit", unit.Index, "path", p, "error", err)
		}
	}
	slog.Info("archived artifacts", "unit", unit.Index, "stage", s.Name, "kind", kind, "dir", dir)
}

// stageFiles lists the files in dir a stage may have written.
func stageFiles(dir string, s stage.Stage) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if seen[p] {
			return
		}
		if _, err := os.Lstat(p); err != nil {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, name := range s.Produces {
		add(filepath.Join(dir, name))
	}
	for _, pattern := range s.Scratch {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, m := range matches {
			add(m)
		}
	}
	return out
}

// reclaim frees the space held by artifacts a completed stage made
// redundant. Superseded artifacts follow the cleanup policy. Archived ones are
// only ever relocated, since later tools still read them.
func (e *DefaultUnitExecutor) reclaim(unit models.Unit, s stage.Stage) {
	discard := e.Config.CleanupPolicy == models.CleanupDelete
	for _, name := range s.Supersedes {
		e.release(unit, name, discard)
	}
	if !discard {
		for _, name := range s.Archives {
			e.release(unit, name, false)
		}
	}
}

// release relocates or discards the artifact behind a descriptor. Failures
// are logged and never fail the unit.
func (e *DefaultUnitExecutor) release(unit models.Unit, descriptor string, discard bool) {
	ref, err := reference.Load(filepath.Join(unit.OutputDir, descriptor))
	if err != nil {
		slog.Warn("cannot reclaim artifact", "unit", unit.Index, "descriptor", descriptor, "error", err)
		return
	}
	if discard {
		if err := ref.Discard(); err != nil {
			slog.Warn("failed to discard artifact", "unit", unit.Index, "descriptor", descriptor, "error", err)
			return
		}
		slog.Debug("discarded artifact", "unit", unit.Index, "descriptor", descriptor)
		return
	}
	dest, err := ref.Relocate(e.scratchDir(unit))
	if err != nil {
		slog.Warn("failed to relocate artifact", "unit", unit.Index, "descriptor", descriptor, "error", err)
		return
	}
	slog.Debug("relocated artifact", "unit", unit.Index, "descriptor", descriptor, "dest", dest)
}
