package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spachava753/sortbatch/internal/models"
)

// Loader loads recording epochs from local paths.
type Loader struct{}

// NewLoader creates a new epoch loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadEpochs loads every epoch directory in caller order. The returned slice is
// never reordered: Epoch.Order is the position in paths.
func (l *Loader) LoadEpochs(ctx context.Context, paths []string) ([]models.Epoch, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no epoch directories given", models.ErrSourceNotFound)
	}

	epochs := make([]models.Epoch, 0, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep, err := l.LoadEpoch(ctx, i, p)
		if err != nil {
			return nil, fmt.Errorf("loading epoch %s: %w", p, err)
		}
		epochs = append(epochs, *ep)
	}
	return epochs, nil
}

// LoadEpoch loads a single epoch directory and discovers its per-unit raw files.
func (l *Loader) LoadEpoch(ctx context.Context, order int, epochPath string) (*models.Epoch, error) {
	absPath, err := filepath.Abs(epochPath)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, absPath)
		}
		return nil, fmt.Errorf("reading epoch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", models.ErrSourceNotFound, absPath)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading epoch directory: %w", err)
	}

	files := make(map[int]string)
	for _, entry := range entries {
		idx, ok := UnitIndexFromName(entry.Name())
		if !ok {
			continue
		}
		entryPath := filepath.Join(absPath, entry.Name())

		rawPath := entryPath
		if isDir(entryPath) {
			rawPath, err = findRawFile(entryPath)
			if err != nil {
				slog.Warn("skipping unit directory", "epoch", filepath.Base(absPath), "unit", idx, "error", err)
				continue
			}
		}

		if prev, dup := files[idx]; dup {
			return nil, fmt.Errorf("unit %d appears twice in epoch %s: %s and %s", idx, absPath, filepath.Base(prev), entry.Name())
		}
		files[idx] = rawPath
	}

	if len(files) == 0 {
		slog.Warn("epoch contains no per-unit raw files", "epoch", absPath)
	}

	return &models.Epoch{
		Order:     order,
		Name:      EpochName(absPath),
		Path:      absPath,
		UnitFiles: files,
	}, nil
}

// Units returns the sorted union of unit indices across epochs.
func Units(epochs []models.Epoch) []int {
	seen := make(map[int]bool)
	for _, ep := range epochs {
		for idx := range ep.UnitFiles {
			seen[idx] = true
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// findRawFile picks the timeseries inside a per-unit subdirectory: raw.mda if
// present, otherwise the only .mda file.
func findRawFile(dir string) (string, error) {
	if p := filepath.Join(dir, "raw.mda"); !isDir(p) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.mda"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, m := range matches {
		if !isDir(m) {
			candidates = append(candidates, m)
		}
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: no .mda file in %s", models.ErrSourceNotFound, dir)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("ambiguous raw file in %s: %d .mda files", dir, len(candidates))
	}
}
