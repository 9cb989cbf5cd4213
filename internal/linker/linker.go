// Package linker builds the per-unit working tree: one pointer descriptor per
// (epoch, unit) pair, named so that caller order survives.
package linker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/spachava753/sortbatch/internal/dataset"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/reference"
)

var descriptorPattern = regexp.MustCompile(`^epoch-(\d{3,})\.raw\.mda\.prv$`)

// DescriptorName returns the descriptor filename for the epoch at position
// order (0-based) in the caller's list.
func DescriptorName(order int) string {
	return fmt.Sprintf("epoch-%03d.raw.mda.prv", order+1)
}

// Result reports what a link pass did.
type Result struct {
	Epochs []models.Epoch
	// Linked maps unit index to the number of epoch descriptors written.
	Linked map[int]int
	// Missing maps unit index to the names of epochs that lacked it.
	Missing map[int][]string
	// Units is the sorted set of units that received at least one descriptor.
	Units []int
}

// Linker links raw epoch files into a unit-indexed output tree.
type Linker struct {
	loader *dataset.Loader
}

// New creates a new linker.
func New() *Linker {
	return &Linker{loader: dataset.NewLoader()}
}

// Link loads every epoch in order and writes
// <outputRoot>/<unit>/epoch-NNN.raw.mda.prv for each per-unit raw file found.
// When units is non-empty only those units are linked. Missing epoch
// directories fail before anything is written; a unit missing from one epoch
// is logged and skipped.
func (l *Linker) Link(ctx context.Context, epochPaths []string, outputRoot string, units []int) (*Result, error) {
	epochs, err := l.loader.LoadEpochs(ctx, epochPaths)
	if err != nil {
		return nil, err
	}

	want := units
	if len(want) == 0 {
		want = dataset.Units(epochs)
	}

	res := &Result{
		Epochs:  epochs,
		Linked:  make(map[int]int),
		Missing: make(map[int][]string),
	}

	for _, idx := range want {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		unit := models.NewUnit(outputRoot, idx)
		if err := os.MkdirAll(unit.OutputDir, 0755); err != nil {
			return res, fmt.Errorf("creating unit directory: %w", err)
		}

		written := make(map[string]bool)
		for _, ep := range epochs {
			raw, ok := ep.UnitFiles[idx]
			if !ok {
				slog.Warn("epoch has no raw file for unit", "unit", idx, "epoch", ep.Name)
				res.Missing[idx] = append(res.Missing[idx], ep.Name)
				continue
			}
			name := DescriptorName(ep.Order)
			if _, err := reference.Create(filepath.Join(unit.OutputDir, name), raw, ep.Name); err != nil {
				return res, fmt.Errorf("linking unit %d epoch %s: %w", idx, ep.Name, err)
			}
			written[name] = true
			res.Linked[idx]++
		}

		if err := pruneStale(unit.OutputDir, written); err != nil {
			slog.Warn("failed to prune stale epoch descriptors", "unit", idx, "error", err)
		}

		if res.Linked[idx] > 0 {
			res.Units = append(res.Units, idx)
		} else {
			slog.Warn("unit has no raw files in any epoch", "unit", idx)
		}
		slog.Debug("linked unit", "unit", idx, "epochs", res.Linked[idx])
	}

	return res, nil
}

// pruneStale removes epoch descriptors left from an earlier link with a
// different epoch list.
func pruneStale(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if _, ok := EpochOrder(e.Name()); !ok || keep[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EpochDescriptors returns the existing epoch descriptors in dir for the given
// number of epochs, in epoch order, skipping positions with no descriptor.
func EpochDescriptors(dir string, numEpochs int) []string {
	var out []string
	for i := range numEpochs {
		p := filepath.Join(dir, DescriptorName(i))
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// LinkedDescriptors returns every epoch descriptor in dir, in epoch order.
func LinkedDescriptors(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type linked struct {
		order int
		path  string
	}
	var found []linked
	for _, e := range entries {
		if n, ok := EpochOrder(e.Name()); ok && !e.IsDir() {
			found = append(found, linked{n, filepath.Join(dir, e.Name())})
		}
	}
	slices.SortFunc(found, func(a, b linked) int { return a.order - b.order })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out
}

// EpochOrder parses the 0-based epoch position out of a descriptor filename.
func EpochOrder(name string) (int, bool) {
	m := descriptorPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}
