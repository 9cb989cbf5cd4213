package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/stage"
	"github.com/spachava753/sortbatch/internal/util"
)

// UnitStatus is the state of one unit as found on disk.
type UnitStatus struct {
	Unit  int              `json:"unit"`
	State models.UnitState `json:"state"`
	// Next is the first stage a run would execute, empty when DONE.
	Next string `json:"next,omitempty"`
	// Last is the outcome recorded by the most recent run, if any.
	Last *models.UnitOutcome `json:"last,omitempty"`
}

// Status scans unit directories under the output root without running
// anything. When cfg.Units is empty every numeric subdirectory is scanned.
func Status(cfg models.BatchConfig, oracle stage.Oracle) ([]UnitStatus, error) {
	units, err := util.ParseIndexRange(cfg.Units)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		units, err = unitDirs(cfg.OutputRoot)
		if err != nil {
			return nil, err
		}
	}

	catalog := stage.Catalog(cfg)
	var out []UnitStatus
	for _, idx := range units {
		unit := models.NewUnit(cfg.OutputRoot, idx)
		plan := stage.NewPlan(catalog, unit.OutputDir, oracle)
		st := UnitStatus{Unit: idx, State: plan.Initial}
		for _, step := range plan.Steps {
			if !step.Skip {
				st.Next = string(step.Stage.Name)
				break
			}
		}
		st.Last = readOutcome(unit.OutputDir)
		out = append(out, st)
	}
	return out, nil
}

func unitDirs(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: output root %s", models.ErrSourceNotFound, root)
		}
		return nil, fmt.Errorf("reading output root: %w", err)
	}
	var units []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n > 0 {
			units = append(units, n)
		}
	}
	slices.Sort(units)
	return units, nil
}

func readOutcome(dir string) *models.UnitOutcome {
	data, err := os.ReadFile(filepath.Join(dir, OutcomeFile))
	if err != nil {
		return nil
	}
	var o models.UnitOutcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil
	}
	return &o
}
