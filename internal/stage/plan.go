package stage

import (
	"path/filepath"

	"github.com/spachava753/sortbatch/internal/models"
)

// Step is a stage scheduled by a Plan.
type Step struct {
	Stage Stage
	// Skip is set when the stage's outputs are already present and no earlier
	// step in the plan will run.
	Skip bool
}

// Plan is the work left for one unit, computed once from a scan at unit start.
type Plan struct {
	Initial models.UnitState
	Steps   []Step
	// Stale is set when the linked epochs differ from those concatenated by an
	// earlier run. Every step runs and existing outputs must not be trusted.
	Stale bool
}

// Checkpoints returns, for each progress state, the artifacts whose presence
// proves the state was reached: the outputs of the last stage of that state.
// DONE additionally needs every terminal artifact from SORTED onward.
func Checkpoints(catalog []Stage) map[models.UnitState][]string {
	out := make(map[models.UnitState][]string)
	for _, s := range catalog {
		out[s.State] = s.Produces
	}

	var done []string
	for _, s := range catalog {
		if s.State.Rank() >= models.StateSorted.Rank() {
			done = append(done, s.Produces...)
		}
	}
	out[models.StateDone] = done
	return out
}

// Scan returns the highest state whose checkpoint artifacts are all present in
// dir, or PENDING. A unit whose linked epochs no longer match its concatenated
// recording is PENDING whatever else is present.
func Scan(catalog []Stage, dir string, oracle Oracle) models.UnitState {
	return scan(catalog, dir, oracle, EpochsChanged(dir))
}

func scan(catalog []Stage, dir string, oracle Oracle, stale bool) models.UnitState {
	if stale {
		return models.StatePending
	}
	checkpoints := Checkpoints(catalog)
	for i := len(models.ProgressStates) - 1; i > 0; i-- {
		state := models.ProgressStates[i]
		names, ok := checkpoints[state]
		if !ok {
			continue
		}
		if allPresent(dir, names, oracle) {
			return state
		}
	}
	return models.StatePending
}

// NewPlan scans dir and lists the stages still to run.
func NewPlan(catalog []Stage, dir string, oracle Oracle) Plan {
	stale := EpochsChanged(dir)
	p := Plan{Initial: scan(catalog, dir, oracle, stale), Stale: stale}
	if p.Initial == models.StateDone {
		return p
	}

	dirty := stale
	for _, s := range catalog {
		if s.State.Rank() <= p.Initial.Rank() {
			continue
		}
		skip := !dirty && allPresent(dir, s.Produces, oracle)
		if !skip {
			dirty = true
		}
		p.Steps = append(p.Steps, Step{Stage: s, Skip: skip})
	}
	return p
}

// Missing returns the names in names that are not present in dir.
func Missing(dir string, names []string, oracle Oracle) []string {
	var out []string
	for _, n := range names {
		if !oracle.Present(filepath.Join(dir, n)) {
			out = append(out, n)
		}
	}
	return out
}

func allPresent(dir string, names []string, oracle Oracle) bool {
	return len(names) > 0 && len(Missing(dir, names, oracle)) == 0
}
