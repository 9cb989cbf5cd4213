package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spachava753/sortbatch/internal/linker"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"github.com/spachava753/sortbatch/internal/processor/docker"
	"github.com/spachava753/sortbatch/internal/processor/local"
	"github.com/spachava753/sortbatch/internal/telemetry"
	"github.com/spachava753/sortbatch/internal/util"
	"golang.org/x/sync/errgroup"
)

const (
	// ReportFile is the batch report written to the output root.
	ReportFile = "report.json"
	// OutcomeFile is the per-unit outcome written to each unit directory.
	OutcomeFile = "outcome.json"
	// ConfigFile records the effective configuration of the last run.
	ConfigFile = "config.json"
)

// BatchOrchestrator links the epochs into the output tree and drives every
// unit to a terminal state.
type BatchOrchestrator struct {
	cfg         models.BatchConfig
	runner      processor.Runner
	newExecutor NewUnitExecutorFunc
	recorder    *telemetry.Recorder
}

// NewBatchOrchestrator creates a new batch orchestrator.
func NewBatchOrchestrator(cfg models.BatchConfig, executorFactory NewUnitExecutorFunc) (*BatchOrchestrator, error) {
	var runner processor.Runner
	switch cfg.Processor.Type {
	case "local":
		runner = local.NewRunner(cfg.Processor.Executable)
	case "docker":
		mounts, err := dockerMounts(cfg)
		if err != nil {
			return nil, err
		}
		runner = docker.NewRunner(docker.Options{
			Image:      cfg.Processor.Image,
			Executable: cfg.Processor.Executable,
			Mounts:     mounts,
			Name:       "sortbatch-" + uuid.NewString()[:8],
		})
	default:
		return nil, fmt.Errorf("unsupported processor type: %s", cfg.Processor.Type)
	}

	return &BatchOrchestrator{
		cfg:         cfg,
		runner:      runner,
		newExecutor: executorFactory,
		recorder:    telemetry.NewRecorder(),
	}, nil
}

// WithRunner replaces the processor runner.
func (o *BatchOrchestrator) WithRunner(r processor.Runner) *BatchOrchestrator {
	o.runner = r
	return o
}

// dockerMounts lists the host directories the container needs at identical
// paths: the output tree, the scratch dir, every epoch and the probe geometry.
func dockerMounts(cfg models.BatchConfig) ([]string, error) {
	paths := []string{cfg.OutputRoot, cfg.ScratchDir}
	paths = append(paths, cfg.Epochs...)
	paths = append(paths, cfg.Processor.Mounts...)
	if cfg.Params.Sort.Geom != "" {
		paths = append(paths, filepath.Dir(cfg.Params.Sort.Geom))
	}

	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving mount %s: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

// Run links the epochs and processes every unit. Individual unit failures are
// reported in the result; only setup failures return an error.
func (o *BatchOrchestrator) Run(ctx context.Context) (*models.BatchResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()

	if err := os.MkdirAll(o.cfg.OutputRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating output root: %w", err)
	}

	if o.cfg.ClearIntermediates && o.cfg.CleanupPolicy == models.CleanupArchive {
		if err := os.MkdirAll(o.cfg.ScratchDir, 0755); err != nil {
			return nil, fmt.Errorf("creating scratch dir: %w", err)
		}
		if util.SameDevice(o.cfg.OutputRoot, o.cfg.ScratchDir) {
			slog.Warn("scratch dir shares a filesystem with the output root; archiving intermediates frees no space",
				"output_root", o.cfg.OutputRoot, "scratch_dir", o.cfg.ScratchDir)
		}
	}

	requested, err := util.ParseIndexRange(o.cfg.Units)
	if err != nil {
		return nil, err
	}

	linked, err := linker.New().Link(ctx, o.cfg.Epochs, o.cfg.OutputRoot, requested)
	if err != nil {
		return nil, fmt.Errorf("linking epochs: %w", err)
	}
	slog.Info("linked epochs", "epochs", len(linked.Epochs), "units", len(linked.Units))

	if err := util.WriteJSONAtomic(filepath.Join(o.cfg.OutputRoot, ConfigFile), o.cfg); err != nil {
		slog.Warn("failed to save run config", "error", err)
	}

	var outcomes []*models.UnitOutcome
	for _, idx := range requested {
		if !slices.Contains(linked.Units, idx) {
			outcome := unlinkedOutcome(idx, linked.Missing[idx])
			o.recorder.ObserveUnit(outcome)
			outcomes = append(outcomes, outcome)
		}
	}

	units := make([]models.Unit, len(linked.Units))
	for i, idx := range linked.Units {
		units[i] = models.NewUnit(o.cfg.OutputRoot, idx)
	}

	skipped := 0
	if len(units) > 0 {
		if err := o.runner.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting %s runner: %w", o.runner.Name(), err)
		}
		defer func() {
			if err := o.runner.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to close runner", "runner", o.runner.Name(), "error", err)
			}
		}()

		nWorkers := o.cfg.Parallelism
		if nWorkers <= 0 {
			nWorkers = 1
		}
		nWorkers = min(nWorkers, len(units))

		var results []*models.UnitOutcome
		switch o.cfg.Strategy {
		case models.StrategyWave:
			results = o.runWaves(ctx, units, nWorkers)
		default:
			results = o.runConcurrent(ctx, units, nWorkers)
		}
		outcomes = append(outcomes, results...)

		ran := make(map[int]bool, len(results))
		for _, r := range results {
			ran[r.Unit] = true
		}
		for _, u := range units {
			if ran[u.Index] {
				continue
			}
			outcome := unscheduledOutcome(u.Index)
			o.recorder.ObserveUnit(outcome)
			outcomes = append(outcomes, outcome)
			skipped++
		}
	}

	batchResult := o.aggregateResults(runID, outcomes, startTime)
	batchResult.SkippedUnits = skipped
	if skipped > 0 || errors.Is(ctx.Err(), context.Canceled) {
		batchResult.Cancelled = true
	}

	if err := util.WriteJSONAtomic(filepath.Join(o.cfg.OutputRoot, ReportFile), batchResult); err != nil {
		slog.Warn("failed to save batch report", "error", err)
	}

	o.recorder.ObserveBatch(batchResult)
	if o.cfg.MetricsFile != "" {
		if err := o.recorder.WriteTextfile(o.cfg.MetricsFile); err != nil {
			slog.Warn("failed to export metrics", "path", o.cfg.MetricsFile, "error", err)
		}
	}

	return batchResult, nil
}

func unlinkedOutcome(idx int, missing []string) *models.UnitOutcome {
	now := time.Now()
	return &models.UnitOutcome{
		Unit:          idx,
		State:         models.StateFailed,
		InitialState:  models.StatePending,
		StagesRun:     []string{},
		StagesSkipped: []string{},
		StartedAt:     now,
		EndedAt:       now,
		Error: &models.UnitError{
			Type:    models.ErrTypeSourceNotFound,
			Message: fmt.Sprintf("no raw file for unit %d in epochs %v", idx, missing),
		},
	}
}

// unscheduledOutcome records a unit that was never started because the batch
// was cancelled. Its directory is left as the previous run left it.
func unscheduledOutcome(idx int) *models.UnitOutcome {
	now := time.Now()
	return &models.UnitOutcome{
		Unit:          idx,
		State:         models.StatePending,
		InitialState:  models.StatePending,
		StagesRun:     []string{},
		StagesSkipped: []string{},
		StartedAt:     now,
		EndedAt:       now,
		Error: &models.UnitError{
			Type:    models.ErrTypeCancelled,
			Message: "batch cancelled before the unit was scheduled",
		},
	}
}

// runUnit executes one unit. A unit that has started runs to completion, so
// cancellation only stops new units from being scheduled.
func (o *BatchOrchestrator) runUnit(ctx context.Context, executor UnitExecutor, unit models.Unit) *models.UnitOutcome {
	outcome, err := execute(context.WithoutCancel(ctx), executor, unit, o.runner)
	if err == nil && !outcome.State.Terminal() {
		err = fmt.Errorf("unit stopped in non-terminal state %s", outcome.State)
	}
	if err != nil {
		now := time.Now()
		outcome = &models.UnitOutcome{
			Unit:          unit.Index,
			State:         models.StateFailed,
			StagesRun:     []string{},
			StagesSkipped: []string{},
			StartedAt:     now,
			EndedAt:       now,
			Error: &models.UnitError{
				Type:    models.ErrTypeInternal,
				Message: err.Error(),
			},
		}
	}

	if err := util.WriteJSONAtomic(filepath.Join(unit.OutputDir, OutcomeFile), outcome); err != nil {
		slog.Warn("failed to save unit outcome", "unit", unit.Index, "error", err)
	}
	o.recorder.ObserveUnit(outcome)

	if outcome.Error != nil {
		slog.Error("unit failed", "unit", unit.Index, "stage", outcome.Error.Stage, "type", outcome.Error.Type, "error", outcome.Error.Message)
	} else {
		slog.Info("unit done", "unit", unit.Index, "ran", len(outcome.StagesRun), "skipped", len(outcome.StagesSkipped), "duration_sec", outcome.DurationSec)
	}
	return outcome
}

// execute runs one unit, turning a panic into an error so that it fails only
// that unit.
func execute(ctx context.Context, executor UnitExecutor, unit models.Unit, runner processor.Runner) (outcome *models.UnitOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unit panicked", "unit", unit.Index, "panic", r, "stack", string(debug.Stack()))
			outcome, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return executor.Execute(ctx, unit, runner)
}

// runConcurrent executes units on a fixed pool of workers fed from a queue.
// Units not yet handed to a worker when ctx is cancelled are not run.
func (o *BatchOrchestrator) runConcurrent(ctx context.Context, units []models.Unit, nWorkers int) []*models.UnitOutcome {
	unitChan := make(chan models.Unit) // unbuffered
	resultChan := make(chan *models.UnitOutcome, len(units))

	var wg sync.WaitGroup

	for range nWorkers {
		wg.Go(func() {
			executor := o.newExecutor(o.cfg, o.recorder)
			for unit := range unitChan {
				resultChan <- o.runUnit(ctx, executor, unit)
			}
		})
	}

	// Feeder goroutine: sends units to workers, respects context cancellation
	go func() {
		defer close(unitChan)
		for _, unit := range units {
			select {
			case <-ctx.Done():
				return
			case unitChan <- unit:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []*models.UnitOutcome
	for result := range resultChan {
		results = append(results, result)
	}

	return results
}

// runWaves executes units in cohorts of size nWorkers, waiting for every unit
// of a cohort to finish before starting the next.
func (o *BatchOrchestrator) runWaves(ctx context.Context, units []models.Unit, nWorkers int) []*models.UnitOutcome {
	var results []*models.UnitOutcome
	for start := 0; start < len(units); start += nWorkers {
		if ctx.Err() != nil {
			break
		}
		cohort := units[start:min(start+nWorkers, len(units))]
		slog.Debug("starting cohort", "first", cohort[0].Index, "size", len(cohort))

		outcomes := make([]*models.UnitOutcome, len(cohort))
		var g errgroup.Group
		for i, unit := range cohort {
			g.Go(func() error {
				outcomes[i] = o.runUnit(ctx, o.newExecutor(o.cfg, o.recorder), unit)
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, outcomes...)
	}
	return results
}

func (o *BatchOrchestrator) aggregateResults(runID string, outcomes []*models.UnitOutcome, startTime time.Time) *models.BatchResult {
	slices.SortFunc(outcomes, func(a, b *models.UnitOutcome) int { return a.Unit - b.Unit })

	br := &models.BatchResult{
		RunID:       runID,
		Name:        batchName(o.cfg, startTime),
		Strategy:    o.cfg.Strategy,
		Parallelism: o.cfg.Parallelism,
		TotalUnits:  len(outcomes),
		StartedAt:   startTime,
		EndedAt:     time.Now(),
		Outcomes:    outcomes,
	}
	br.TotalDurationSec = br.EndedAt.Sub(br.StartedAt).Seconds()

	for _, r := range outcomes {
		switch r.State {
		case models.StateDone:
			br.DoneUnits++
		case models.StateFailed:
			br.FailedUnits++
		}
	}
	return br
}

func batchName(cfg models.BatchConfig, startTime time.Time) string {
	if cfg.Name != nil {
		return *cfg.Name
	}
	return startTime.Format("2006-01-02__15-04-05")
}
