package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"github.com/spachava753/sortbatch/internal/stage"
	"github.com/spachava753/sortbatch/internal/telemetry"
)

// UnitExecutor drives one unit to a terminal state and returns its outcome.
type UnitExecutor interface {
	Execute(ctx context.Context, unit models.Unit, runner processor.Runner) (*models.UnitOutcome, error)
}

// NewUnitExecutorFunc creates a UnitExecutor from a BatchConfig.
type NewUnitExecutorFunc func(cfg models.BatchConfig, rec *telemetry.Recorder) UnitExecutor

// DefaultUnitExecutor runs the stage catalog for one unit, skipping stages
// whose outputs are already present.
type DefaultUnitExecutor struct {
	Config   models.BatchConfig
	Oracle   stage.Oracle
	Recorder *telemetry.Recorder
}

// NewUnitExecutor creates a unit executor that checks artifacts on disk.
func NewUnitExecutor(cfg models.BatchConfig, rec *telemetry.Recorder) *DefaultUnitExecutor {
	return &DefaultUnitExecutor{
		Config:   cfg,
		Oracle:   stage.FSOracle{},
		Recorder: rec,
	}
}

// DefaultUnitExecutorFunc creates a default unit executor.
func DefaultUnitExecutorFunc(cfg models.BatchConfig, rec *telemetry.Recorder) UnitExecutor {
	return NewUnitExecutor(cfg, rec)
}

// Execute scans the unit directory once, then runs every stage the scan left
// outstanding. A stage error ends the unit in FAILED; it is reported in the
// outcome, not returned. The returned error is reserved for failures to run
// the unit at all.
func (e *DefaultUnitExecutor) Execute(ctx context.Context, unit models.Unit, runner processor.Runner) (*models.UnitOutcome, error) {
	out := &models.UnitOutcome{
		Unit:          unit.Index,
		StagesRun:     []string{},
		StagesSkipped: []string{},
		StartedAt:     time.Now(),
	}
	defer func() {
		out.EndedAt = time.Now()
		out.DurationSec = out.EndedAt.Sub(out.StartedAt).Seconds()
	}()

	catalog := stage.Catalog(e.Config)
	plan := stage.NewPlan(catalog, unit.OutputDir, e.Oracle)
	out.InitialState = plan.Initial
	out.State = plan.Initial

	if plan.Initial == models.StateDone {
		slog.Info("unit already done", "unit", unit.Index)
		return out, nil
	}
	slog.Info("unit started", "unit", unit.Index, "state", plan.Initial, "stages", len(plan.Steps))

	logFile, err := os.OpenFile(filepath.Join(unit.OutputDir, stage.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening unit log: %w", err)
	}
	defer logFile.Close()

	if plan.Stale {
		e.clearStale(unit, plan.Steps)
	}

	env := &stage.Env{
		Unit:      unit,
		NumEpochs: len(e.Config.Epochs),
		Config:    e.Config,
		Runner:    runner,
		Exec:      processor.ExecOptions{Timeout: e.Config.Processor.Timeout()},
		Log:       logFile,
	}

	for _, step := range plan.Steps {
		s := step.Stage
		name := string(s.Name)

		if step.Skip {
			slog.Info("stage skipped", "unit", unit.Index, "stage", name, "reason", "outputs present")
			e.Recorder.ObserveStage(name, telemetry.OutcomeSkipped, 0)
			out.StagesSkipped = append(out.StagesSkipped, name)
			out.State = s.State
			continue
		}

		if missing := stage.Missing(unit.OutputDir, s.Requires, e.Oracle); len(missing) > 0 {
			err := fmt.Errorf("%w: %s needs %s", models.ErrSourceNotFound, name, strings.Join(missing, ", "))
			slog.Error("stage inputs missing", "unit", unit.Index, "stage", name, "missing", missing)
			e.Recorder.ObserveStage(name, telemetry.OutcomeFailed, 0)
			return e.fail(out, s, err), nil
		}

		slog.Info("stage started", "unit", unit.Index, "stage", name)
		start := time.Now()
		err := s.Run(ctx, env)
		elapsed := time.Since(start)

		if err != nil {
			slog.Error("stage failed", "unit", unit.Index, "stage", name, "duration", elapsed, "error", err)
			e.Recorder.ObserveStage(name, telemetry.OutcomeFailed, elapsed)
			e.cleanupFailed(unit, s)
			return e.fail(out, s, err), nil
		}

		slog.Info("stage finished", "unit", unit.Index, "stage", name, "duration", elapsed)
		e.Recorder.ObserveStage(name, telemetry.OutcomeRun, elapsed)
		out.StagesRun = append(out.StagesRun, name)
		out.State = s.State

		if e.Config.ClearIntermediates {
			e.reclaim(unit, s)
		}
	}

	return out, nil
}

func (e *DefaultUnitExecutor) fail(out *models.UnitOutcome, s stage.Stage, err error) *models.UnitOutcome {
	out.State = models.StateFailed
	out.Error = &models.UnitError{
		Type:    models.ClassifyError(err),
		Stage:   string(s.Name),
		Message: err.Error(),
	}
	return out
}
