package executor_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spachava753/sortbatch/internal/config"
	"github.com/spachava753/sortbatch/internal/executor"
	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/processor"
	"github.com/spachava753/sortbatch/internal/processor/processortest"
	"github.com/spachava753/sortbatch/internal/stage"
	"github.com/spachava753/sortbatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var terminalArtifacts = []string{
	stage.FiringsRawMDA,
	stage.MetricsRawJSON,
	stage.MetricsTaggedJSON,
	stage.MetricsCleanJSON,
	stage.TemplatesMDA,
	stage.FiringsCuratedMDA,
	stage.UnitJSON,
}

// makeEpochs writes two epochs of different lengths, each holding units
// 1..nUnits.
func makeEpochs(t *testing.T, nUnits int) []string {
	t.Helper()
	root := t.TempDir()
	var paths []string
	for i, samples := range []int64{6, 4} {
		dir := filepath.Join(root, fmt.Sprintf("20240101_r%d.mda", i+1))
		for u := 1; u <= nUnits; u++ {
			name := fmt.Sprintf("20240101_r%d.nt%d.mda", i+1, u)
			require.NoError(t, processortest.WriteTimeseries(filepath.Join(dir, name), 4, samples, float64(100*i)))
		}
		paths = append(paths, dir)
	}
	return paths
}

func testConfig(t *testing.T, epochs []string) models.BatchConfig {
	t.Helper()
	cfg := config.DefaultBatchConfig()
	cfg.OutputRoot = t.TempDir()
	cfg.Epochs = epochs
	cfg.Parallelism = 2
	config.ApplyDefaults(&cfg)
	return cfg
}

func newOrchestrator(t *testing.T, cfg models.BatchConfig, runner processor.Runner) *executor.BatchOrchestrator {
	t.Helper()
	o, err := executor.NewBatchOrchestrator(cfg, executor.DefaultUnitExecutorFunc)
	require.NoError(t, err)
	return o.WithRunner(runner)
}

func outcomeFor(t *testing.T, res *models.BatchResult, unit int) *models.UnitOutcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Unit == unit {
			return o
		}
	}
	t.Fatalf("no outcome for unit %d", unit)
	return nil
}

func readArtifacts(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, name := range terminalArtifacts {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		out[name] = data
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 3))
	runner := processortest.New()

	first, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalUnits)
	assert.Equal(t, 3, first.DoneUnits)
	assert.Zero(t, first.FailedUnits)
	assert.False(t, first.Cancelled)
	assert.NotEmpty(t, first.RunID)
	assert.Positive(t, runner.Count())

	before := make(map[int]map[string][]byte)
	for u := 1; u <= 3; u++ {
		before[u] = readArtifacts(t, filepath.Join(cfg.OutputRoot, strconv.Itoa(u)))
	}

	runner.Reset()
	second, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, runner.Count(), "second run must not invoke any processor")
	assert.Equal(t, 3, second.DoneUnits)
	assert.NotEqual(t, first.RunID, second.RunID)

	for u := 1; u <= 3; u++ {
		o := outcomeFor(t, second, u)
		assert.Equal(t, models.StateDone, o.InitialState)
		assert.Empty(t, o.StagesRun)
		assert.Equal(t, before[u], readArtifacts(t, filepath.Join(cfg.OutputRoot, strconv.Itoa(u))))
	}

	var report models.BatchResult
	data, err := os.ReadFile(filepath.Join(cfg.OutputRoot, executor.ReportFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, second.RunID, report.RunID)
	assert.Len(t, report.Outcomes, 3)
}

func TestFailureIsolation(t *testing.T) {
	for _, strategy := range []models.Strategy{models.StrategyPool, models.StrategyWave} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := testConfig(t, makeEpochs(t, 4))
			cfg.Strategy = strategy

			failing := models.NewUnit(cfg.OutputRoot, 3)
			inUnit := processortest.InUnit(failing.OutputDir)
			runner := processortest.New()
			runner.Fail = func(inv processor.Invocation) bool {
				return inv.Processor == "ms4alg.sort" && inUnit(inv)
			}
			runner.WriteOnFail = true

			res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 4, res.TotalUnits)
			assert.Equal(t, 3, res.DoneUnits)
			assert.Equal(t, 1, res.FailedUnits)

			for u := 1; u <= 4; u++ {
				o := outcomeFor(t, res, u)
				if u != 3 {
					assert.Equal(t, models.StateDone, o.State, "unit %d", u)
					assert.Nil(t, o.Error)
					continue
				}
				assert.Equal(t, models.StateFailed, o.State)
				require.NotNil(t, o.Error)
				assert.Equal(t, models.ErrTypeExternalProcessor, o.Error.Type)
				assert.Equal(t, string(stage.Sort), o.Error.Stage)
			}

			// Half-written sort outputs are archived out of the unit directory.
			partial, _ := filepath.Glob(filepath.Join(failing.OutputDir, "firings-*.mda"))
			assert.Empty(t, partial)
			archived, _ := filepath.Glob(filepath.Join(cfg.ScratchDir, "3", "failed", "sort-*"))
			assert.Len(t, archived, 1)

			// The outcome is also recorded next to the unit's artifacts.
			data, err := os.ReadFile(filepath.Join(failing.OutputDir, executor.OutcomeFile))
			require.NoError(t, err)
			assert.Contains(t, string(data), "external_processor_failure")
		})
	}
}

func TestResumeAfterWhiten(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 1))
	cfg.CleanupPolicy = models.CleanupDelete

	runner := processortest.New()
	runner.Fail = func(inv processor.Invocation) bool { return inv.Processor == "ms4alg.sort" }

	res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedUnits)

	runner.Reset()
	runner.Fail = nil
	res, err = newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.DoneUnits)

	o := outcomeFor(t, res, 1)
	assert.Equal(t, models.StateFiltered, o.InitialState)
	require.NotEmpty(t, o.StagesRun)
	assert.Equal(t, string(stage.Sort), o.StagesRun[0])
	for _, proc := range []string{"ms3.concat_timeseries", "ephys.bandpass_filter", "ephys.whiten"} {
		assert.Zero(t, runner.CountFor(proc), proc)
	}
}

func TestReorderedEpochsReprocess(t *testing.T) {
	for _, policy := range []models.CleanupPolicy{models.CleanupArchive, models.CleanupDelete} {
		t.Run(string(policy), func(t *testing.T) {
			epochs := makeEpochs(t, 1)
			cfg := testConfig(t, epochs)
			cfg.CleanupPolicy = policy
			runner := processortest.New()

			_, err := newOrchestrator(t, cfg, runner).Run(context.Background())
			require.NoError(t, err)

			unitDir := filepath.Join(cfg.OutputRoot, "1")
			offsets, err := stage.ReadEpochOffsets(unitDir)
			require.NoError(t, err)
			assert.Equal(t, []string{"20240101_r1", "20240101_r2"}, offsets.Epochs)
			assert.Equal(t, []int64{0, 6}, offsets.SampleOffsets)

			cfg.Epochs = []string{epochs[1], epochs[0]}
			runner.Reset()
			res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, res.DoneUnits)

			o := outcomeFor(t, res, 1)
			assert.Equal(t, models.StatePending, o.InitialState)
			assert.Empty(t, o.StagesSkipped)
			require.NotEmpty(t, o.StagesRun)
			assert.Equal(t, string(stage.ConcatEpochs), o.StagesRun[0])
			assert.Equal(t, 1, runner.CountFor("ms3.concat_timeseries"))
			assert.Equal(t, 2, runner.CountFor("ms4alg.sort"), "one sort per epoch segment")

			offsets, err = stage.ReadEpochOffsets(unitDir)
			require.NoError(t, err)
			assert.Equal(t, []string{"20240101_r2", "20240101_r1"}, offsets.Epochs)
			assert.Equal(t, []int64{0, 4}, offsets.SampleOffsets)

			var rec stage.UnitRecord
			data, err := os.ReadFile(filepath.Join(unitDir, stage.UnitJSON))
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, &rec))
			assert.Equal(t, offsets.Epochs, rec.Epochs)

			runner.Reset()
			_, err = newOrchestrator(t, cfg, runner).Run(context.Background())
			require.NoError(t, err)
			assert.Zero(t, runner.Count(), "the new order is stable once processed")
		})
	}
}

func TestClearIntermediates(t *testing.T) {
	t.Run("archive", func(t *testing.T) {
		cfg := testConfig(t, makeEpochs(t, 1))
		cfg.ClearIntermediates = true
		cfg.MaskArtifacts = true
		runner := processortest.New()

		res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.DoneUnits)

		unitDir := filepath.Join(cfg.OutputRoot, "1")
		for _, name := range []string{stage.FiltMDA, stage.MaskedMDA, stage.RawMDA, stage.PreMDA} {
			info, err := os.Lstat(filepath.Join(unitDir, name))
			require.NoError(t, err, name)
			assert.NotZero(t, info.Mode()&os.ModeSymlink, "%s should link into scratch", name)
			assert.FileExists(t, filepath.Join(cfg.ScratchDir, "1", name))
		}

		runner.Reset()
		_, err = newOrchestrator(t, cfg, runner).Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, runner.Count())
	})

	t.Run("delete", func(t *testing.T) {
		cfg := testConfig(t, makeEpochs(t, 1))
		cfg.ClearIntermediates = true
		cfg.CleanupPolicy = models.CleanupDelete
		runner := processortest.New()

		res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.DoneUnits)

		unitDir := filepath.Join(cfg.OutputRoot, "1")
		assert.NoFileExists(t, filepath.Join(unitDir, stage.FiltMDA))
		assert.NoFileExists(t, filepath.Join(unitDir, stage.FiltPRV))
		// The preprocessed artifact is kept.
		assert.FileExists(t, filepath.Join(unitDir, stage.PreMDA))

		runner.Reset()
		_, err = newOrchestrator(t, cfg, runner).Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, runner.Count())
	})
}

// cancellingExecutor cancels the batch context once it has run a unit.
type cancellingExecutor struct {
	inner  executor.UnitExecutor
	cancel context.CancelFunc
}

func (c *cancellingExecutor) Execute(ctx context.Context, unit models.Unit, runner processor.Runner) (*models.UnitOutcome, error) {
	defer c.cancel()
	return c.inner.Execute(ctx, unit, runner)
}

func TestCancellationStopsScheduling(t *testing.T) {
	for _, strategy := range []models.Strategy{models.StrategyPool, models.StrategyWave} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := testConfig(t, makeEpochs(t, 3))
			cfg.Strategy = strategy
			cfg.Parallelism = 1

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			factory := func(cfg models.BatchConfig, rec *telemetry.Recorder) executor.UnitExecutor {
				return &cancellingExecutor{inner: executor.NewUnitExecutor(cfg, rec), cancel: cancel}
			}
			o, err := executor.NewBatchOrchestrator(cfg, factory)
			require.NoError(t, err)
			o.WithRunner(processortest.New())

			res, err := o.Run(ctx)
			require.NoError(t, err)
			assert.True(t, res.Cancelled)
			assert.Equal(t, 3, res.TotalUnits)
			assert.Equal(t, 1, res.DoneUnits, "the started unit runs to completion")
			assert.Equal(t, 2, res.SkippedUnits)

			require.Len(t, res.Outcomes, 3, "every unit is reported")
			assert.Equal(t, models.StateDone, outcomeFor(t, res, 1).State)
			for _, u := range []int{2, 3} {
				o := outcomeFor(t, res, u)
				assert.Equal(t, models.StatePending, o.State)
				require.NotNil(t, o.Error)
				assert.Equal(t, models.ErrTypeCancelled, o.Error.Type)
				assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, strconv.Itoa(u), executor.OutcomeFile))
			}
		})
	}
}

// panickingExecutor panics for one unit and defers to inner for the rest.
type panickingExecutor struct {
	inner executor.UnitExecutor
	unit  int
}

func (p *panickingExecutor) Execute(ctx context.Context, unit models.Unit, runner processor.Runner) (*models.UnitOutcome, error) {
	if unit.Index == p.unit {
		panic("index out of range")
	}
	return p.inner.Execute(ctx, unit, runner)
}

func TestUnitPanicIsIsolated(t *testing.T) {
	for _, strategy := range []models.Strategy{models.StrategyPool, models.StrategyWave} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := testConfig(t, makeEpochs(t, 3))
			cfg.Strategy = strategy

			factory := func(cfg models.BatchConfig, rec *telemetry.Recorder) executor.UnitExecutor {
				return &panickingExecutor{inner: executor.NewUnitExecutor(cfg, rec), unit: 2}
			}
			o, err := executor.NewBatchOrchestrator(cfg, factory)
			require.NoError(t, err)
			o.WithRunner(processortest.New())

			res, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, res.DoneUnits)
			assert.Equal(t, 1, res.FailedUnits)

			failed := outcomeFor(t, res, 2)
			assert.Equal(t, models.StateFailed, failed.State)
			require.NotNil(t, failed.Error)
			assert.Equal(t, models.ErrTypeInternal, failed.Error.Type)
			assert.Contains(t, failed.Error.Message, "index out of range")
		})
	}
}

func TestCorruptArtifactFailsOnlyItsUnit(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 2))
	runner := processortest.New()
	_, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)

	// A firings header whose dims overflow must read as absent, not crash.
	unitDir := filepath.Join(cfg.OutputRoot, "1")
	var hdr bytes.Buffer
	require.NoError(t, binary.Write(&hdr, binary.LittleEndian, [3]int32{int32(mda.Float64), 8, -2}))
	require.NoError(t, binary.Write(&hdr, binary.LittleEndian, []int64{1 << 62, 3}))
	require.NoError(t, os.WriteFile(filepath.Join(unitDir, stage.FiringsRawMDA), hdr.Bytes(), 0644))

	runner.Reset()
	res, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, outcomeFor(t, res, 2).State)
	assert.Equal(t, models.StateDone, outcomeFor(t, res, 2).InitialState)

	o := outcomeFor(t, res, 1)
	assert.NotEqual(t, models.StateDone, o.InitialState)
	assert.Equal(t, models.StateDone, o.State, "the corrupt artifact is regenerated")
	assert.Contains(t, o.StagesRun, string(stage.Sort))
}

func TestUnlinkedUnitFails(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 1))
	cfg.Units = "1,9"

	res, err := newOrchestrator(t, cfg, processortest.New()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalUnits)
	assert.Equal(t, 1, res.DoneUnits)

	o := outcomeFor(t, res, 9)
	assert.Equal(t, models.StateFailed, o.State)
	assert.Equal(t, models.ErrTypeSourceNotFound, o.Error.Type)
}

func TestRunSetupFailures(t *testing.T) {
	t.Run("missing epoch", func(t *testing.T) {
		cfg := testConfig(t, []string{filepath.Join(t.TempDir(), "nope.mda")})
		_, err := newOrchestrator(t, cfg, processortest.New()).Run(context.Background())
		assert.ErrorIs(t, err, models.ErrSourceNotFound)
	})

	t.Run("bad unit range", func(t *testing.T) {
		cfg := testConfig(t, makeEpochs(t, 1))
		cfg.Units = "4-2"
		_, err := newOrchestrator(t, cfg, processortest.New()).Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("unsupported processor", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.Processor.Type = "modal"
		_, err := executor.NewBatchOrchestrator(cfg, executor.DefaultUnitExecutorFunc)
		assert.ErrorContains(t, err, "unsupported processor type")
	})
}

func TestMetricsTextfile(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 1))
	cfg.MetricsFile = filepath.Join(t.TempDir(), "sortbatch.prom")

	_, err := newOrchestrator(t, cfg, processortest.New()).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sortbatch_unit_total{error_type="",state="DONE"} 1`)
}

func TestStatus(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 2))
	unit2 := models.NewUnit(cfg.OutputRoot, 2)
	inUnit := processortest.InUnit(unit2.OutputDir)

	runner := processortest.New()
	runner.Fail = func(inv processor.Invocation) bool {
		return inv.Processor == "pyms.add_curation_tags" && inUnit(inv)
	}
	_, err := newOrchestrator(t, cfg, runner).Run(context.Background())
	require.NoError(t, err)

	statuses, err := executor.Status(cfg, stage.FSOracle{})
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, models.StateDone, statuses[0].State)
	assert.Empty(t, statuses[0].Next)

	assert.Equal(t, models.StateSorted, statuses[1].State)
	assert.Equal(t, string(stage.Curate), statuses[1].Next)
	require.NotNil(t, statuses[1].Last)
	assert.Equal(t, models.StateFailed, statuses[1].Last.State)
}

func TestExecuteWithoutEpochDescriptors(t *testing.T) {
	cfg := testConfig(t, makeEpochs(t, 1))
	unit := models.NewUnit(cfg.OutputRoot, 5)
	require.NoError(t, os.MkdirAll(unit.OutputDir, 0755))

	out, err := executor.NewUnitExecutor(cfg, nil).Execute(context.Background(), unit, processortest.New())
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, out.State)
	assert.Equal(t, models.ErrTypeSourceNotFound, out.Error.Type)
	assert.Equal(t, string(stage.ConcatEpochs), out.Error.Stage)
}
