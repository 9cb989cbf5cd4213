package stage

import (
	"path/filepath"
	"testing"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/stretchr/testify/assert"
)

// fakeOracle reports artifacts present by base name.
type fakeOracle map[string]bool

func (f fakeOracle) Present(path string) bool { return f[filepath.Base(path)] }

func present(names ...string) fakeOracle {
	o := fakeOracle{}
	for _, n := range names {
		o[n] = true
	}
	return o
}

func testConfig(mask bool) models.BatchConfig {
	return models.BatchConfig{MaskArtifacts: mask, SortMode: models.SortSegmented}
}

func stageNames(steps []Step) []Name {
	var out []Name
	for _, s := range steps {
		out = append(out, s.Stage.Name)
	}
	return out
}

func TestCatalog(t *testing.T) {
	without := Catalog(testConfig(false))
	with := Catalog(testConfig(true))

	assert.Len(t, without, 8)
	assert.Len(t, with, 9)
	assert.Equal(t, MaskArtifacts, with[2].Name)

	for _, s := range without {
		if s.Name == Whiten {
			assert.Equal(t, []string{FiltPRV}, s.Requires)
			assert.Equal(t, []string{FiltPRV}, s.Supersedes)
		}
	}
	for _, s := range with {
		if s.Name == Whiten {
			assert.Equal(t, []string{MaskedPRV}, s.Requires)
			assert.Equal(t, []string{FiltPRV, MaskedPRV}, s.Supersedes)
		}
	}

	full := Catalog(models.BatchConfig{SortMode: models.SortFull})
	for _, s := range full {
		if s.Name == Sort {
			assert.NotContains(t, s.Requires, EpochOffsetsJSON)
		}
	}
}

func TestScan(t *testing.T) {
	catalog := Catalog(testConfig(true))
	terminal := []string{
		FiringsRawMDA, MetricsRawJSON, MetricsTaggedJSON, MetricsCleanJSON,
		TemplatesMDA, TemplatesStdevMDA, AmplitudesMDA, MarksMDA,
		FiringsCuratedMDA, UnitJSON,
	}

	tests := []struct {
		name   string
		oracle fakeOracle
		want   models.UnitState
	}{
		{"empty", present(), models.StatePending},
		{"concatenated", present(RawPRV, ParamsJSON, EpochOffsetsJSON), models.StateLinked},
		{"filtered but not whitened", present(RawPRV, ParamsJSON, EpochOffsetsJSON, FiltPRV, MaskedPRV), models.StateLinked},
		{"whitened with intermediates reclaimed", present(RawPRV, ParamsJSON, EpochOffsetsJSON, PrePRV), models.StateFiltered},
		{"sorted", present(PrePRV, FiringsRawMDA, MetricsRawJSON), models.StateSorted},
		{"tagged only", present(PrePRV, FiringsRawMDA, MetricsRawJSON, MetricsTaggedJSON), models.StateSorted},
		{"done", present(terminal...), models.StateDone},
		// A DONE record without the artifacts it summarises is not DONE.
		{"done record without terminal artifacts", present(FiringsCuratedMDA, UnitJSON), models.StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scan(catalog, "/out/1", tt.oracle))
		})
	}
}

func TestNewPlan(t *testing.T) {
	catalog := Catalog(testConfig(true))

	t.Run("fresh unit runs everything", func(t *testing.T) {
		p := NewPlan(catalog, "/out/1", present())
		assert.Equal(t, models.StatePending, p.Initial)
		assert.Len(t, p.Steps, len(catalog))
		for _, s := range p.Steps {
			assert.False(t, s.Skip, "%s should run", s.Stage.Name)
		}
	})

	t.Run("resume after whiten goes straight to sort", func(t *testing.T) {
		p := NewPlan(catalog, "/out/1", present(RawPRV, ParamsJSON, EpochOffsetsJSON, FiltPRV, MaskedPRV, PrePRV))
		assert.Equal(t, models.StateFiltered, p.Initial)
		assert.Equal(t, []Name{Sort, Curate, CleanMetrics, ExtractTemplates, Finalize}, stageNames(p.Steps))
	})

	t.Run("partial group skips completed prefix", func(t *testing.T) {
		p := NewPlan(catalog, "/out/1", present(RawPRV, ParamsJSON, EpochOffsetsJSON, FiltPRV, MaskedPRV))
		assert.Equal(t, []Name{Filter, MaskArtifacts, Whiten}, stageNames(p.Steps[:3]))
		assert.True(t, p.Steps[0].Skip)
		assert.True(t, p.Steps[1].Skip)
		assert.False(t, p.Steps[2].Skip)
	})

	t.Run("outputs after a rerun stage are not trusted", func(t *testing.T) {
		// filt is missing but masked is present: mask must rerun on fresh input.
		p := NewPlan(catalog, "/out/1", present(RawPRV, ParamsJSON, EpochOffsetsJSON, MaskedPRV))
		assert.False(t, p.Steps[0].Skip)
		assert.False(t, p.Steps[1].Skip)
	})

	t.Run("done short-circuits", func(t *testing.T) {
		all := present()
		for _, s := range catalog {
			for _, n := range s.Produces {
				all[n] = true
			}
		}
		p := NewPlan(catalog, "/out/1", all)
		assert.Equal(t, models.StateDone, p.Initial)
		assert.Empty(t, p.Steps)
	})
}

func TestSegments(t *testing.T) {
	o := EpochOffsets{Epochs: []string{"a", "b", "c"}, SampleOffsets: []int64{0, 100, 250}, TotalSamples: 300}
	assert.Equal(t, []Segment{{0, 99}, {100, 249}, {250, 299}}, o.Segments())
}
