package curation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/sortbatch/internal/mda"
	"github.com/spachava753/sortbatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultCutoffs = models.Cutoffs{
	PeakAmpMin:      5,
	PeakAmpMax:      100,
	PeakSNRMin:      3,
	IsolationMin:    0.9,
	NoiseOverlapMax: 0.25,
}

const thresholdDoc = `{
  "clusters": [
    {"label": 1, "metrics": {"peak_amp": 10, "peak_snr": 5, "isolation": 0.95, "noise_overlap": 0.01, "firing_rate": 2.5}, "tags": []},
    {"label": 2, "metrics": {"peak_amp": 2, "peak_snr": 5, "isolation": 0.95, "noise_overlap": 0.01}, "tags": ["mua"]},
    {"label": 3, "metrics": {"peak_amp": 10, "peak_snr": 5, "isolation": 0.5, "noise_overlap": 0.01}, "tags": ["accepted"]}
  ]
}`

func loadString(t *testing.T, content string) *Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	doc, err := Load(path)
	require.NoError(t, err)
	return doc
}

func TestApplyThresholds(t *testing.T) {
	doc := loadString(t, thresholdDoc)

	decisions := Apply(doc, defaultCutoffs)
	require.Len(t, decisions, 3)

	assert.True(t, decisions[0].Accepted, "A should be accepted")
	assert.False(t, decisions[1].Accepted, "B should be rejected")
	assert.Equal(t, []string{"peak_amp 2 below 5"}, decisions[1].Reasons)
	assert.False(t, decisions[2].Accepted, "C should be rejected")
	assert.Equal(t, []string{"isolation 0.5 below 0.9"}, decisions[2].Reasons)

	assert.Equal(t, []string{TagAccepted}, doc.Clusters[0].Tags)
	assert.Equal(t, []string{"mua", TagRejected}, doc.Clusters[1].Tags)
	// A stale accepted tag is replaced, not accumulated.
	assert.Equal(t, []string{TagRejected}, doc.Clusters[2].Tags)

	assert.Equal(t, map[int]bool{1: true}, AcceptedLabels(doc))
}

func TestEvaluateBoundsAndNulls(t *testing.T) {
	tests := []struct {
		name    string
		metrics Metrics
		want    bool
	}{
		{"at lower bounds", Metrics{PeakAmp: 5.0, PeakSNR: 3.0, Isolation: 0.9, NoiseOverlap: 0.25}, true},
		{"amplitude too high", Metrics{PeakAmp: 150.0, PeakSNR: 5.0, Isolation: 0.99, NoiseOverlap: 0.0}, false},
		{"snr too low", Metrics{PeakAmp: 10.0, PeakSNR: 2.9, Isolation: 0.99, NoiseOverlap: 0.0}, false},
		{"noise overlap too high", Metrics{PeakAmp: 10.0, PeakSNR: 5.0, Isolation: 0.99, NoiseOverlap: 0.3}, false},
		{"null amplitude", Metrics{PeakAmp: nil, PeakSNR: 5.0, Isolation: 0.99, NoiseOverlap: 0.0}, false},
		{"missing isolation", Metrics{PeakAmp: 10.0, PeakSNR: 5.0, NoiseOverlap: 0.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(Cluster{Label: 1, Metrics: tt.metrics}, defaultCutoffs)
			assert.Equal(t, tt.want, d.Accepted, "reasons: %v", d.Reasons)
		})
	}

	d := Evaluate(Cluster{Metrics: Metrics{PeakSNR: 5.0, Isolation: 0.99, NoiseOverlap: 0.0}}, defaultCutoffs)
	assert.Equal(t, []string{"peak_amp missing"}, d.Reasons)
}

func TestSavePreservesMetricsAndNormalizesTags(t *testing.T) {
	doc := &Document{Clusters: []Cluster{
		{Label: 2, Metrics: Metrics{PeakAmp: nil}},
		{Label: 1, Metrics: Metrics{PeakAmp: 7.5, "bursting_parent": 0.0}, Tags: []string{"accepted"}},
	}}
	path := filepath.Join(t.TempDir(), "metrics_cleaned.json")
	require.NoError(t, Save(path, doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tags": []`)
	assert.Contains(t, string(data), `"peak_amp": null`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Clusters, 2)
	assert.Equal(t, 1, loaded.Clusters[0].Label)
	v, ok := loaded.Clusters[0].Metrics.Value("bursting_parent")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	_, ok = loaded.Clusters[1].Metrics.Value(PeakAmp)
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"truncated.json":  `{"clusters": [`,
		"noclusters.json": `{"other": 1}`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := Load(path)
		assert.True(t, errors.Is(err, models.ErrArtifactCorrupt), "%s: %v", name, err)
	}
}

func TestMergeHand(t *testing.T) {
	doc := loadString(t, thresholdDoc)
	Apply(doc, defaultCutoffs)

	hand := &Document{Clusters: []Cluster{
		{Label: 2, Tags: []string{TagAccepted}},
		{Label: 9, Tags: []string{TagRejected}},
	}}
	assert.Equal(t, 1, MergeHand(doc, hand))
	assert.Equal(t, map[int]bool{1: true, 2: true}, AcceptedLabels(doc))
}

func TestFilterFirings(t *testing.T) {
	firings := mda.NewArray(3, 5)
	labels := []float64{1, 2, 1, 3, 2}
	for j, l := range labels {
		firings.Set(0, int64(j), 1)
		firings.Set(1, int64(j), float64(100*(j+1)))
		firings.Set(2, int64(j), l)
	}

	out, err := FilterFirings(firings, map[int]bool{1: true, 3: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 3}, out.Dims)
	assert.Equal(t, []float64{100, 300, 400}, []float64{out.At(1, 0), out.At(1, 1), out.At(1, 2)})

	_, err = FilterFirings(mda.NewArray(2, 4), nil)
	assert.Error(t, err)
}
