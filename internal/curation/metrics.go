// Package curation reads and writes cluster metrics documents and applies
// numeric quality cutoffs to them.
package curation

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/util"
)

// Metric names read by curation.
const (
	PeakAmp      = "peak_amp"
	PeakSNR      = "peak_snr"
	Isolation    = "isolation"
	NoiseOverlap = "noise_overlap"
)

// Tags owned by curation. Other tags on a cluster are preserved.
const (
	TagAccepted = "accepted"
	TagRejected = "rejected"
)

// Document is a metrics document: {"clusters": [...]}.
type Document struct {
	Clusters []Cluster `json:"clusters"`
}

// Cluster is one sorter-assigned label with its metrics and tags.
type Cluster struct {
	Label   int      `json:"label"`
	Metrics Metrics  `json:"metrics"`
	Tags    []string `json:"tags"`
}

// Metrics holds every metric the toolkit emitted, keyed by name. Values are
// numbers or null.
type Metrics map[string]any

// Value returns the named metric and whether it is a non-null number.
func (m Metrics) Value(name string) (float64, bool) {
	switch v := m[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// HasTag reports whether the cluster carries tag.
func (c Cluster) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Load reads a metrics document. Unreadable JSON wraps models.ErrArtifactCorrupt.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrArtifactCorrupt, path, err)
	}
	if doc.Clusters == nil {
		return nil, fmt.Errorf("%w: %s has no clusters array", models.ErrArtifactCorrupt, path)
	}
	return &doc, nil
}

// Save atomically writes doc to path, sorted by label with tags never null.
func Save(path string, doc *Document) error {
	out := Document{Clusters: make([]Cluster, len(doc.Clusters))}
	for i, c := range doc.Clusters {
		if c.Tags == nil {
			c.Tags = []string{}
		}
		if c.Metrics == nil {
			c.Metrics = Metrics{}
		}
		out.Clusters[i] = c
	}
	slices.SortStableFunc(out.Clusters, func(a, b Cluster) int { return a.Label - b.Label })
	return util.WriteJSONAtomic(path, out)
}

// AcceptedLabels returns the set of labels tagged accepted.
func AcceptedLabels(doc *Document) map[int]bool {
	out := make(map[int]bool)
	for _, c := range doc.Clusters {
		if c.HasTag(TagAccepted) {
			out[c.Label] = true
		}
	}
	return out
}
