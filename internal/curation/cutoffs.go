package curation

import (
	"fmt"
	"slices"

	"github.com/spachava753/sortbatch/internal/models"
)

// Decision is the outcome of evaluating one cluster against cutoffs.
type Decision struct {
	Label    int
	Accepted bool
	Reasons  []string
}

// Evaluate checks a cluster against cutoffs. A missing or null metric that a
// cutoff reads rejects the cluster.
func Evaluate(c Cluster, cut models.Cutoffs) Decision {
	d := Decision{Label: c.Label}

	check := func(name string, ok func(v float64) bool, want string) {
		v, present := c.Metrics.Value(name)
		switch {
		case !present:
			d.Reasons = append(d.Reasons, name+" missing")
		case !ok(v):
			d.Reasons = append(d.Reasons, fmt.Sprintf("%s %g %s", name, v, want))
		}
	}

	check(PeakAmp, func(v float64) bool { return v >= cut.PeakAmpMin }, fmt.Sprintf("below %g", cut.PeakAmpMin))
	check(PeakAmp, func(v float64) bool { return v <= cut.PeakAmpMax }, fmt.Sprintf("above %g", cut.PeakAmpMax))
	check(PeakSNR, func(v float64) bool { return v >= cut.PeakSNRMin }, fmt.Sprintf("below %g", cut.PeakSNRMin))
	check(Isolation, func(v float64) bool { return v >= cut.IsolationMin }, fmt.Sprintf("below %g", cut.IsolationMin))
	check(NoiseOverlap, func(v float64) bool { return v <= cut.NoiseOverlapMax }, fmt.Sprintf("above %g", cut.NoiseOverlapMax))

	d.Reasons = slices.Compact(d.Reasons)
	d.Accepted = len(d.Reasons) == 0
	return d
}

// Apply evaluates every cluster in doc and replaces its accepted/rejected tag
// with the new decision. Other tags are kept.
func Apply(doc *Document, cut models.Cutoffs) []Decision {
	decisions := make([]Decision, 0, len(doc.Clusters))
	for i := range doc.Clusters {
		c := &doc.Clusters[i]
		d := Evaluate(*c, cut)
		decisions = append(decisions, d)

		tag := TagRejected
		if d.Accepted {
			tag = TagAccepted
		}
		c.Tags = append(withoutDecisionTags(c.Tags), tag)
	}
	return decisions
}

// MergeHand replaces the tags of every cluster in doc whose label appears in
// hand, returning how many clusters changed.
func MergeHand(doc, hand *Document) int {
	byLabel := make(map[int][]string, len(hand.Clusters))
	for _, c := range hand.Clusters {
		byLabel[c.Label] = c.Tags
	}
	changed := 0
	for i := range doc.Clusters {
		tags, ok := byLabel[doc.Clusters[i].Label]
		if !ok {
			continue
		}
		if !slices.Equal(doc.Clusters[i].Tags, tags) {
			changed++
		}
		doc.Clusters[i].Tags = slices.Clone(tags)
	}
	return changed
}

func withoutDecisionTags(tags []string) []string {
	out := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		if t != TagAccepted && t != TagRejected {
			out = append(out, t)
		}
	}
	return out
}
