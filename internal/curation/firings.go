package curation

import (
	"fmt"

	"github.com/spachava753/sortbatch/internal/mda"
)

// LabelRow is the firings row holding each event's cluster label.
const LabelRow = 2

// FilterFirings keeps the events (columns) of a firings array whose label is
// accepted. Firings rows are channel, time, label, and optional extras.
func FilterFirings(firings *mda.Array, accepted map[int]bool) (*mda.Array, error) {
	if len(firings.Dims) != 2 || firings.N1() <= LabelRow {
		return nil, fmt.Errorf("firings must be 2D with at least %d rows, got dims %v", LabelRow+1, firings.Dims)
	}

	rows := firings.N1()
	var keep []int64
	for j := range firings.N2() {
		if accepted[int(firings.At(LabelRow, j))] {
			keep = append(keep, j)
		}
	}

	out := mda.NewArray(rows, int64(len(keep)))
	for k, j := range keep {
		for i := range rows {
			out.Set(i, int64(k), firings.At(i, j))
		}
	}
	return out, nil
}
