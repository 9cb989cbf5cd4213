package util

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ParseIndexRange converts a unit range expression (e.g., "1-4,7") to a sorted,
// de-duplicated list of positive indices. An empty expression yields nil.
func ParseIndexRange(expr string) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var out []int
	for part := range strings.SplitSeq(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parseIndex(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid unit range %q: %w", part, err)
		}
		end := start
		if isRange {
			end, err = parseIndex(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid unit range %q: %w", part, err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid unit range %q: end before start", part)
		}
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("index %d must be positive", n)
	}
	return n, nil
}

// ParseBand converts a frequency band string (e.g., "300-6000") to its bounds in Hz.
func ParseBand(band string) (float64, float64, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(band), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid band value: %s", band)
	}
	minHz, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid band value: %s", band)
	}
	maxHz, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid band value: %s", band)
	}
	if maxHz <= minHz {
		return 0, 0, fmt.Errorf("invalid band value: %s: upper bound must exceed lower bound", band)
	}
	return minHz, maxHz, nil
}
