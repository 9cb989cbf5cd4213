package models

import (
	"path/filepath"
	"strconv"
	"time"
)

// UnitState is the position of a unit in its processing sequence.
type UnitState string

const (
	StatePending   UnitState = "PENDING"
	StateLinked    UnitState = "LINKED"
	StateFiltered  UnitState = "FILTERED"
	StateSorted    UnitState = "SORTED"
	StateCurated   UnitState = "CURATED"
	StateTemplated UnitState = "TEMPLATED"
	StateDone      UnitState = "DONE"
	StateFailed    UnitState = "FAILED"
)

// ProgressStates lists the non-failed states in order.
var ProgressStates = []UnitState{
	StatePending,
	StateLinked,
	StateFiltered,
	StateSorted,
	StateCurated,
	StateTemplated,
	StateDone,
}

// Rank orders progress states. FAILED and unknown states rank -1.
func (s UnitState) Rank() int {
	for i, p := range ProgressStates {
		if p == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transition is possible in this run.
func (s UnitState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Unit is one independently processed probe.
type Unit struct {
	Index     int
	OutputDir string // <output_root>/<index>
}

// NewUnit returns the unit with the given index rooted under outputRoot.
func NewUnit(outputRoot string, index int) Unit {
	return Unit{Index: index, OutputDir: filepath.Join(outputRoot, strconv.Itoa(index))}
}

// Epoch is one raw recording session directory and the per-unit raw files inside it.
type Epoch struct {
	Order     int // position in the caller-supplied list
	Name      string
	Path      string
	UnitFiles map[int]string
}

// UnitOutcome is the terminal report for one unit.
type UnitOutcome struct {
	Unit          int        `json:"unit"`
	State         UnitState  `json:"state"`
	InitialState  UnitState  `json:"initial_state"`
	Error         *UnitError `json:"error"`
	StagesRun     []string   `json:"stages_run"`
	StagesSkipped []string   `json:"stages_skipped"`
	DurationSec   float64    `json:"duration_sec"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       time.Time  `json:"ended_at"`
}

type UnitError struct {
	Type    ErrorType `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}
