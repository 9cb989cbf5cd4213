package processor

import (
	"slices"
	"testing"
)

func TestInvocationArgs(t *testing.T) {
	inv := Invocation{
		Processor: "pyms.anneal_segments",
		Inputs: map[string][]string{
			"timeseries_list": {"/u/pre-1.mda", "/u/pre-2.mda"},
			"firings_list":    {"/u/firings-1.mda", "/u/firings-2.mda"},
		},
		Outputs: map[string]string{
			"firings_out": "/u/firings_raw.mda",
			"dmatrix_out": "/u/dmatrix.mda",
		},
		Parameters: map[string]any{
			"time_offsets": []int64{0, 1000},
			"verbose":      true,
		},
	}

	want := []string{
		"pyms.anneal_segments",
		"--inputs",
		"firings_list:/u/firings-1.mda", "firings_list:/u/firings-2.mda",
		"timeseries_list:/u/pre-1.mda", "timeseries_list:/u/pre-2.mda",
		"--outputs",
		"dmatrix_out:/u/dmatrix.mda", "firings_out:/u/firings_raw.mda",
		"--parameters",
		"time_offsets:0,1000", "verbose:true",
	}
	if got := inv.Args(); !slices.Equal(got, want) {
		t.Errorf("Args() =\n%v\nwant\n%v", got, want)
	}
	if got := inv.OutputPaths(); !slices.Equal(got, []string{"/u/dmatrix.mda", "/u/firings_raw.mda"}) {
		t.Errorf("OutputPaths() = %v", got)
	}
}

func TestFormatParam(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{300.0, "300"},
		{0.95, "0.95"},
		{-1, "-1"},
		{"segmented", "segmented"},
		{false, "false"},
		{[]float64{1.5, 2}, "1.5,2"},
	}
	for _, tt := range tests {
		if got := FormatParam(tt.in); got != tt.want {
			t.Errorf("FormatParam(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	if tb.String() != "defg" {
		t.Errorf("expected last 4 bytes, got %q", tb.String())
	}
}
