package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/spachava753/sortbatch/internal/executor"
	"github.com/spachava753/sortbatch/internal/models"
)

// styles renders for w; colour is dropped when w is not a terminal.
type styles struct {
	header lipgloss.Style
	cell   lipgloss.Style
	done   lipgloss.Style
	failed lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true),
		cell:   r.NewStyle(),
		done:   r.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
		failed: r.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#7F8C8D")),
	}
}

func (s styles) state(st models.UnitState) lipgloss.Style {
	switch st {
	case models.StateDone:
		return s.done
	case models.StateFailed:
		return s.failed
	default:
		return s.muted
	}
}

// writeTable pads columns to their widest cell. The last column is not padded.
func writeTable(w io.Writer, s styles, header []string, rows [][]string, styleRow func(i, col int) lipgloss.Style) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], len(c))
		}
	}

	line := func(cells []string, style func(col int) lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i < len(cells)-1 {
				c += strings.Repeat(" ", widths[i]-len(c))
			}
			parts[i] = style(i).Render(c)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(header, func(int) lipgloss.Style { return s.header })
	for i, row := range rows {
		line(row, func(col int) lipgloss.Style { return styleRow(i, col) })
	}
}

func renderBatch(w io.Writer, res *models.BatchResult) {
	s := newStyles(w)

	rows := make([][]string, len(res.Outcomes))
	for i, o := range res.Outcomes {
		errMsg := ""
		if o.Error != nil {
			errMsg = fmt.Sprintf("%s at %s: %s", o.Error.Type, stageOrDash(o.Error.Stage), firstLine(o.Error.Message))
		}
		rows[i] = []string{
			strconv.Itoa(o.Unit),
			string(o.State),
			string(o.InitialState),
			strconv.Itoa(len(o.StagesRun)),
			strconv.Itoa(len(o.StagesSkipped)),
			fmt.Sprintf("%.1fs", o.DurationSec),
			errMsg,
		}
	}

	fmt.Fprintln(w)
	writeTable(w, s, []string{"UNIT", "STATE", "FROM", "RAN", "SKIPPED", "DURATION", "ERROR"}, rows,
		func(i, col int) lipgloss.Style {
			if col == 1 {
				return s.state(res.Outcomes[i].State)
			}
			return s.cell
		})

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Batch: %s (%s)\n", res.Name, res.RunID)
	fmt.Fprintf(w, "Units: %d  done: %s  failed: %s  skipped: %d\n",
		res.TotalUnits,
		s.done.Render(strconv.Itoa(res.DoneUnits)),
		s.failed.Render(strconv.Itoa(res.FailedUnits)),
		res.SkippedUnits)
	fmt.Fprintf(w, "Duration: %.2fs\n", res.TotalDurationSec)
	if res.Cancelled {
		fmt.Fprintln(w, s.muted.Render("Cancelled before every unit was scheduled; re-run to continue."))
	}
}

func renderStatus(w io.Writer, statuses []executor.UnitStatus) {
	s := newStyles(w)
	if len(statuses) == 0 {
		fmt.Fprintln(w, s.muted.Render("no units found"))
		return
	}

	rows := make([][]string, len(statuses))
	for i, st := range statuses {
		last := ""
		if st.Last != nil {
			last = string(st.Last.State)
			if st.Last.Error != nil {
				last += " (" + string(st.Last.Error.Type) + " at " + stageOrDash(st.Last.Error.Stage) + ")"
			}
		}
		rows[i] = []string{strconv.Itoa(st.Unit), string(st.State), stageOrDash(st.Next), last}
	}

	writeTable(w, s, []string{"UNIT", "STATE", "NEXT", "LAST RUN"}, rows,
		func(i, col int) lipgloss.Style {
			if col == 1 {
				return s.state(statuses[i].State)
			}
			return s.cell
		})
}

func stageOrDash(name string) string {
	if name == "" {
		return "-"
	}
	return name
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
