package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

// StyledRenderer renders reports with lipgloss for interactive terminals.
type StyledRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
}

// NewStyledRenderer creates a styled renderer.
func NewStyledRenderer(cfg Config) *StyledRenderer {
	return &StyledRenderer{
		out:    cfg.Output,
		styles: GetStyles(cfg.NoColor || DetectNoColor()),
	}
}

// Report implements Renderer.
func (r *StyledRenderer) Report(rep vacuum.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mark := r.styles.Success.Render("✓")
	if rep.Err != nil {
		mark = r.styles.Error.Render("✗")
	} else if rep.Orphaned+rep.Missing+rep.OutOfDate > 0 {
		mark = r.styles.Warning.Render("●")
	}
	line := fmt.Sprintf("%s %s %s %s %s",
		mark,
		r.styles.Header.Render(rep.Container),
		r.styles.Label.Render(string(rep.Check)),
		counters(rep),
		r.styles.Dim.Render(rep.Duration.Round(100*time.Millisecond).String()))
	_, _ = fmt.Fprintln(r.out, line)
	if rep.Err != nil {
		_, _ = fmt.Fprintln(r.out, "  "+r.styles.Error.Render(rep.Err.Error()))
	}
}

// Summary implements Renderer.
func (r *StyledRenderer) Summary(reports []vacuum.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := Sum(reports)
	rows := [][2]string{
		{"containers", fmt.Sprint(t.Containers)},
		{"checked", fmt.Sprint(t.Checked)},
		{"orphaned", fmt.Sprint(t.Orphaned)},
		{"missing", fmt.Sprint(t.Missing)},
		{"out of date", fmt.Sprint(t.OutOfDate)},
	}
	if t.Failed > 0 {
		rows = append(rows, [2]string{"failed", r.styles.Error.Render(fmt.Sprint(t.Failed))})
	}

	var b strings.Builder
	b.WriteString(r.styles.Header.Render("Vacuum complete"))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			r.styles.Label.Width(12).Render(row[0]), row[1]))
	}
	_, _ = fmt.Fprintln(r.out, r.styles.Panel.Render(b.String()))
}
