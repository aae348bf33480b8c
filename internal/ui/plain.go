package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

// PlainRenderer writes one line per report (for CI/pipes).
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Report implements Renderer.
func (r *PlainRenderer) Report(rep vacuum.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "[%s] %s: %s in %s\n",
		checkIcon(rep.Check), rep.Container, counters(rep), rep.Duration.Round(100*time.Millisecond))
	if rep.Err != nil {
		_, _ = fmt.Fprintf(r.out, "ERROR: %s: %v\n", rep.Container, rep.Err)
	}
}

// Summary implements Renderer.
func (r *PlainRenderer) Summary(reports []vacuum.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := Sum(reports)
	_, _ = fmt.Fprintf(r.out, "Complete: %d containers, %d checked, %d orphaned, %d missing, %d out of date",
		t.Containers, t.Checked, t.Orphaned, t.Missing, t.OutOfDate)
	if t.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d failed)", t.Failed)
	}
	_, _ = fmt.Fprintln(r.out)
}

func checkIcon(c vacuum.Check) string {
	switch c {
	case vacuum.CheckMissing:
		return "MISSING"
	case vacuum.CheckOrphans:
		return "ORPHANS"
	default:
		return "???"
	}
}

func counters(rep vacuum.Report) string {
	if rep.Check == vacuum.CheckOrphans {
		return fmt.Sprintf("%d checked, %d orphaned", rep.Checked, rep.Orphaned)
	}
	return fmt.Sprintf("%d checked, %d missing, %d out of date, last tid %d",
		rep.Checked, rep.Missing, rep.OutOfDate, rep.LastTID)
}
