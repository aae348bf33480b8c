package vacuum

import (
	"log/slog"
	"time"
)

// Report summarises one check of one container.
type Report struct {
	Container string
	Check     Check
	Checked   int
	Orphaned  int
	Missing   int
	OutOfDate int
	LastTID   int64
	Duration  time.Duration
	// Err is set when the check failed part-way.
	Err error
}

// LogAttrs returns the report as slog attributes.
func (r Report) LogAttrs() []any {
	attrs := []any{
		slog.String("container", r.Container),
		slog.String("check", string(r.Check)),
		slog.Int("checked", r.Checked),
		slog.Int("orphaned", r.Orphaned),
		slog.Int("missing", r.Missing),
		slog.Int("out_of_date", r.OutOfDate),
		slog.Int64("last_tid", r.LastTID),
		slog.Duration("duration", r.Duration),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}
	return attrs
}
