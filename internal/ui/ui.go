// Package ui renders vacuum reports for the terminal.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

// Renderer displays reports as checks finish.
type Renderer interface {
	// Report shows the result of one container check.
	Report(r vacuum.Report)
	// Summary shows the totals of a whole run.
	Summary(reports []vacuum.Report)
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a styled renderer for interactive terminals and a
// plain one for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	return NewStyledRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// Totals sums the counters of reports.
type Totals struct {
	Containers int
	Checked    int
	Orphaned   int
	Missing    int
	OutOfDate  int
	Failed     int
}

// Sum computes Totals over reports.
func Sum(reports []vacuum.Report) Totals {
	var t Totals
	seen := make(map[string]bool)
	for _, r := range reports {
		if !seen[r.Container] {
			seen[r.Container] = true
			t.Containers++
		}
		t.Checked += r.Checked
		t.Orphaned += r.Orphaned
		t.Missing += r.Missing
		t.OutOfDate += r.OutOfDate
		if r.Err != nil {
			t.Failed++
		}
	}
	return t
}
