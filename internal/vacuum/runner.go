package vacuum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/esvacuum/internal/content"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/index"
)

// RunnerConfig configures a vacuum run.
type RunnerConfig struct {
	// Checks to run concurrently. Empty means both.
	Checks []Check
	// Continuous repeats every check until the context is canceled.
	Continuous bool
	// Sleep is the pause between continuous passes (default: 10m).
	Sleep time.Duration
	// Containers restricts the run to these container ids. Empty means all.
	Containers []string
	// Resume starts the first missing pass at the last_tid saved in State.
	// Without it the first pass scans the whole table; later continuous
	// passes always resume where the previous pass stopped.
	Resume bool
	// OnReport is called after each container check, from the check's goroutine.
	OnReport func(Report)

	Vacuum Options
}

// RunnerDependencies are the collaborators of a Runner.
type RunnerDependencies struct {
	Deps
	// State is optional. It records the resume point of each container and
	// guards against concurrent runners.
	State *State
}

// Runner drives the missing and orphan checks over every container.
type Runner struct {
	deps RunnerDependencies
	cfg  RunnerConfig

	mu       sync.Mutex
	reports  []Report
	lastTIDs map[string]int64
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDependencies, cfg RunnerConfig) (*Runner, error) {
	if deps.Store == nil || deps.Manager == nil {
		return nil, vacerrors.ValidationError("runner needs a store and an index manager", nil)
	}
	if len(cfg.Checks) == 0 {
		cfg.Checks = []Check{CheckMissing, CheckOrphans}
	}
	for _, c := range cfg.Checks {
		if c != CheckMissing && c != CheckOrphans {
			return nil, vacerrors.ValidationError(fmt.Sprintf("unknown check %q", c), nil)
		}
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = 10 * time.Minute
	}
	return &Runner{deps: deps, cfg: cfg, lastTIDs: make(map[string]int64)}, nil
}

// Run executes the configured checks concurrently and returns every report.
// Per-container failures are logged and recorded in the reports; Run only
// fails when the runner lock cannot be taken or containers cannot be listed.
// Canceling ctx ends a continuous run cleanly.
func (r *Runner) Run(ctx context.Context) ([]Report, error) {
	if r.deps.State != nil {
		release, err := r.deps.State.AcquireRunner()
		if err != nil {
			return nil, err
		}
		defer release()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, check := range r.cfg.Checks {
		g.Go(func() error {
			return r.loop(gctx, check)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...), err
}

func (r *Runner) loop(ctx context.Context, check Check) error {
	first := true
	for r.cfg.Continuous || first {
		if !first {
			timer := time.NewTimer(r.cfg.Sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		first = false

		containers, err := r.containers(ctx)
		if err != nil {
			return err
		}
		for _, container := range containers {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.runOne(ctx, check, container)
		}
	}
	return nil
}

// containers loads every container below the root, applying the filter.
func (r *Runner) containers(ctx context.Context) ([]*content.Resource, error) {
	ids, err := r.deps.Store.ChildIDs(ctx, content.RootID)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	want := make(map[string]bool, len(r.cfg.Containers))
	for _, id := range r.cfg.Containers {
		want[id] = true
	}

	var out []*content.Resource
	for _, oid := range ids {
		rec, err := r.deps.Store.Load(ctx, oid)
		if err != nil {
			slog.Warn("container_load_failed", slog.String("oid", oid), slog.String("error", err.Error()))
			continue
		}
		res, err := content.Decode(rec)
		if err != nil {
			slog.Warn("container_decode_failed", slog.String("oid", oid), slog.String("error", err.Error()))
			continue
		}
		if len(want) > 0 && !want[res.ID] {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// runOne checks a single container. Failures are logged and reported, never
// returned, so one broken container does not stop the others.
func (r *Runner) runOne(ctx context.Context, check Check, container *content.Resource) {
	start := time.Now()
	var lastTID int64
	if check == CheckMissing {
		lastTID = r.startTID(container.OID)
	}

	v, err := New(ctx, r.deps.Deps, r.cfg.Vacuum, container, lastTID)
	if err == nil {
		err = v.Setup(ctx)
	}
	if err == nil {
		switch check {
		case CheckMissing:
			err = v.CheckMissing(ctx)
		case CheckOrphans:
			err = v.CheckOrphans(ctx)
		}
	}

	var report Report
	if v != nil {
		report = v.Report(check, time.Since(start))
		if err == nil && check == CheckMissing && v.LastTID > 0 {
			r.saveTID(container, v.LastTID)
		}
	} else {
		report = Report{Container: container.ID, Check: check, Duration: time.Since(start)}
	}
	report.Err = err

	if err != nil {
		slog.Error("vacuum_failed", append(report.LogAttrs(), vacerrors.LogAttrs(err)...)...)
	} else {
		slog.Info("vacuum_finished", report.LogAttrs()...)
	}

	if ctx.Err() == nil {
		removed, cerr := r.deps.Manager.CleanOrphanIndexes(ctx, container)
		if cerr != nil {
			slog.Error("clean_orphan_indexes_failed",
				slog.String("container", container.ID),
				slog.String("error", cerr.Error()))
		} else if len(removed) > 0 {
			slog.Info("orphan_indexes_removed",
				slog.String("container", container.ID),
				slog.Int("count", len(removed)))
		}
	}

	r.mu.Lock()
	r.reports = append(r.reports, report)
	r.mu.Unlock()
	if r.cfg.OnReport != nil {
		r.cfg.OnReport(report)
	}
}

// startTID is where the missing check of container starts: the point
// reached earlier in this run, else the saved state when resuming, else 0.
func (r *Runner) startTID(oid string) int64 {
	r.mu.Lock()
	tid, ok := r.lastTIDs[oid]
	r.mu.Unlock()
	if ok {
		return tid
	}
	if r.cfg.Resume && r.deps.State != nil {
		return r.deps.State.LastTID(oid)
	}
	return 0
}

func (r *Runner) saveTID(container *content.Resource, tid int64) {
	r.mu.Lock()
	r.lastTIDs[container.OID] = tid
	r.mu.Unlock()

	if r.deps.State == nil || r.deps.State.LastTID(container.OID) == tid {
		return
	}
	if err := r.deps.State.SetLastTID(container.OID, tid); err != nil {
		slog.Warn("state_save_failed", slog.String("container", container.ID), slog.String("error", err.Error()))
	}
}

// Reindex rebuilds the indexes of every selected container from scratch.
func Reindex(ctx context.Context, deps Deps, opts Options, containers []*content.Resource) (int64, error) {
	opts = opts.withDefaults()
	loader, err := index.NewLoader(deps.Store, opts.CacheSize)
	if err != nil {
		return 0, err
	}
	ix := index.NewIndexer(ctx, deps.Store, loader, deps.Manager, index.IndexerConfig{
		BulkSize: opts.BulkSize,
		PageSize: opts.PageSize,
		Workers:  opts.Workers,
	})
	for _, c := range containers {
		if err := ix.Reindex(ctx, c); err != nil {
			return ix.Indexed(), fmt.Errorf("reindex %s: %w", c.ID, err)
		}
		slog.Info("reindexed", slog.String("container", c.ID), slog.Int64("indexed", ix.Indexed()))
	}
	return ix.Indexed(), nil
}

// Containers loads the containers named by ids, or all when ids is empty.
func Containers(ctx context.Context, deps Deps, ids []string) ([]*content.Resource, error) {
	r := &Runner{deps: RunnerDependencies{Deps: deps}, cfg: RunnerConfig{Containers: ids}}
	return r.containers(ctx)
}
