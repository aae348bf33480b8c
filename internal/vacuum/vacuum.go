// Package vacuum reconciles the search catalog with the content database.
//
// A Vacuum checks one container in two directions. CheckOrphans scrolls the
// catalog and deletes documents whose object is gone. CheckMissing pages
// through the database and indexes objects the catalog lacks, holds an older
// tid for, or files under the wrong parent. Both directions work one page at
// a time so neither side has to fit in memory.
package vacuum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/index"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

// Check names a reconciliation direction.
type Check string

const (
	CheckMissing Check = "missing"
	CheckOrphans Check = "orphans"
)

// Options tunes a Vacuum. Zero values take the defaults.
type Options struct {
	// PageSize is the rows or documents handled per page (default: 1000).
	PageSize int
	// BulkSize is the actions per bulk request (default: 10).
	BulkSize int
	// CacheSize is the number of decoded objects kept (default: 200).
	CacheSize int
	// Workers bounds concurrent bulk requests (default: 1).
	Workers int
	// ProgressEvery logs orphan progress every n documents (default: 10000).
	ProgressEvery int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.BulkSize <= 0 {
		o.BulkSize = 10
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 200
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 10000
	}
	return o
}

// Deps are the collaborators shared by every Vacuum.
type Deps struct {
	Store   store.ObjectStore
	Manager *index.Manager
}

// Vacuum reconciles one container.
type Vacuum struct {
	store     store.ObjectStore
	catalog   catalog.Catalog
	manager   *index.Manager
	loader    *index.Loader
	indexer   *index.Indexer
	opts      Options
	container *content.Resource

	indexName   string
	subIndexes  []index.ContentSubIndex
	useTIDQuery bool

	// LastTID and LastZOID track the last row seen by the tid-ordered scan.
	LastTID  int64
	LastZOID string

	checked   int
	orphaned  map[string]struct{}
	missing   map[string]struct{}
	outOfDate map[string]struct{}
}

// New creates a Vacuum for container. lastTID > 0 resumes the missing check
// at that transaction.
func New(ctx context.Context, deps Deps, opts Options, container *content.Resource, lastTID int64) (*Vacuum, error) {
	opts = opts.withDefaults()
	loader, err := index.NewLoader(deps.Store, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Vacuum{
		store:   deps.Store,
		catalog: deps.Manager.Catalog(),
		manager: deps.Manager,
		loader:  loader,
		indexer: index.NewIndexer(ctx, deps.Store, loader, deps.Manager, index.IndexerConfig{
			BulkSize: opts.BulkSize,
			PageSize: opts.PageSize,
			Workers:  opts.Workers,
		}),
		opts:        opts,
		container:   container,
		useTIDQuery: true,
		LastTID:     lastTID,
		orphaned:    make(map[string]struct{}),
		missing:     make(map[string]struct{}),
		outOfDate:   make(map[string]struct{}),
	}, nil
}

// Setup ensures the tid index and the main index, then resolves the
// sub-indexes to check.
func (v *Vacuum) Setup(ctx context.Context) error {
	if err := v.store.EnsureTIDIndex(ctx); err != nil {
		slog.Debug("tid_index_not_created", slog.String("error", err.Error()))
	}
	if err := v.manager.Install(ctx, v.container); err != nil {
		return fmt.Errorf("install index of %s: %w", v.container.ID, err)
	}

	v.indexName = v.manager.IndexName(v.container)
	subs, err := v.manager.ContentSubIndexes(ctx, v.container)
	if err != nil {
		return fmt.Errorf("list sub-indexes of %s: %w", v.container.ID, err)
	}
	v.subIndexes = subs
	return nil
}

// IndexName is the main index alias resolved by Setup.
func (v *Vacuum) IndexName() string {
	return v.indexName
}

// CheckOrphans deletes catalog documents whose object no longer exists,
// first in the main index and then in every sub-index.
func (v *Vacuum) CheckOrphans(ctx context.Context) error {
	slog.Info("checking_orphans", slog.String("container", v.container.ID))

	indexes := []string{v.indexName}
	for _, sub := range v.subIndexes {
		indexes = append(indexes, sub.Index)
	}

	for _, name := range indexes {
		err := v.catalog.ScrollIDs(ctx, name, v.opts.PageSize, func(ids []string) error {
			return v.checkOrphanPage(ctx, name, ids)
		})
		if errors.Is(err, catalog.ErrIndexNotFound) {
			slog.Warn("index_missing", slog.String("container", v.container.ID), slog.String("index", name))
			continue
		}
		if err != nil {
			return fmt.Errorf("scroll %s: %w", name, err)
		}
	}
	return nil
}

func (v *Vacuum) checkOrphanPage(ctx context.Context, name string, ids []string) error {
	before := v.checked
	v.checked += len(ids)

	existing, err := v.store.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}
	var orphaned []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}

	if v.checked/v.opts.ProgressEvery > before/v.opts.ProgressEvery {
		slog.Info("checked_orphans",
			slog.String("container", v.container.ID),
			slog.Int("checked", v.checked))
	}
	if len(orphaned) == 0 {
		return nil
	}

	for _, id := range orphaned {
		v.orphaned[id] = struct{}{}
	}
	slog.Warn("deleting_orphaned",
		slog.String("container", v.container.ID),
		slog.String("index", name),
		slog.Int("count", len(orphaned)))

	deleted, err := v.catalog.DeleteByIDs(ctx, name, orphaned)
	if err != nil {
		slog.Warn("orphan_delete_failed",
			slog.String("index", name),
			slog.String("error", err.Error()))
		return nil
	}
	if deleted != len(orphaned) {
		slog.Warn("orphan_delete_incomplete",
			slog.String("index", name),
			slog.Int("deleted", deleted),
			slog.Int("expected", len(orphaned)))
	}
	return nil
}

// IndexesForOIDs returns the main index plus every sub-index whose owner
// looks related to one of oids: the oid shares the owner's own prefix, or
// carries the prefix the owner hands to its children.
func (v *Vacuum) IndexesForOIDs(oids []string) []string {
	indexes := []string{v.indexName}
	for _, sub := range v.subIndexes {
		prefix := content.OIDPrefix(sub.OID)
		if prefix == "" {
			prefix = sub.OID
		}
		childPrefix := content.ChildPrefix(sub.OID)
		for _, oid := range oids {
			if strings.HasPrefix(oid, prefix) || strings.HasPrefix(oid, childPrefix) {
				indexes = append(indexes, sub.Index)
				break
			}
		}
	}
	return indexes
}

// otherSubIndexes returns the sub-indexes not in searched.
func (v *Vacuum) otherSubIndexes(searched []string) []string {
	done := make(map[string]bool, len(searched))
	for _, s := range searched {
		done[s] = true
	}
	var rest []string
	for _, sub := range v.subIndexes {
		if !done[sub.Index] {
			rest = append(rest, sub.Index)
		}
	}
	return rest
}

// CheckMissing indexes objects that are missing or stale in the catalog.
// With a single container it scans the whole table in tid order, resuming
// at LastTID. With several containers it walks the container's tree.
func (v *Vacuum) CheckMissing(ctx context.Context) error {
	slog.Info("checking_missing",
		slog.String("container", v.container.ID),
		slog.Int64("start_tid", v.LastTID))

	containers, err := v.store.ChildIDs(ctx, content.RootID)
	if err != nil {
		return err
	}
	v.useTIDQuery = len(containers) <= 1

	if v.useTIDQuery {
		_, err = v.store.IterByTID(ctx, store.Cursor{TID: v.LastTID}, v.opts.PageSize,
			func(page []content.Record) error {
				records := make([]content.Record, 0, len(page))
				for _, rec := range page {
					v.LastTID, v.LastZOID = rec.TID, rec.ZOID
					if content.IsSystemOID(rec.ZOID) || rec.ZOID == v.container.OID {
						continue
					}
					records = append(records, rec)
				}
				return v.checkMissingPage(ctx, records)
			})
	} else {
		err = v.store.IterChildren(ctx, []string{v.container.OID}, v.opts.PageSize,
			func(page []content.Record) error {
				return v.checkMissingPage(ctx, page)
			})
	}
	if err != nil {
		_ = v.indexer.FlushAndWait(ctx)
		return err
	}
	return v.indexer.FlushAndWait(ctx)
}

func (v *Vacuum) checkMissingPage(ctx context.Context, page []content.Record) error {
	if len(page) == 0 {
		return nil
	}
	oids := make([]string, len(page))
	for i, rec := range page {
		oids[i] = rec.ZOID
	}

	searched := v.IndexesForOIDs(oids)
	hits, err := v.catalog.FetchByUUIDs(ctx, searched, oids)
	if err != nil {
		return err
	}
	found := make(map[string]catalog.Hit, len(hits))
	for _, h := range hits {
		found[h.ID] = h
	}

	// Deep descendants of a sub-index owner share no prefix with it, so
	// look for anything unresolved in the remaining sub-indexes too.
	var unresolved []string
	for _, oid := range oids {
		if _, ok := found[oid]; !ok {
			unresolved = append(unresolved, oid)
		}
	}
	if rest := v.otherSubIndexes(searched); len(unresolved) > 0 && len(rest) > 0 {
		more, err := v.catalog.FetchByUUIDs(ctx, rest, unresolved)
		if err != nil {
			return err
		}
		for _, h := range more {
			found[h.ID] = h
		}
	}

	for _, rec := range page {
		if rec.ZOID == v.container.OID {
			continue
		}
		hit, ok := found[rec.ZOID]
		switch {
		case !ok:
			v.missing[rec.ZOID] = struct{}{}
			err = v.processMissing(ctx, rec.ZOID, "missing", false)
		case rec.TID > hit.TID && hit.TID != catalog.MissingTID:
			v.outOfDate[rec.ZOID] = struct{}{}
			err = v.processMissing(ctx, rec.ZOID, "out_of_date", false)
		case rec.ParentID != hit.ParentUUID:
			v.missing[rec.ZOID] = struct{}{}
			err = v.processMissing(ctx, rec.ZOID, "moved", true)
		}
		if err != nil {
			return err
		}
	}

	v.checked += len(page)
	slog.Info("checked_missing",
		slog.String("container", v.container.ID),
		slog.Int("checked", v.checked),
		slog.Int64("last_tid", v.LastTID),
		slog.Int("missing", len(v.missing)),
		slog.Int("out_of_date", len(v.outOfDate)))
	return nil
}

// processMissing loads oid with its parents and indexes it, or its whole
// subtree when folder is set. Objects that cannot be loaded are skipped.
func (v *Vacuum) processMissing(ctx context.Context, oid, kind string, folder bool) error {
	slog.Warn("index_"+kind, slog.String("oid", oid))

	res, err := v.loader.Load(ctx, oid)
	if err != nil {
		slog.Warn("object_not_found", slog.String("oid", oid), slog.String("error", err.Error()))
		return nil
	}
	if folder {
		return v.indexer.ProcessObject(ctx, res)
	}
	return v.indexer.IndexObject(ctx, res)
}

// Report returns the counters so far.
func (v *Vacuum) Report(check Check, took time.Duration) Report {
	return Report{
		Container: v.container.ID,
		Check:     check,
		Checked:   v.checked,
		Orphaned:  len(v.orphaned),
		Missing:   len(v.missing),
		OutOfDate: len(v.outOfDate),
		LastTID:   v.LastTID,
		Duration:  took,
	}
}

// Orphaned returns the ids deleted as orphans.
func (v *Vacuum) Orphaned() []string { return keys(v.orphaned) }

// Missing returns the ids indexed as missing.
func (v *Vacuum) Missing() []string { return keys(v.missing) }

// OutOfDate returns the ids reindexed as out of date.
func (v *Vacuum) OutOfDate() []string { return keys(v.outOfDate) }

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
