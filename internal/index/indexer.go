package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

// IndexerConfig tunes batching.
type IndexerConfig struct {
	// BulkSize is the number of actions per bulk request (default: 10).
	BulkSize int
	// PageSize is the number of rows read per subtree query (default: 1000).
	PageSize int
	// Workers bounds concurrent bulk requests (default: 1).
	Workers int
}

// Indexer batches index and delete actions per target index and flushes
// full batches in the background.
type Indexer struct {
	store   store.ObjectStore
	loader  *Loader
	manager *Manager
	cfg     IndexerConfig

	mu      sync.Mutex
	pending map[string][]catalog.BulkOp
	group   *errgroup.Group
	gctx    context.Context

	indexed   atomic.Int64
	unindexed atomic.Int64
}

// NewIndexer creates an indexer. Background flushes run under ctx.
func NewIndexer(ctx context.Context, s store.ObjectStore, loader *Loader, manager *Manager, cfg IndexerConfig) *Indexer {
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = 10
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ix := &Indexer{
		store:   s,
		loader:  loader,
		manager: manager,
		cfg:     cfg,
		pending: make(map[string][]catalog.BulkOp),
	}
	ix.resetGroup(ctx)
	return ix
}

func (ix *Indexer) resetGroup(ctx context.Context) {
	ix.group, ix.gctx = errgroup.WithContext(ctx)
	ix.group.SetLimit(ix.cfg.Workers)
}

// Document builds the catalog document for res.
func (ix *Indexer) Document(res *content.Resource) *catalog.Document {
	doc := &catalog.Document{
		UUID:       res.OID,
		TID:        res.TID,
		ParentUUID: res.ParentOID,
		TypeName:   res.TypeName,
		ID:         res.ID,
		Title:      res.Title,
		Path:       res.Path(),
		Depth:      res.Depth(),
	}
	if ix.manager.OwnsSubIndex(res) {
		doc.ElasticIndex = ix.manager.SubIndexName(res)
	}
	return doc
}

// IndexObject queues res for indexing, installing its sub-index first when
// it owns one.
func (ix *Indexer) IndexObject(ctx context.Context, res *content.Resource) error {
	if ix.manager.OwnsSubIndex(res) {
		if _, err := ix.manager.InstallSubIndex(ctx, res); err != nil {
			return err
		}
	}
	ix.indexed.Add(1)
	return ix.add(ix.manager.IndexFor(res), catalog.BulkOp{
		Op:  catalog.OpIndex,
		ID:  res.OID,
		Doc: ix.Document(res),
	})
}

// ProcessObject indexes res and every object below it.
func (ix *Indexer) ProcessObject(ctx context.Context, res *content.Resource) error {
	if err := ix.IndexObject(ctx, res); err != nil {
		return err
	}
	return ix.processChildren(ctx, res)
}

func (ix *Indexer) processChildren(ctx context.Context, res *content.Resource) error {
	return ix.store.IterChildren(ctx, []string{res.OID}, ix.cfg.PageSize, func(page []content.Record) error {
		for _, rec := range page {
			child, err := ix.loader.Load(ctx, rec.ZOID)
			if err != nil {
				slog.Warn("object_load_failed",
					slog.String("oid", rec.ZOID),
					slog.String("error", err.Error()))
				continue
			}
			if err := ix.IndexObject(ctx, child); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unindex queues res for deletion and removes the sub-index it owns.
func (ix *Indexer) Unindex(ctx context.Context, res *content.Resource) error {
	if ix.manager.OwnsSubIndex(res) {
		if err := ix.manager.RemoveSubIndex(ctx, ix.manager.SubIndexName(res)); err != nil {
			return err
		}
	}
	ix.loader.Forget(res.OID)
	ix.unindexed.Add(1)
	return ix.add(ix.manager.IndexFor(res), catalog.BulkOp{Op: catalog.OpDelete, ID: res.OID})
}

// add queues op and hands a full batch to a worker. It blocks while all
// workers are busy.
func (ix *Indexer) add(index string, op catalog.BulkOp) error {
	ix.mu.Lock()
	ix.pending[index] = append(ix.pending[index], op)
	var batch []catalog.BulkOp
	if len(ix.pending[index]) >= ix.cfg.BulkSize {
		batch = ix.pending[index]
		delete(ix.pending, index)
	}
	group, gctx := ix.group, ix.gctx
	ix.mu.Unlock()

	if batch != nil {
		ix.send(gctx, group, index, batch)
	}
	return nil
}

func (ix *Indexer) send(ctx context.Context, group *errgroup.Group, index string, batch []catalog.BulkOp) {
	group.Go(func() error {
		if err := ix.manager.Catalog().Bulk(ctx, index, batch); err != nil {
			slog.Error("bulk_failed",
				slog.String("index", index),
				slog.Int("actions", len(batch)),
				slog.String("error", err.Error()))
			return err
		}
		slog.Debug("bulk_sent", slog.String("index", index), slog.Int("actions", len(batch)))
		return nil
	})
}

// Flush hands every partial batch to the workers.
func (ix *Indexer) Flush(_ context.Context) {
	ix.mu.Lock()
	pending := ix.pending
	ix.pending = make(map[string][]catalog.BulkOp)
	group, gctx := ix.group, ix.gctx
	ix.mu.Unlock()

	for index, batch := range pending {
		ix.send(gctx, group, index, batch)
	}
}

// Wait blocks until every handed-off batch is done and returns the first
// bulk error. The indexer is reusable afterwards.
func (ix *Indexer) Wait(ctx context.Context) error {
	ix.mu.Lock()
	group := ix.group
	ix.resetGroup(ctx)
	ix.mu.Unlock()
	return group.Wait()
}

// FlushAndWait flushes and waits.
func (ix *Indexer) FlushAndWait(ctx context.Context) error {
	ix.Flush(ctx)
	return ix.Wait(ctx)
}

// Indexed is the number of objects queued for indexing so far.
func (ix *Indexer) Indexed() int64 {
	return ix.indexed.Load()
}

// Unindexed is the number of objects queued for deletion so far.
func (ix *Indexer) Unindexed() int64 {
	return ix.unindexed.Load()
}

// Reindex installs the indexes of container and indexes its whole tree.
func (ix *Indexer) Reindex(ctx context.Context, container *content.Resource) error {
	if err := ix.manager.Install(ctx, container); err != nil {
		return err
	}
	if err := ix.processChildren(ctx, container); err != nil {
		return err
	}
	if err := ix.FlushAndWait(ctx); err != nil {
		return err
	}
	return ix.manager.Catalog().Refresh(ctx, ix.manager.IndexName(container))
}
