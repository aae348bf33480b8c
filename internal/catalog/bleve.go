package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

const (
	bleveIndexesDir = "indexes"
	bleveMetaFile   = "catalog.json"
)

// BleveCatalog implements Catalog with one bleve index per catalog index.
// With an empty root every index is memory-only and nothing is persisted.
type BleveCatalog struct {
	mu      sync.RWMutex
	root    string
	indexes map[string]bleve.Index
	aliases map[string]string
	closed  map[string]bool
	shut    bool
}

// Verify interface implementation at compile time
var _ Catalog = (*BleveCatalog)(nil)

// bleveMeta is the persisted alias and closed-index state.
type bleveMeta struct {
	Aliases map[string]string `json:"aliases"`
	Closed  []string          `json:"closed,omitempty"`
}

// NewBleveCatalog opens (or creates) a catalog rooted at root.
func NewBleveCatalog(root string) (*BleveCatalog, error) {
	c := &BleveCatalog{
		root:    root,
		indexes: make(map[string]bleve.Index),
		aliases: make(map[string]string),
		closed:  make(map[string]bool),
	}
	if root == "" {
		return c, nil
	}

	dir := filepath.Join(root, bleveIndexesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, vacerrors.CatalogError("failed to create catalog directory", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, vacerrors.CatalogError("failed to list catalog indexes", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		idx, err := bleve.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			// Half-written by a crash. The vacuum rebuilds it.
			slog.Warn("catalog_index_unreadable",
				slog.String("index", e.Name()),
				slog.String("error", err.Error()))
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
			continue
		}
		c.indexes[e.Name()] = idx
	}

	if err := c.loadMeta(); err != nil {
		_ = c.closeAll()
		return nil, err
	}
	return c, nil
}

func (c *BleveCatalog) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(c.root, bleveMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return vacerrors.CatalogError("failed to read catalog metadata", err)
	}
	var meta bleveMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return vacerrors.CatalogError("catalog metadata is corrupt", err)
	}
	for alias, index := range meta.Aliases {
		if _, ok := c.indexes[index]; ok {
			c.aliases[alias] = index
		}
	}
	for _, index := range meta.Closed {
		if _, ok := c.indexes[index]; ok {
			c.closed[index] = true
		}
	}
	return nil
}

// saveMeta must be called with mu held.
func (c *BleveCatalog) saveMeta() error {
	if c.root == "" {
		return nil
	}
	meta := bleveMeta{Aliases: c.aliases}
	for index := range c.closed {
		meta.Closed = append(meta.Closed, index)
	}
	sort.Strings(meta.Closed)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return vacerrors.InternalError("failed to encode catalog metadata", err)
	}
	path := filepath.Join(c.root, bleveMetaFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return vacerrors.CatalogError("failed to write catalog metadata", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return vacerrors.CatalogError("failed to write catalog metadata", err)
	}
	return nil
}

// documentMapping keeps identifiers as single keyword terms so DocID,
// term and wildcard queries match them exactly.
func documentMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	num := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	for _, f := range []string{"uuid", "parent_uuid", "type_name", "id", "path", "elastic_index", "tid_exact"} {
		doc.AddFieldMappingsAt(f, kw)
	}
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("tid", num)
	doc.AddFieldMappingsAt("depth", num)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = keyword.Name
	return im
}

// resolve must be called with mu held.
func (c *BleveCatalog) resolve(name string) (string, bleve.Index, error) {
	if c.shut {
		return "", nil, vacerrors.CatalogError("catalog is closed", nil)
	}
	index := name
	if target, ok := c.aliases[name]; ok {
		index = target
	}
	idx, ok := c.indexes[index]
	if !ok {
		return "", nil, vacerrors.New(vacerrors.ErrCodeIndexNotFound, "no such index "+name, ErrIndexNotFound)
	}
	return index, idx, nil
}

// open resolves name and rejects closed indexes. Must be called with mu held.
func (c *BleveCatalog) open(name string) (bleve.Index, error) {
	index, idx, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	if c.closed[index] {
		return nil, vacerrors.New(vacerrors.ErrCodeIndexClosed, "index "+index+" is closed", nil)
	}
	return idx, nil
}

// CreateIndex creates an empty index.
func (c *BleveCatalog) CreateIndex(_ context.Context, index string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shut {
		return vacerrors.CatalogError("catalog is closed", nil)
	}
	if _, ok := c.indexes[index]; ok {
		return fmt.Errorf("create %s: %w", index, ErrIndexExists)
	}
	if _, ok := c.aliases[index]; ok {
		return fmt.Errorf("create %s: %w", index, ErrIndexExists)
	}

	var (
		idx bleve.Index
		err error
	)
	if c.root == "" {
		idx, err = bleve.NewMemOnly(documentMapping())
	} else {
		idx, err = bleve.New(filepath.Join(c.root, bleveIndexesDir, index), documentMapping())
	}
	if err != nil {
		return vacerrors.CatalogError("failed to create index "+index, err)
	}
	c.indexes[index] = idx
	return nil
}

// DeleteIndex removes an index and every alias pointing at it.
func (c *BleveCatalog) DeleteIndex(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, idx, err := c.resolve(name)
	if err != nil {
		return err
	}
	if err := idx.Close(); err != nil {
		slog.Warn("catalog_index_close_failed", slog.String("index", index), slog.String("error", err.Error()))
	}
	delete(c.indexes, index)
	delete(c.closed, index)
	for alias, target := range c.aliases {
		if target == index {
			delete(c.aliases, alias)
		}
	}
	if c.root != "" {
		if err := os.RemoveAll(filepath.Join(c.root, bleveIndexesDir, index)); err != nil {
			return vacerrors.CatalogError("failed to remove index "+index, err)
		}
	}
	return c.saveMeta()
}

// CloseIndex marks an index closed. Reads and writes fail until it is deleted.
func (c *BleveCatalog) CloseIndex(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, _, err := c.resolve(name)
	if err != nil {
		return err
	}
	c.closed[index] = true
	return c.saveMeta()
}

// IndexExists reports whether name is an index or an alias.
func (c *BleveCatalog) IndexExists(_ context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, _, err := c.resolve(name)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	return err == nil, err
}

// PutAlias points alias at index, moving it if it already exists.
func (c *BleveCatalog) PutAlias(_ context.Context, index, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, _, err := c.resolve(index)
	if err != nil {
		return err
	}
	if _, ok := c.indexes[alias]; ok {
		return vacerrors.New(vacerrors.ErrCodeInvalidName,
			"alias "+alias+" collides with an index name", ErrIndexExists)
	}
	c.aliases[alias] = target
	return c.saveMeta()
}

// DeleteAlias removes alias when it points at index.
func (c *BleveCatalog) DeleteAlias(_ context.Context, index, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, _, err := c.resolve(index)
	if err != nil {
		return err
	}
	if c.aliases[alias] != target {
		return vacerrors.New(vacerrors.ErrCodeIndexNotFound,
			"alias "+alias+" does not point at "+target, ErrIndexNotFound)
	}
	delete(c.aliases, alias)
	return c.saveMeta()
}

// AliasExists reports whether alias is defined.
func (c *BleveCatalog) AliasExists(_ context.Context, alias string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.aliases[alias]
	return ok, nil
}

// Aliases returns a copy of the alias table.
func (c *BleveCatalog) Aliases(_ context.Context) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.aliases))
	for alias, index := range c.aliases {
		out[alias] = index
	}
	return out, nil
}

// Bulk applies ops in a single bleve batch.
func (c *BleveCatalog) Bulk(_ context.Context, name string, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, op := range ops {
		switch op.Op {
		case OpIndex:
			if op.Doc == nil {
				return vacerrors.ValidationError("index op without document for "+op.ID, nil)
			}
			if err := batch.Index(op.ID, op.Doc.fields()); err != nil {
				return vacerrors.CatalogError("failed to index document "+op.ID, err)
			}
		case OpDelete:
			batch.Delete(op.ID)
		default:
			return vacerrors.ValidationError(fmt.Sprintf("unknown bulk op %q", op.Op), nil)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return vacerrors.CatalogError("failed to execute batch", err)
	}
	return nil
}

// Get returns a stored document.
func (c *BleveCatalog) Get(ctx context.Context, name, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{"*"}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, vacerrors.CatalogError("get failed", err)
	}
	if len(res.Hits) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", id, name, ErrNotFound)
	}
	hit := res.Hits[0]
	return documentFromFields(hit.ID, hit.Fields), nil
}

// ScrollIDs pages through every id sorted by _id using search-after.
func (c *BleveCatalog) ScrollIDs(ctx context.Context, name string, pageSize int, fn IDPageFunc) error {
	if pageSize <= 0 {
		return vacerrors.ValidationError("page size must be positive", nil)
	}

	var after string
	for {
		ids, err := c.idPage(ctx, name, pageSize, after)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		after = ids[len(ids)-1]
		if err := fn(ids); err != nil {
			return err
		}
		if len(ids) < pageSize {
			return nil
		}
	}
}

// idPage runs one page under the read lock so fn can write to the catalog.
func (c *BleveCatalog) idPage(ctx context.Context, name string, size int, after string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), size, 0, false)
	req.SortBy([]string{"_id"})
	if after != "" {
		req.SearchAfter = []string{after}
	}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, vacerrors.CatalogError("scroll failed", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// FetchByUUIDs looks uuids up in every named index that exists.
func (c *BleveCatalog) FetchByUUIDs(ctx context.Context, names []string, uuids []string) ([]Hit, error) {
	if len(uuids) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var hits []Hit
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		index, idx, err := c.resolve(name)
		if errors.Is(err, ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[index] || c.closed[index] {
			continue
		}
		seen[index] = true

		req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(uuids), len(uuids), 0, false)
		req.Fields = []string{"tid", "tid_exact", "parent_uuid"}
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, vacerrors.CatalogError("lookup failed in "+index, err)
		}
		for _, hit := range res.Hits {
			hits = append(hits, Hit{
				ID:         hit.ID,
				Index:      index,
				TID:        tidField(hit.Fields),
				ParentUUID: parentOrMissing(hit.Fields),
			})
		}
	}
	return hits, nil
}

// DeleteByIDs deletes the ids present in name.
func (c *BleveCatalog) DeleteByIDs(ctx context.Context, name string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return 0, err
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, vacerrors.CatalogError("delete lookup failed", err)
	}
	if len(res.Hits) == 0 {
		return 0, nil
	}

	batch := idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := idx.Batch(batch); err != nil {
		return 0, vacerrors.CatalogError("delete failed", err)
	}
	return len(res.Hits), nil
}

// SubIndexOwners finds documents with a non-empty elastic_index.
func (c *BleveCatalog) SubIndexOwners(ctx context.Context, name string) ([]SubIndexOwner, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return nil, err
	}

	q := bleve.NewWildcardQuery("*")
	q.SetField("elastic_index")

	const pageSize = 1000
	var (
		owners []SubIndexOwner
		after  string
	)
	for {
		req := bleve.NewSearchRequestOptions(q, pageSize, 0, false)
		req.Fields = []string{"elastic_index"}
		req.SortBy([]string{"_id"})
		if after != "" {
			req.SearchAfter = []string{after}
		}
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, vacerrors.CatalogError("sub-index owner lookup failed", err)
		}
		for _, hit := range res.Hits {
			owners = append(owners, SubIndexOwner{
				UUID:  hit.ID,
				Index: stringField(hit.Fields, "elastic_index"),
			})
		}
		if len(res.Hits) < pageSize {
			return owners, nil
		}
		after = res.Hits[len(res.Hits)-1].ID
	}
}

// Refresh is a no-op: bleve batches are searchable once applied.
func (c *BleveCatalog) Refresh(_ context.Context, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, _, err := c.resolve(name)
	return err
}

// DocCount returns the number of documents in name.
func (c *BleveCatalog) DocCount(name string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.open(name)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// Close closes every index.
func (c *BleveCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return nil
	}
	c.shut = true
	return c.closeAll()
}

func (c *BleveCatalog) closeAll() error {
	var errs []error
	for name, idx := range c.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
