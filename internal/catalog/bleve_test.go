package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

func newMemCatalog(t *testing.T) *BleveCatalog {
	t.Helper()
	c, err := NewBleveCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func doc(uuid, parent string, tid int64) *Document {
	return &Document{UUID: uuid, TID: tid, ParentUUID: parent, TypeName: "Item", ID: "id-" + uuid, Path: "/" + uuid}
}

func indexDocs(t *testing.T, c Catalog, name string, docs ...*Document) {
	t.Helper()
	ops := make([]BulkOp, len(docs))
	for i, d := range docs {
		ops[i] = BulkOp{Op: OpIndex, ID: d.UUID, Doc: d}
	}
	require.NoError(t, c.Bulk(context.Background(), name, ops))
}

func TestBleveCatalog_CreateIndexAndAlias(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()

	// Given: an index with an alias
	require.NoError(t, c.CreateIndex(ctx, "1_main"))
	require.NoError(t, c.PutAlias(ctx, "1_main", "main"))

	// Then: both names exist and the alias maps to the index
	for _, name := range []string{"1_main", "main"} {
		ok, err := c.IndexExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	ok, err := c.AliasExists(ctx, "main")
	require.NoError(t, err)
	assert.True(t, ok)

	aliases, err := c.Aliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "1_main"}, aliases)

	// And: creating either name again fails
	assert.ErrorIs(t, c.CreateIndex(ctx, "1_main"), ErrIndexExists)
	assert.ErrorIs(t, c.CreateIndex(ctx, "main"), ErrIndexExists)

	// And: an unknown name does not exist
	ok, err = c.IndexExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBleveCatalog_BulkGetThroughAlias(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "1_main"))
	require.NoError(t, c.PutAlias(ctx, "1_main", "main"))

	// When: indexing via the alias
	owner := doc("u1", "c", 5)
	owner.ElasticIndex = "main__unique-u1"
	owner.Title = "Hello World"
	owner.Depth = 2
	indexDocs(t, c, "main", owner)

	// Then: the document reads back with every field
	got, err := c.Get(ctx, "1_main", "u1")
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	// And: deleting it makes Get report ErrNotFound
	require.NoError(t, c.Bulk(ctx, "main", []BulkOp{{Op: OpDelete, ID: "u1"}}))
	_, err = c.Get(ctx, "main", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBleveCatalog_ScrollIDsPagesEveryDocument(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx"))

	var docs []*Document
	for i := 0; i < 25; i++ {
		docs = append(docs, doc(fmt.Sprintf("u%02d", i), "c", int64(i)))
	}
	indexDocs(t, c, "idx", docs...)

	var pages [][]string
	err := c.ScrollIDs(ctx, "idx", 10, func(ids []string) error {
		pages = append(pages, ids)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, pages, 3)
	assert.Len(t, pages[0], 10)
	assert.Len(t, pages[2], 5)
	assert.Equal(t, "u00", pages[0][0])
	assert.Equal(t, "u24", pages[2][4])
}

func TestBleveCatalog_ScrollIDsAllowsDeletesFromCallback(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx"))
	indexDocs(t, c, "idx", doc("a", "c", 1), doc("b", "c", 1), doc("c", "c", 1))

	seen := 0
	err := c.ScrollIDs(ctx, "idx", 2, func(ids []string) error {
		seen += len(ids)
		_, err := c.DeleteByIDs(ctx, "idx", ids)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	n, err := c.DocCount("idx")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBleveCatalog_FetchByUUIDs(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "main"))
	require.NoError(t, c.CreateIndex(ctx, "sub"))

	indexDocs(t, c, "main", doc("a", "c", 3))
	indexDocs(t, c, "sub", doc("b", "a", 4))
	require.NoError(t, c.Bulk(ctx, "main", []BulkOp{{Op: OpIndex, ID: "bare", Doc: &Document{UUID: "bare", TID: MissingTID}}}))

	// When: looking up across both indexes plus a missing one
	hits, err := c.FetchByUUIDs(ctx, []string{"main", "sub", "gone"}, []string{"a", "b", "bare", "zzz"})
	require.NoError(t, err)

	// Then: each found uuid is reported with its tid and parent
	byID := map[string]Hit{}
	for _, h := range hits {
		byID[h.ID] = h
	}
	require.Len(t, byID, 3)
	assert.Equal(t, Hit{ID: "a", Index: "main", TID: 3, ParentUUID: "c"}, byID["a"])
	assert.Equal(t, Hit{ID: "b", Index: "sub", TID: 4, ParentUUID: "a"}, byID["b"])
	assert.Equal(t, MissingTID, byID["bare"].TID)
	assert.Equal(t, MissingParent, byID["bare"].ParentUUID)
}

func TestBleveCatalog_KeepsLargeTIDsExact(t *testing.T) {
	// Given: tids that a float64 cannot tell apart
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "main"))
	const big = int64(1)<<53 + 1
	indexDocs(t, c, "main", doc("a", "c", big), doc("b", "c", big+2))

	// When: reading them back by lookup and by get
	hits, err := c.FetchByUUIDs(ctx, []string{"main"}, []string{"a", "b"})
	require.NoError(t, err)
	got, err := c.Get(ctx, "main", "a")
	require.NoError(t, err)

	// Then: every tid is unchanged
	byID := map[string]int64{}
	for _, h := range hits {
		byID[h.ID] = h.TID
	}
	assert.Equal(t, map[string]int64{"a": big, "b": big + 2}, byID)
	assert.Equal(t, big, got.TID)
}

func TestBleveCatalog_DeleteByIDsCountsOnlyPresent(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx"))
	indexDocs(t, c, "idx", doc("a", "c", 1), doc("b", "c", 1))

	n, err := c.DeleteByIDs(ctx, "idx", []string{"a", "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.DeleteByIDs(ctx, "idx", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBleveCatalog_SubIndexOwners(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "main"))

	owner := doc("o1", "c", 1)
	owner.ElasticIndex = "main__uniqueindexcontent-o1"
	indexDocs(t, c, "main", owner, doc("plain", "c", 1))

	owners, err := c.SubIndexOwners(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []SubIndexOwner{{UUID: "o1", Index: "main__uniqueindexcontent-o1"}}, owners)
}

func TestBleveCatalog_CloseAndDeleteIndex(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "1_sub"))
	require.NoError(t, c.PutAlias(ctx, "1_sub", "sub"))

	// When: closing the index
	require.NoError(t, c.CloseIndex(ctx, "sub"))

	// Then: reads fail with the closed code
	_, err := c.Get(ctx, "sub", "x")
	assert.Equal(t, vacerrors.ErrCodeIndexClosed, vacerrors.GetCode(err))

	// And: closed indexes are skipped by lookups
	hits, err := c.FetchByUUIDs(ctx, []string{"sub"}, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// When: dropping the alias and deleting the index
	require.NoError(t, c.DeleteAlias(ctx, "1_sub", "sub"))
	require.NoError(t, c.DeleteIndex(ctx, "1_sub"))

	// Then: nothing remains
	ok, err := c.IndexExists(ctx, "1_sub")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, c.DeleteIndex(ctx, "1_sub"), ErrIndexNotFound)
}

func TestBleveCatalog_DeleteIndexDropsAliases(t *testing.T) {
	c := newMemCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "1_main"))
	require.NoError(t, c.PutAlias(ctx, "1_main", "main"))

	require.NoError(t, c.DeleteIndex(ctx, "main"))

	aliases, err := c.Aliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestBleveCatalog_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Given: an on-disk catalog with a document, an alias and a closed index
	c, err := NewBleveCatalog(dir)
	require.NoError(t, err)
	require.NoError(t, c.CreateIndex(ctx, "1_main"))
	require.NoError(t, c.PutAlias(ctx, "1_main", "main"))
	require.NoError(t, c.CreateIndex(ctx, "1_old"))
	require.NoError(t, c.CloseIndex(ctx, "1_old"))
	indexDocs(t, c, "main", doc("a", "c", 7))
	require.NoError(t, c.Close())

	// When: reopening it
	c, err = NewBleveCatalog(dir)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// Then: documents, aliases and closed state survive
	got, err := c.Get(ctx, "main", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TID)

	_, err = c.Get(ctx, "1_old", "a")
	assert.Equal(t, vacerrors.ErrCodeIndexClosed, vacerrors.GetCode(err))
}

func TestBleveCatalog_ClosedCatalogRejectsCalls(t *testing.T) {
	c, err := NewBleveCatalog("")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Error(t, c.CreateIndex(context.Background(), "x"))
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &BleveCatalog{}, c)
	_ = c.Close()

	c, err = New(Options{Backend: "elasticsearch", ES: ESConfig{Addresses: []string{"http://localhost:9200"}}})
	require.NoError(t, err)
	assert.IsType(t, &ESCatalog{}, c)

	_, err = New(Options{Backend: "solr"})
	assert.Error(t, err)
}
