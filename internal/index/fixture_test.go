package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

// fixture wires a memory sqlite store to a memory bleve catalog.
type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *store.SQLStore
	catalog   *catalog.BleveCatalog
	manager   *Manager
	loader    *Loader
	indexer   *Indexer
	container *content.Resource
	tid       int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))

	cat, err := catalog.NewBleveCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	mgr := NewManager(cat, Naming{Prefix: "guillotina-", Database: "db"}, []string{"UniqueIndexContent"})
	loader, err := NewLoader(s, 200)
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		ctx:     ctx,
		store:   s,
		catalog: cat,
		manager: mgr,
		loader:  loader,
		indexer: NewIndexer(ctx, s, loader, mgr, IndexerConfig{BulkSize: 10, Workers: 2}),
	}
	f.container = f.create(nil, "Container", "guillotina")
	require.NoError(t, mgr.Install(ctx, f.container))
	return f
}

// create stores a new object below parent (nil for a container).
func (f *fixture) create(parent *content.Resource, typeName, id string) *content.Resource {
	f.t.Helper()
	f.tid++
	parentOID := content.RootID
	if parent != nil {
		parentOID = parent.OID
	}
	res := &content.Resource{
		OID:       content.GenerateOID(parentOID),
		ID:        id,
		TypeName:  typeName,
		Title:     typeName,
		ParentOID: parentOID,
		TID:       f.tid,
		Parent:    parent,
	}
	rec, err := content.Encode(res)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Put(f.ctx, rec))
	return res
}

func (f *fixture) index(objs ...*content.Resource) {
	f.t.Helper()
	for _, o := range objs {
		require.NoError(f.t, f.indexer.IndexObject(f.ctx, o))
	}
	require.NoError(f.t, f.indexer.FlushAndWait(f.ctx))
}

func (f *fixture) mainAlias() string {
	return f.manager.IndexName(f.container)
}
