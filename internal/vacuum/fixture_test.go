package vacuum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/index"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *store.SQLStore
	catalog *catalog.BleveCatalog
	manager *index.Manager
	deps    Deps
	tid     int64
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

	mgr := index.NewManager(cat, index.Naming{Prefix: "guillotina-", Database: "db"}, []string{"UniqueIndexContent"})
	return &fixture{
		t:       t,
		ctx:     ctx,
		store:   s,
		catalog: cat,
		manager: mgr,
		deps:    Deps{Store: s, Manager: mgr},
	}
}

func (f *fixture) container(id string) *content.Resource {
	f.t.Helper()
	c := f.create(nil, "Container", id)
	require.NoError(f.t, f.manager.Install(f.ctx, c))
	return c
}

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
		Title:     id,
		ParentOID: parentOID,
		TID:       f.tid,
		Parent:    parent,
	}
	f.save(res)
	return res
}

// touch bumps the tid of res in the database only.
func (f *fixture) touch(res *content.Resource) {
	f.t.Helper()
	f.tid++
	res.TID = f.tid
	f.save(res)
}

func (f *fixture) save(res *content.Resource) {
	f.t.Helper()
	rec, err := content.Encode(res)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Put(f.ctx, rec))
}

// index writes objects to the catalog the way the application would.
func (f *fixture) index(objs ...*content.Resource) {
	f.t.Helper()
	loader, err := index.NewLoader(f.store, 10)
	require.NoError(f.t, err)
	ix := index.NewIndexer(f.ctx, f.store, loader, f.manager, index.IndexerConfig{})
	for _, o := range objs {
		require.NoError(f.t, ix.IndexObject(f.ctx, o))
	}
	require.NoError(f.t, ix.FlushAndWait(f.ctx))
}

func (f *fixture) vacuum(container *content.Resource, lastTID int64) *Vacuum {
	f.t.Helper()
	v, err := New(f.ctx, f.deps, Options{PageSize: 3, BulkSize: 2, Workers: 2}, container, lastTID)
	require.NoError(f.t, err)
	require.NoError(f.t, v.Setup(f.ctx))
	return v
}

func (f *fixture) get(name, id string) (*catalog.Document, error) {
	return f.catalog.Get(f.ctx, name, id)
}
