package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/esvacuum/internal/content"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func put(t *testing.T, s *SQLStore, zoid, parent string, tid int64) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), content.Record{
		ZOID: zoid, TID: tid, ParentID: parent, ID: "id-" + zoid, Type: "Item",
		State: []byte(`{"title":"` + zoid + `"}`),
	}))
}

func collectIDs(pages *[][]string) PageFunc {
	return func(page []content.Record) error {
		ids := make([]string, len(page))
		for i, rec := range page {
			ids[i] = rec.ZOID
		}
		*pages = append(*pages, ids)
		return nil
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.Error(t, err)
	assert.Equal(t, vacerrors.ErrCodeInvalidInput, vacerrors.GetCode(err))
}

func TestOpen_FileDatabaseCreatesDirectory(t *testing.T) {
	// Given: a DSN in a directory that does not exist yet
	dsn := filepath.Join(t.TempDir(), "nested", "content.db")

	// When: opening and creating the schema
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.EnsureSchema(context.Background()))

	// Then: indexes can be created twice without error
	require.NoError(t, s.EnsureTIDIndex(context.Background()))
	require.NoError(t, s.EnsureTIDIndex(context.Background()))
}

func TestLoad_RoundTripAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: an annotation row and a regular row
	require.NoError(t, s.Put(ctx, content.Record{
		ZOID: "a", TID: 3, ParentID: content.RootID, Of: "x", ID: "site", Type: "Container",
		State: []byte(`{"title":"Site"}`),
	}))

	// When: loading it
	rec, err := s.Load(ctx, "a")

	// Then: every column is returned
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.TID)
	assert.Equal(t, content.RootID, rec.ParentID)
	assert.Equal(t, "x", rec.Of)
	assert.Equal(t, "Container", rec.Type)
	assert.JSONEq(t, `{"title":"Site"}`, string(rec.State))

	// And: a missing zoid wraps content.ErrNotFound
	_, err = s.Load(ctx, "nope")
	require.ErrorIs(t, err, content.ErrNotFound)
	assert.Equal(t, vacerrors.ErrCodeObjectNotFound, vacerrors.GetCode(err))
}

func TestPut_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "a", content.RootID, 1)
	put(t, s, "a", content.RootID, 7)

	rec, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.TID)
}

func TestChildIDsAndExistingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "c1", content.RootID, 1)
	put(t, s, "c2", content.RootID, 1)
	put(t, s, "i1", "c1", 2)

	containers, err := s.ChildIDs(ctx, content.RootID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, containers)

	found, err := s.ExistingIDs(ctx, []string{"c1", "i1", "gone"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, "i1")
	assert.NotContains(t, found, "gone")

	empty, err := s.ExistingIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIterByTID_PagesInTIDOrderWithTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: rows sharing tids across page boundaries plus an annotation
	put(t, s, "b", "c", 5)
	put(t, s, "a", "c", 5)
	put(t, s, "c", content.RootID, 1)
	put(t, s, "d", "c", 9)
	put(t, s, "e", "c", 5)
	require.NoError(t, s.Put(ctx, content.Record{ZOID: "ann", TID: 6, Of: "a"}))

	// When: iterating with a page size of two
	var pages [][]string
	cur, err := s.IterByTID(ctx, Cursor{}, 2, collectIDs(&pages))

	// Then: every non-annotation row appears once in (tid, zoid) order
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c", "a"}, {"b", "e"}, {"d"}}, pages)
	assert.Equal(t, Cursor{TID: 9, ZOID: "d"}, cur)
}

func TestIterByTID_ResumesAtTID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "a", "c", 1)
	put(t, s, "b", "c", 4)
	put(t, s, "c", "c", 4)
	put(t, s, "d", "c", 8)

	var pages [][]string
	_, err := s.IterByTID(ctx, Cursor{TID: 4}, 10, collectIDs(&pages))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b", "c", "d"}}, pages)
}

func TestIterByTID_StopsOnCallbackError(t *testing.T) {
	s := newTestStore(t)
	put(t, s, "a", "c", 1)
	put(t, s, "b", "c", 2)

	boom := fmt.Errorf("boom")
	calls := 0
	_, err := s.IterByTID(context.Background(), Cursor{}, 1, func([]content.Record) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIterChildren_BreadthFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: container c with two folders, each with children
	put(t, s, "c", content.RootID, 1)
	put(t, s, "f1", "c", 2)
	put(t, s, "f2", "c", 2)
	put(t, s, "x1", "f1", 3)
	put(t, s, "x2", "f2", 3)
	put(t, s, "x3", "f2", 3)
	put(t, s, "y1", "x3", 4)

	// When: walking from the container with small pages
	var pages [][]string
	err := s.IterChildren(ctx, []string{"c"}, 2, collectIDs(&pages))

	// Then: levels are yielded in order and nothing repeats
	require.NoError(t, err)
	var all []string
	for _, p := range pages {
		assert.LessOrEqual(t, len(p), 2)
		all = append(all, p...)
	}
	assert.Equal(t, []string{"f1", "f2", "x1", "x2", "x3", "y1"}, all)
}

func TestDeleteTree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "c", content.RootID, 1)
	put(t, s, "f", "c", 2)
	put(t, s, "x", "f", 3)
	put(t, s, "keep", "c", 3)

	require.NoError(t, s.DeleteTree(ctx, "f"))

	found, err := s.ExistingIDs(ctx, []string{"c", "f", "x", "keep"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, "keep")

	require.NoError(t, s.Delete(ctx, "keep"))
	require.NoError(t, s.Delete(ctx, "keep"))
}

func TestPostgresDialect_Rebind(t *testing.T) {
	d := postgresDialect{}
	assert.Equal(t, `SELECT 1 WHERE a = $1 AND b = ANY($2) LIMIT $3`,
		d.rebind(`SELECT 1 WHERE a = ? AND b = ANY(?) LIMIT ?`))

	cond, args := d.inClause("zoid", []string{"a", "b"})
	assert.Equal(t, "zoid = ANY(?)", cond)
	assert.Len(t, args, 1)
}

func TestSQLiteDialect_InClause(t *testing.T) {
	cond, args := sqliteDialect{}.inClause("zoid", []string{"a", "b", "c"})
	assert.Equal(t, "zoid IN (?,?,?)", cond)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a"}}, chunks([]string{"a"}, 2))
}
