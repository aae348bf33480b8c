package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/index"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

// testEnv is a temp directory with a config file pointing every path into it.
type testEnv struct {
	t       *testing.T
	dir     string
	config  string
	dbPath  string
	catalog string
	state   string
	tid     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	for _, k := range []string{
		"DATABASE", "ES_VERSION", "ESVACUUM_DATABASE_DRIVER", "ESVACUUM_DATABASE_DSN",
		"ESVACUUM_CATALOG_BACKEND", "ESVACUUM_BLEVE_PATH", "ESVACUUM_STATE_DIR", "ESVACUUM_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	e := &testEnv{
		t:       t,
		dir:     dir,
		config:  filepath.Join(dir, "esvacuum.yaml"),
		dbPath:  filepath.Join(dir, "guillotina.db"),
		catalog: filepath.Join(dir, "catalog"),
		state:   filepath.Join(dir, "state"),
	}
	cfg := fmt.Sprintf(`database:
  driver: sqlite
  dsn: %s
  name: db
catalog:
  backend: bleve
  bleve_path: %s
vacuum:
  page_size: 5
  workers: 2
  state_dir: %s
logging:
  file: %s
  quiet: true
`, e.dbPath, e.catalog, e.state, filepath.Join(dir, "vacuum.log"))
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o644))
	return e
}

// run executes the CLI with the env's config file.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args, "--config", e.config))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// withStore opens the env's database for seeding or inspection.
func (e *testEnv) withStore(fn func(s *store.SQLStore)) {
	e.t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Driver: "sqlite", DSN: e.dbPath})
	require.NoError(e.t, err)
	defer func() { _ = s.Close() }()
	require.NoError(e.t, s.EnsureSchema(ctx))
	fn(s)
}

// create stores a new object below parent (nil for a container).
func (e *testEnv) create(parent *content.Resource, typeName, id string) *content.Resource {
	e.t.Helper()
	e.tid++
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
		TID:       e.tid,
		Parent:    parent,
	}
	rec, err := content.Encode(res)
	require.NoError(e.t, err)
	e.withStore(func(s *store.SQLStore) {
		require.NoError(e.t, s.Put(context.Background(), rec))
	})
	return res
}

func (e *testEnv) delete(res *content.Resource) {
	e.t.Helper()
	e.withStore(func(s *store.SQLStore) {
		require.NoError(e.t, s.Delete(context.Background(), res.OID))
	})
}

// getDoc reads a document back from the on-disk catalog.
func (e *testEnv) getDoc(container *content.Resource, oid string) (*catalog.Document, error) {
	e.t.Helper()
	cat, err := catalog.NewBleveCatalog(e.catalog)
	require.NoError(e.t, err)
	defer func() { _ = cat.Close() }()
	alias := index.Naming{Prefix: "guillotina-", Database: "db"}.MainAlias(container)
	return cat.Get(context.Background(), alias, oid)
}
