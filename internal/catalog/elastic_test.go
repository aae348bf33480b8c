package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

// fakeES records requests and answers from a route table.
type fakeES struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeES(t *testing.T) (*fakeES, *ESCatalog) {
	t.Helper()
	f := &fakeES{
		bodies: make(map[string]string),
		routes: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		if strings.HasPrefix(r.URL.Path, "/_search/scroll") {
			// Scroll ids travel in the path, query or body depending on the call.
			if r.Method == http.MethodDelete {
				key = "DELETE /_search/scroll"
			} else {
				key = "POST /_search/scroll"
			}
		}

		f.mu.Lock()
		f.requests = append(f.requests, key)
		f.bodies[key] = string(body)
		h, ok := f.routes[key]
		f.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	f.on("GET /", reply(200,
		`{"version":{"number":"7.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`))

	c, err := NewESCatalog(ESConfig{
		Addresses: []string{srv.URL},
		Retry: &vacerrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	})
	require.NoError(t, err)
	return f, c
}

func (f *fakeES) on(key string, h func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = h
}

func (f *fakeES) body(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func (f *fakeES) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == key {
			n++
		}
	}
	return n
}

func reply(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestESCatalog_CreateIndexSendsMapping(t *testing.T) {
	f, c := newFakeES(t)
	f.on("PUT /1_main", reply(200, `{"acknowledged":true}`))

	require.NoError(t, c.CreateIndex(context.Background(), "1_main"))

	var body struct {
		Mappings struct {
			Properties map[string]map[string]string `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.body("PUT /1_main")), &body))
	assert.Equal(t, "keyword", body.Mappings.Properties["uuid"]["type"])
	assert.Equal(t, "long", body.Mappings.Properties["tid"]["type"])
}

func TestESCatalog_CreateIndexExisting(t *testing.T) {
	f, c := newFakeES(t)
	f.on("PUT /1_main", reply(400,
		`{"error":{"type":"resource_already_exists_exception","reason":"index [1_main] already exists"}}`))

	err := c.CreateIndex(context.Background(), "1_main")
	assert.ErrorIs(t, err, ErrIndexExists)
}

func TestESCatalog_IndexExists(t *testing.T) {
	f, c := newFakeES(t)
	f.on("HEAD /main", reply(200, ``))

	ok, err := c.IndexExists(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IndexExists(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestESCatalog_RetriesUnavailable(t *testing.T) {
	f, c := newFakeES(t)
	calls := 0
	f.on("POST /main/_refresh", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Refresh(context.Background(), "main"))
	assert.Equal(t, 3, calls)
}

func TestESCatalog_GivesUpWhenAlwaysUnavailable(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_refresh", reply(http.StatusTooManyRequests, `{}`))

	err := c.Refresh(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, vacerrors.IsRetryable(err))
	assert.Equal(t, 3, f.count("POST /main/_refresh"))
}

func TestESCatalog_BulkWithDocType(t *testing.T) {
	f, c := newFakeES(t)
	c.cfg.DocType = "doc"
	f.on("POST /main/_bulk", reply(200, `{"errors":false,"items":[]}`))

	err := c.Bulk(context.Background(), "main", []BulkOp{
		{Op: OpIndex, ID: "a", Doc: doc("a", "c", 3)},
		{Op: OpDelete, ID: "b"},
	})
	require.NoError(t, err)

	sc := bufio.NewScanner(strings.NewReader(f.body("POST /main/_bulk")))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"index":{"_id":"a","_type":"doc"}}`, lines[0])
	assert.Contains(t, lines[1], `"parent_uuid":"c"`)
	assert.JSONEq(t, `{"delete":{"_id":"b","_type":"doc"}}`, lines[2])
}

func TestESCatalog_BulkReportsItemFailures(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_bulk", reply(200, `{"errors":true,"items":[
		{"delete":{"_id":"gone","status":404}},
		{"index":{"_id":"a","status":400,"error":{"reason":"mapper_parsing_exception"}}}]}`))

	err := c.Bulk(context.Background(), "main", []BulkOp{
		{Op: OpDelete, ID: "gone"},
		{Op: OpIndex, ID: "a", Doc: doc("a", "c", 1)},
	})
	require.Error(t, err)
	assert.Equal(t, vacerrors.ErrCodeIndexFailed, vacerrors.GetCode(err))
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestESCatalog_Get(t *testing.T) {
	f, c := newFakeES(t)
	f.on("GET /main/_doc/a", reply(200,
		`{"found":true,"_source":{"uuid":"a","tid":12,"parent_uuid":"c","type_name":"Item","elastic_index":"main__item-a"}}`))
	f.on("GET /main/_doc/b", reply(404, `{"found":false}`))

	got, err := c.Get(context.Background(), "main", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.TID)
	assert.Equal(t, "main__item-a", got.ElasticIndex)

	_, err = c.Get(context.Background(), "main", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(context.Background(), "gone", "a")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestESCatalog_ScrollIDs(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_search", reply(200,
		`{"_scroll_id":"s1","hits":{"hits":[{"_id":"a"},{"_id":"b"}]}}`))
	page := 0
	f.on("POST /_search/scroll", func(w http.ResponseWriter, _ *http.Request) {
		page++
		if page == 1 {
			_, _ = w.Write([]byte(`{"_scroll_id":"s2","hits":{"hits":[{"_id":"c"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"_scroll_id":"s2","hits":{"hits":[]}}`))
	})
	f.on("DELETE /_search/scroll", reply(200, `{"succeeded":true}`))

	var ids []string
	err := c.ScrollIDs(context.Background(), "main", 2, func(page []string) error {
		ids = append(ids, page...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Contains(t, f.body("POST /main/_search"), `"_doc"`)
}

func TestESCatalog_ScrollContinuationFailureEndsIteration(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_search", reply(200, `{"_scroll_id":"s1","hits":{"hits":[{"_id":"a"}]}}`))
	f.on("POST /_search/scroll", reply(500, `{"error":{"type":"search_context_missing_exception","reason":"gone"}}`))

	var ids []string
	err := c.ScrollIDs(context.Background(), "main", 1, func(page []string) error {
		ids = append(ids, page...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestESCatalog_FetchByUUIDs(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main,sub/_search", reply(200, `{"hits":{"hits":[
		{"_id":"a","_index":"1_main","_source":{"tid":5,"parent_uuid":"c"}},
		{"_id":"b","_index":"1_sub","_source":{}}]}}`))

	hits, err := c.FetchByUUIDs(context.Background(), []string{"main", "sub"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []Hit{
		{ID: "a", Index: "1_main", TID: 5, ParentUUID: "c"},
		{ID: "b", Index: "1_sub", TID: MissingTID, ParentUUID: MissingParent},
	}, hits)
	assert.Contains(t, f.body("POST /main,sub/_search"), `"ids"`)
}

func TestESCatalog_FetchByUUIDsStaysInsideResultWindow(t *testing.T) {
	// Given: a cluster enforcing the default result window on eleven indexes
	f, c := newFakeES(t)
	names := make([]string, 11)
	for i := range names {
		names[i] = fmt.Sprintf("idx%d", i)
	}
	var sizes []int
	var mu sync.Mutex
	key := "POST /" + strings.Join(names, ",") + "/_search"
	f.on(key, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Size int `json:"size"`
		}
		_ = json.Unmarshal([]byte(f.body(key)), &req)
		mu.Lock()
		sizes = append(sizes, req.Size)
		mu.Unlock()
		if req.Size > maxResultWindow {
			reply(400, `{"error":{"type":"illegal_argument_exception","reason":"Result window is too large"},"status":400}`)(w, r)
			return
		}
		reply(200, `{"hits":{"hits":[]}}`)(w, r)
	})

	// When: looking up a page of 1000 uuids, then a set larger than the window
	page := make([]string, 1000)
	for i := range page {
		page[i] = fmt.Sprintf("u%d", i)
	}
	_, err := c.FetchByUUIDs(context.Background(), names, page)
	require.NoError(t, err)

	large := make([]string, maxResultWindow+5)
	for i := range large {
		large[i] = fmt.Sprintf("u%d", i)
	}
	_, err = c.FetchByUUIDs(context.Background(), names, large)
	require.NoError(t, err)

	// Then: every search asks for at most one hit per uuid
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1000, maxResultWindow, 5}, sizes)
}

func TestESCatalog_DeleteByIDs(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_delete_by_query", reply(200, `{"deleted":2}`))

	n, err := c.DeleteByIDs(context.Background(), "main", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestESCatalog_Aliases(t *testing.T) {
	f, c := newFakeES(t)
	f.on("GET /_alias", reply(200, `{
		"1_main":{"aliases":{"main":{}}},
		"1_sub":{"aliases":{"main__item-x":{}}},
		"plain":{"aliases":{}}}`))

	aliases, err := c.Aliases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "1_main", "main__item-x": "1_sub"}, aliases)
}

func TestESCatalog_SubIndexOwners(t *testing.T) {
	f, c := newFakeES(t)
	f.on("POST /main/_search", reply(200, `{"_scroll_id":"s1","hits":{"hits":[
		{"_id":"o1","_source":{"elastic_index":"main__item-o1"}}]}}`))
	f.on("POST /_search/scroll", reply(200, `{"_scroll_id":"s1","hits":{"hits":[]}}`))
	f.on("DELETE /_search/scroll", reply(200, `{}`))

	owners, err := c.SubIndexOwners(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, []SubIndexOwner{{UUID: "o1", Index: "main__item-o1"}}, owners)
	assert.Contains(t, f.body("POST /main/_search"), `"exists"`)
}
