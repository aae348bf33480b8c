package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

// ESConfig configures an Elasticsearch catalog.
type ESConfig struct {
	Addresses []string
	Username  string
	Password  string
	// DocType is sent as _type on document requests and wraps the mapping.
	// Set to "doc" for 6.x clusters, leave empty for 7.x.
	DocType string

	ScrollKeepAlive time.Duration
	ScrollContinue  time.Duration

	// Retry defaults to vacerrors.DefaultRetryConfig.
	Retry *vacerrors.RetryConfig
	// Transport replaces the HTTP transport (tests).
	Transport http.RoundTripper
}

// ESCatalog implements Catalog against an Elasticsearch cluster.
type ESCatalog struct {
	es      *elasticsearch.Client
	cfg     ESConfig
	retry   vacerrors.RetryConfig
	breaker *vacerrors.CircuitBreaker
}

// Verify interface implementation at compile time
var _ Catalog = (*ESCatalog)(nil)

// NewESCatalog creates a client. No request is made until first use.
func NewESCatalog(cfg ESConfig) (*ESCatalog, error) {
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = 15 * time.Minute
	}
	if cfg.ScrollContinue <= 0 {
		cfg.ScrollContinue = 5 * time.Minute
	}
	retry := vacerrors.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, vacerrors.ConfigError("invalid elasticsearch configuration", err)
	}

	return &ESCatalog{
		es:      es,
		cfg:     cfg,
		retry:   retry,
		breaker: vacerrors.NewCircuitBreaker("elasticsearch"),
	}, nil
}

// esResponse is a fully read response.
type esResponse struct {
	status int
	body   []byte
}

func (r esResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// call runs one request through the retry loop and the circuit breaker.
// Transport failures and overload statuses are retried; every other status
// is returned for the caller to interpret.
func (c *ESCatalog) call(ctx context.Context, op string, fn func() (*esapi.Response, error)) (esResponse, error) {
	return vacerrors.RetryWithResult(ctx, c.retry, func() (esResponse, error) {
		return vacerrors.Execute(c.breaker, vacerrors.IsRetryable, func() (esResponse, error) {
			res, err := fn()
			if err != nil {
				return esResponse{}, vacerrors.UnavailableError(op+" failed", err)
			}
			defer res.Body.Close()

			body, err := io.ReadAll(res.Body)
			if err != nil {
				return esResponse{}, vacerrors.UnavailableError(op+": reading response failed", err)
			}
			switch res.StatusCode {
			case http.StatusTooManyRequests, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return esResponse{}, vacerrors.UnavailableError(
					fmt.Sprintf("%s: %s", op, res.Status()), nil).
					WithDetail("status", fmt.Sprint(res.StatusCode))
			}
			return esResponse{status: res.StatusCode, body: body}, nil
		})
	})
}

// esError is the error envelope Elasticsearch returns.
type esError struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// responseError maps a non-2xx response to a structured error.
func responseError(op, name string, res esResponse) error {
	var env esError
	_ = json.Unmarshal(res.body, &env)

	reason := env.Error.Reason
	if reason == "" {
		reason = http.StatusText(res.status)
	}
	msg := fmt.Sprintf("%s %s: %s", op, name, reason)

	switch env.Error.Type {
	case "index_not_found_exception":
		return vacerrors.New(vacerrors.ErrCodeIndexNotFound, msg, ErrIndexNotFound)
	case "index_closed_exception":
		return vacerrors.New(vacerrors.ErrCodeIndexClosed, msg, nil)
	case "resource_already_exists_exception", "invalid_alias_name_exception":
		return vacerrors.New(vacerrors.ErrCodeInvalidName, msg, ErrIndexExists)
	}
	if res.status == http.StatusNotFound {
		return vacerrors.New(vacerrors.ErrCodeIndexNotFound, msg, ErrIndexNotFound)
	}
	return vacerrors.CatalogError(msg, nil).WithDetail("status", fmt.Sprint(res.status))
}

func jsonBody(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return vacerrors.CatalogError("malformed elasticsearch response", err)
	}
	return nil
}

func (c *ESCatalog) mappingBody() []byte {
	props := map[string]any{
		"uuid":          map[string]string{"type": "keyword"},
		"tid":           map[string]string{"type": "long"},
		"parent_uuid":   map[string]string{"type": "keyword"},
		"type_name":     map[string]string{"type": "keyword"},
		"id":            map[string]string{"type": "keyword"},
		"title":         map[string]string{"type": "text"},
		"path":          map[string]string{"type": "keyword"},
		"depth":         map[string]string{"type": "integer"},
		"elastic_index": map[string]string{"type": "keyword"},
	}
	mappings := map[string]any{"properties": props}
	if c.cfg.DocType != "" {
		mappings = map[string]any{c.cfg.DocType: mappings}
	}
	return jsonBody(map[string]any{"mappings": mappings})
}

// CreateIndex creates an index with the document mapping.
func (c *ESCatalog) CreateIndex(ctx context.Context, index string) error {
	body := c.mappingBody()
	res, err := c.call(ctx, "create index", func() (*esapi.Response, error) {
		return c.es.Indices.Create(index,
			c.es.Indices.Create.WithBody(bytes.NewReader(body)),
			c.es.Indices.Create.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("create index", index, res)
	}
	return nil
}

// DeleteIndex deletes an index. An alias resolves to its index.
func (c *ESCatalog) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.call(ctx, "delete index", func() (*esapi.Response, error) {
		return c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("delete index", name, res)
	}
	return nil
}

// CloseIndex closes an index.
func (c *ESCatalog) CloseIndex(ctx context.Context, name string) error {
	res, err := c.call(ctx, "close index", func() (*esapi.Response, error) {
		return c.es.Indices.Close([]string{name}, c.es.Indices.Close.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("close index", name, res)
	}
	return nil
}

// IndexExists reports whether name is an index or an alias.
func (c *ESCatalog) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.call(ctx, "index exists", func() (*esapi.Response, error) {
		return c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	})
	if err != nil {
		return false, err
	}
	switch {
	case res.ok():
		return true, nil
	case res.status == http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("index exists", name, res)
	}
}

// PutAlias points alias at index.
func (c *ESCatalog) PutAlias(ctx context.Context, index, alias string) error {
	res, err := c.call(ctx, "put alias", func() (*esapi.Response, error) {
		return c.es.Indices.PutAlias([]string{index}, alias, c.es.Indices.PutAlias.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("put alias", alias, res)
	}
	return nil
}

// DeleteAlias removes alias from index.
func (c *ESCatalog) DeleteAlias(ctx context.Context, index, alias string) error {
	res, err := c.call(ctx, "delete alias", func() (*esapi.Response, error) {
		return c.es.Indices.DeleteAlias([]string{index}, []string{alias},
			c.es.Indices.DeleteAlias.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("delete alias", alias, res)
	}
	return nil
}

// AliasExists reports whether alias is defined.
func (c *ESCatalog) AliasExists(ctx context.Context, alias string) (bool, error) {
	res, err := c.call(ctx, "alias exists", func() (*esapi.Response, error) {
		return c.es.Indices.ExistsAlias([]string{alias}, c.es.Indices.ExistsAlias.WithContext(ctx))
	})
	if err != nil {
		return false, err
	}
	switch {
	case res.ok():
		return true, nil
	case res.status == http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("alias exists", alias, res)
	}
}

// Aliases lists every alias with the index it points at.
func (c *ESCatalog) Aliases(ctx context.Context) (map[string]string, error) {
	res, err := c.call(ctx, "get aliases", func() (*esapi.Response, error) {
		return c.es.Indices.GetAlias(c.es.Indices.GetAlias.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	if !res.ok() {
		return nil, responseError("get aliases", "_all", res)
	}

	var indices map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := decode(res.body, &indices); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for index, entry := range indices {
		for alias := range entry.Aliases {
			out[alias] = index
		}
	}
	return out, nil
}

// Bulk sends ops as one _bulk request. Deleting an absent document is not
// a failure.
func (c *ESCatalog) Bulk(ctx context.Context, name string, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, op := range ops {
		meta := map[string]string{"_id": op.ID}
		if c.cfg.DocType != "" {
			meta["_type"] = c.cfg.DocType
		}
		switch op.Op {
		case OpIndex:
			if op.Doc == nil {
				return vacerrors.ValidationError("index op without document for "+op.ID, nil)
			}
			buf.Write(jsonBody(map[string]any{"index": meta}))
			buf.WriteByte('\n')
			buf.Write(jsonBody(op.Doc))
			buf.WriteByte('\n')
		case OpDelete:
			buf.Write(jsonBody(map[string]any{"delete": meta}))
			buf.WriteByte('\n')
		default:
			return vacerrors.ValidationError(fmt.Sprintf("unknown bulk op %q", op.Op), nil)
		}
	}
	body := buf.Bytes()

	res, err := c.call(ctx, "bulk", func() (*esapi.Response, error) {
		return c.es.Bulk(bytes.NewReader(body),
			c.es.Bulk.WithIndex(name),
			c.es.Bulk.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("bulk", name, res)
	}

	var out struct {
		Errors bool                         `json:"errors"`
		Items  []map[string]bulkItemOutcome `json:"items"`
	}
	if err := decode(res.body, &out); err != nil {
		return err
	}
	if !out.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range out.Items {
		for action, outcome := range item {
			if outcome.Status < 300 || (action == "delete" && outcome.Status == http.StatusNotFound) {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("%s %s: %s", action, outcome.ID, outcome.Error.Reason)
			}
		}
	}
	if failed == 0 {
		return nil
	}
	return vacerrors.New(vacerrors.ErrCodeIndexFailed,
		fmt.Sprintf("bulk into %s: %d of %d actions failed (first: %s)", name, failed, len(ops), first), nil)
}

type bulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Reason string `json:"reason"`
	} `json:"error"`
}

// Get returns a stored document.
func (c *ESCatalog) Get(ctx context.Context, name, id string) (*Document, error) {
	res, err := c.call(ctx, "get", func() (*esapi.Response, error) {
		opts := []func(*esapi.GetRequest){c.es.Get.WithContext(ctx)}
		if c.cfg.DocType != "" {
			opts = append(opts, c.es.Get.WithDocumentType(c.cfg.DocType))
		}
		return c.es.Get(name, id, opts...)
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	if res.status == http.StatusNotFound {
		var env esError
		if json.Unmarshal(res.body, &env) == nil && env.Error.Type != "" {
			return nil, responseError("get", name, res)
		}
		return nil, fmt.Errorf("%s in %s: %w", id, name, ErrNotFound)
	}
	if !res.ok() {
		return nil, responseError("get", name, res)
	}
	if err := decode(res.body, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, fmt.Errorf("%s in %s: %w", id, name, ErrNotFound)
	}
	return documentFromFields(id, out.Source), nil
}

// esHit is one search hit.
type esHit struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index"`
	Source map[string]any `json:"_source"`
}

type esSearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

// scroll pages through every hit of query. A failure while continuing the
// scroll ends iteration without an error, as the scroll context may simply
// have expired; the next pass picks up whatever was skipped.
func (c *ESCatalog) scroll(ctx context.Context, name string, query map[string]any, fn func([]esHit) error) error {
	body := jsonBody(query)
	res, err := c.call(ctx, "search", func() (*esapi.Response, error) {
		return c.es.Search(
			c.es.Search.WithIndex(name),
			c.es.Search.WithBody(bytes.NewReader(body)),
			c.es.Search.WithScroll(c.cfg.ScrollKeepAlive),
			c.es.Search.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("search", name, res)
	}

	var page esSearchResponse
	if err := decode(res.body, &page); err != nil {
		return err
	}
	defer func() {
		if page.ScrollID != "" {
			c.clearScroll(page.ScrollID)
		}
	}()

	for len(page.Hits.Hits) > 0 {
		if err := fn(page.Hits.Hits); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		scrollID := page.ScrollID
		res, err := c.call(ctx, "scroll", func() (*esapi.Response, error) {
			return c.es.Scroll(
				c.es.Scroll.WithScrollID(scrollID),
				c.es.Scroll.WithScroll(c.cfg.ScrollContinue),
				c.es.Scroll.WithContext(ctx))
		})
		if err == nil && !res.ok() {
			err = responseError("scroll", name, res)
		}
		if err != nil {
			slog.Warn("scroll_continue_failed",
				slog.String("index", name),
				slog.String("error", err.Error()))
			return nil
		}

		var next esSearchResponse
		if err := decode(res.body, &next); err != nil {
			return err
		}
		if next.ScrollID == "" {
			next.ScrollID = scrollID
		}
		page = next
	}
	return nil
}

func (c *ESCatalog) clearScroll(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithScrollID(id),
		c.es.ClearScroll.WithContext(ctx))
	if err != nil {
		slog.Debug("clear_scroll_failed", slog.String("error", err.Error()))
		return
	}
	_ = res.Body.Close()
}

// ScrollIDs scrolls every id of name in _doc order.
func (c *ESCatalog) ScrollIDs(ctx context.Context, name string, pageSize int, fn IDPageFunc) error {
	if pageSize <= 0 {
		return vacerrors.ValidationError("page size must be positive", nil)
	}
	query := map[string]any{
		"query":   map[string]any{"match_all": map[string]any{}},
		"sort":    []string{"_doc"},
		"size":    pageSize,
		"_source": false,
	}
	return c.scroll(ctx, name, query, func(hits []esHit) error {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		return fn(ids)
	})
}

// maxResultWindow is the default index.max_result_window of Elasticsearch.
const maxResultWindow = 10000

// FetchByUUIDs runs ids queries across names. A uuid lives in one index, so
// a query for n uuids needs at most n hits; larger sets are split to stay
// inside the result window.
func (c *ESCatalog) FetchByUUIDs(ctx context.Context, names []string, uuids []string) ([]Hit, error) {
	if len(uuids) == 0 || len(names) == 0 {
		return nil, nil
	}
	var hits []Hit
	for start := 0; start < len(uuids); start += maxResultWindow {
		end := min(start+maxResultWindow, len(uuids))
		chunk, err := c.fetchByUUIDs(ctx, names, uuids[start:end])
		if err != nil {
			return nil, err
		}
		hits = append(hits, chunk...)
	}
	return hits, nil
}

func (c *ESCatalog) fetchByUUIDs(ctx context.Context, names []string, uuids []string) ([]Hit, error) {
	body := jsonBody(map[string]any{
		"query":   map[string]any{"ids": map[string]any{"values": uuids}},
		"_source": []string{"tid", "parent_uuid"},
		"size":    len(uuids),
	})
	res, err := c.call(ctx, "search", func() (*esapi.Response, error) {
		return c.es.Search(
			c.es.Search.WithIndex(names...),
			c.es.Search.WithBody(bytes.NewReader(body)),
			c.es.Search.WithIgnoreUnavailable(true),
			c.es.Search.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	if !res.ok() {
		return nil, responseError("search", fmt.Sprint(names), res)
	}

	var out esSearchResponse
	if err := decode(res.body, &out); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		hits = append(hits, Hit{
			ID:         h.ID,
			Index:      h.Index,
			TID:        intField(h.Source, "tid", MissingTID),
			ParentUUID: parentOrMissing(h.Source),
		})
	}
	return hits, nil
}

// DeleteByIDs runs delete-by-query on the ids.
func (c *ESCatalog) DeleteByIDs(ctx context.Context, name string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	body := jsonBody(map[string]any{
		"query": map[string]any{"ids": map[string]any{"values": ids}},
	})
	res, err := c.call(ctx, "delete by query", func() (*esapi.Response, error) {
		return c.es.DeleteByQuery([]string{name}, bytes.NewReader(body),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithRefresh(true),
			c.es.DeleteByQuery.WithContext(ctx))
	})
	if err != nil {
		return 0, err
	}
	if !res.ok() {
		return 0, responseError("delete by query", name, res)
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := decode(res.body, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// SubIndexOwners scrolls documents that have an elastic_index field.
func (c *ESCatalog) SubIndexOwners(ctx context.Context, name string) ([]SubIndexOwner, error) {
	query := map[string]any{
		"query":   map[string]any{"exists": map[string]any{"field": "elastic_index"}},
		"sort":    []string{"_doc"},
		"size":    1000,
		"_source": []string{"elastic_index"},
	}
	var owners []SubIndexOwner
	err := c.scroll(ctx, name, query, func(hits []esHit) error {
		for _, h := range hits {
			owners = append(owners, SubIndexOwner{UUID: h.ID, Index: stringField(h.Source, "elastic_index")})
		}
		return nil
	})
	return owners, err
}

// Refresh makes recent writes to name searchable.
func (c *ESCatalog) Refresh(ctx context.Context, name string) error {
	res, err := c.call(ctx, "refresh", func() (*esapi.Response, error) {
		return c.es.Indices.Refresh(
			c.es.Indices.Refresh.WithIndex(name),
			c.es.Indices.Refresh.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	if !res.ok() {
		return responseError("refresh", name, res)
	}
	return nil
}

// Close releases nothing; the HTTP client is shared.
func (c *ESCatalog) Close() error {
	return nil
}
