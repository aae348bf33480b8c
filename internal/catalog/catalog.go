// Package catalog abstracts the search catalog the vacuum reconciles against.
//
// Two backends are provided: BleveCatalog keeps one bleve index per catalog
// index on local disk (or in memory), and ESCatalog talks to an Elasticsearch
// cluster. Every name argument accepts either a concrete index or an alias.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

const (
	// MissingTID is reported for documents that carry no tid.
	MissingTID int64 = -1
	// MissingParent is reported for documents that carry no parent_uuid.
	MissingParent = "_missing_"
)

var (
	// ErrNotFound is returned by Get for unknown document ids.
	ErrNotFound = errors.New("document not found")
	// ErrIndexNotFound is returned when a name resolves to no index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned by CreateIndex for names already in use.
	ErrIndexExists = errors.New("index already exists")
)

// Document is the catalog representation of a content object.
type Document struct {
	UUID         string `json:"uuid"`
	TID          int64  `json:"tid"`
	ParentUUID   string `json:"parent_uuid"`
	TypeName     string `json:"type_name"`
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	Path         string `json:"path"`
	Depth        int    `json:"depth"`
	ElasticIndex string `json:"elastic_index,omitempty"`
}

// OpType is a bulk action.
type OpType string

const (
	OpIndex  OpType = "index"
	OpDelete OpType = "delete"
)

// BulkOp is one action of a Bulk request. Doc is ignored for deletes.
type BulkOp struct {
	Op  OpType
	ID  string
	Doc *Document
}

// Hit is the projection FetchByUUIDs returns for each found document.
type Hit struct {
	ID         string
	Index      string
	TID        int64
	ParentUUID string
}

// SubIndexOwner is a document in a main index that owns a sub-index.
type SubIndexOwner struct {
	UUID  string
	Index string
}

// IDPageFunc receives one page of document ids.
type IDPageFunc func(ids []string) error

// Catalog is the search catalog surface used by the indexer and the vacuum.
type Catalog interface {
	CreateIndex(ctx context.Context, index string) error
	DeleteIndex(ctx context.Context, name string) error
	CloseIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)

	PutAlias(ctx context.Context, index, alias string) error
	DeleteAlias(ctx context.Context, index, alias string) error
	AliasExists(ctx context.Context, alias string) (bool, error)
	// Aliases maps every alias to the concrete index it points at.
	Aliases(ctx context.Context) (map[string]string, error)

	Bulk(ctx context.Context, name string, ops []BulkOp) error
	Get(ctx context.Context, name, id string) (*Document, error)

	// ScrollIDs yields every document id of name in index order.
	ScrollIDs(ctx context.Context, name string, pageSize int, fn IDPageFunc) error
	// FetchByUUIDs looks the uuids up across names. Missing names are skipped.
	FetchByUUIDs(ctx context.Context, names []string, uuids []string) ([]Hit, error)
	// DeleteByIDs removes ids from name and reports how many were deleted.
	DeleteByIDs(ctx context.Context, name string, ids []string) (int, error)
	// SubIndexOwners lists documents of name that carry elastic_index.
	SubIndexOwners(ctx context.Context, name string) ([]SubIndexOwner, error)

	Refresh(ctx context.Context, name string) error
	Close() error
}

// fields flattens d for backends that index loose maps. Such backends keep
// numbers as float64, exact only up to 2^53, so the tid is stored a second
// time as a decimal string and read back from there.
func (d *Document) fields() map[string]any {
	m := map[string]any{
		"uuid":        d.UUID,
		"tid":         float64(d.TID),
		"tid_exact":   strconv.FormatInt(d.TID, 10),
		"parent_uuid": d.ParentUUID,
		"type_name":   d.TypeName,
		"id":          d.ID,
		"path":        d.Path,
		"depth":       float64(d.Depth),
	}
	if d.Title != "" {
		m["title"] = d.Title
	}
	if d.ElasticIndex != "" {
		m["elastic_index"] = d.ElasticIndex
	}
	return m
}

// documentFromFields is the inverse of fields. Absent numbers become
// MissingTID / 0.
func documentFromFields(id string, m map[string]any) *Document {
	d := &Document{
		UUID:         stringField(m, "uuid"),
		TID:          tidField(m),
		ParentUUID:   stringField(m, "parent_uuid"),
		TypeName:     stringField(m, "type_name"),
		ID:           stringField(m, "id"),
		Title:        stringField(m, "title"),
		Path:         stringField(m, "path"),
		Depth:        int(intField(m, "depth", 0)),
		ElasticIndex: stringField(m, "elastic_index"),
	}
	if d.UUID == "" {
		d.UUID = id
	}
	return d
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// tidField prefers the exact copy written by fields.
func tidField(m map[string]any) int64 {
	if v, ok := m["tid_exact"].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return intField(m, "tid", MissingTID)
}

func intField(m map[string]any, key string, missing int64) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return missing
}

func parentOrMissing(m map[string]any) string {
	if p := stringField(m, "parent_uuid"); p != "" {
		return p
	}
	return MissingParent
}
