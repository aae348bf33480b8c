// Package store provides access to the content database: the objects table
// that holds one row per content object, read page by page so that very
// large databases never have to fit in memory.
package store

import (
	"context"

	"github.com/Aman-CERP/esvacuum/internal/content"
)

// Cursor is a keyset position in (tid, zoid) order.
type Cursor struct {
	TID  int64
	ZOID string
}

// PageFunc receives one page of rows. Returning an error stops iteration.
type PageFunc func(page []content.Record) error

// ObjectStore is the read/write surface the vacuum and indexer need.
type ObjectStore interface {
	// EnsureSchema creates the objects table if missing.
	EnsureSchema(ctx context.Context) error
	// EnsureTIDIndex creates the (tid, zoid) index used by IterByTID.
	EnsureTIDIndex(ctx context.Context) error

	// ChildIDs returns the zoids whose parent is parentID.
	ChildIDs(ctx context.Context, parentID string) ([]string, error)
	// ExistingIDs returns the subset of ids that have a row.
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	// IterByTID pages through non-annotation rows in (tid, zoid) order,
	// starting at tid >= from.TID. It returns the cursor after the last row.
	IterByTID(ctx context.Context, from Cursor, pageSize int, fn PageFunc) (Cursor, error)
	// IterChildren walks the tree below parents breadth-first, one page at a time.
	IterChildren(ctx context.Context, parents []string, pageSize int, fn PageFunc) error

	// Load returns the full row for zoid or an error wrapping content.ErrNotFound.
	Load(ctx context.Context, zoid string) (content.Record, error)
	// Put inserts or replaces a row.
	Put(ctx context.Context, rec content.Record) error
	// Delete removes a single row.
	Delete(ctx context.Context, zoid string) error

	Close() error
}
