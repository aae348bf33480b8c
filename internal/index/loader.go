package index

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/esvacuum/internal/content"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

// maxDepth stops parent loading on cyclic or corrupt trees.
const maxDepth = 256

// ErrBrokenTree is returned when a parent chain loops or is too deep.
var ErrBrokenTree = errors.New("broken parent chain")

// ErrDetached is returned for objects whose parent chain ends in the trash
// or never reaches a container. It wraps content.ErrNotFound.
var ErrDetached = fmt.Errorf("detached from container: %w", content.ErrNotFound)

// Loader decodes objects and links their parents, caching recent objects.
type Loader struct {
	store store.ObjectStore
	cache *lru.Cache[string, *content.Resource]
}

// NewLoader creates a loader caching up to size objects.
func NewLoader(s store.ObjectStore, size int) (*Loader, error) {
	cache, err := lru.New[string, *content.Resource](size)
	if err != nil {
		return nil, fmt.Errorf("create object cache: %w", err)
	}
	return &Loader{store: s, cache: cache}, nil
}

// Load returns oid with its parent chain loaded up to the container.
// Objects in the trash, or below it, fail with ErrDetached.
func (l *Loader) Load(ctx context.Context, oid string) (*content.Resource, error) {
	return l.load(ctx, oid, 0)
}

func (l *Loader) load(ctx context.Context, oid string, depth int) (*content.Resource, error) {
	if res, ok := l.cache.Get(oid); ok {
		return res, nil
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("%s: %w", oid, ErrBrokenTree)
	}

	rec, err := l.store.Load(ctx, oid)
	if err != nil {
		return nil, err
	}
	res, err := content.Decode(rec)
	if err != nil {
		return nil, err
	}

	if !res.IsContainer() {
		if content.IsSystemOID(res.ParentOID) || res.ParentOID == "" {
			return nil, fmt.Errorf("%s: %w", oid, ErrDetached)
		}
		parent, err := l.load(ctx, res.ParentOID, depth+1)
		if err != nil {
			return nil, fmt.Errorf("load parent of %s: %w", oid, err)
		}
		res.Parent = parent
	}

	l.cache.Add(oid, res)
	return res, nil
}

// Forget drops oid from the cache.
func (l *Loader) Forget(oid string) {
	l.cache.Remove(oid)
}
