package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/content"
)

// SubIndex is an installed sub-index alias and the index behind it.
type SubIndex struct {
	Alias string
	Index string
}

// ContentSubIndex is a sub-index referenced by an owner document.
type ContentSubIndex struct {
	Index string
	OID   string
}

// Manager installs and removes the indexes of a container.
type Manager struct {
	catalog  catalog.Catalog
	naming   Naming
	subTypes map[string]bool
}

// NewManager creates a manager. Objects whose type is in subIndexTypes
// own a sub-index holding their descendants.
func NewManager(cat catalog.Catalog, naming Naming, subIndexTypes []string) *Manager {
	types := make(map[string]bool, len(subIndexTypes))
	for _, t := range subIndexTypes {
		types[t] = true
	}
	return &Manager{catalog: cat, naming: naming, subTypes: types}
}

// Catalog returns the managed catalog.
func (m *Manager) Catalog() catalog.Catalog {
	return m.catalog
}

// IndexName returns the main alias of container.
func (m *Manager) IndexName(container *content.Resource) string {
	return m.naming.MainAlias(container)
}

// OwnsSubIndex reports whether res gets its own sub-index.
func (m *Manager) OwnsSubIndex(res *content.Resource) bool {
	return m.subTypes[res.TypeName]
}

// SubIndexName returns the sub-index alias owned by res.
func (m *Manager) SubIndexName(res *content.Resource) string {
	return SubAlias(m.IndexName(res.Container()), res)
}

// IndexFor returns the alias res is indexed into: the sub-index of its
// nearest owning ancestor, or the main index of its container.
func (m *Manager) IndexFor(res *content.Resource) string {
	for _, anc := range res.Ancestors() {
		if m.OwnsSubIndex(anc) {
			return m.SubIndexName(anc)
		}
	}
	return m.IndexName(res.Container())
}

// Install creates the main index of container and its alias if missing.
func (m *Manager) Install(ctx context.Context, container *content.Resource) error {
	return m.installAlias(ctx, m.IndexName(container))
}

// InstallSubIndex creates the sub-index owned by owner and returns its alias.
func (m *Manager) InstallSubIndex(ctx context.Context, owner *content.Resource) (string, error) {
	alias := m.SubIndexName(owner)
	if err := m.installAlias(ctx, alias); err != nil {
		return "", err
	}
	return alias, nil
}

func (m *Manager) installAlias(ctx context.Context, alias string) error {
	exists, err := m.catalog.AliasExists(ctx, alias)
	if err != nil || exists {
		return err
	}

	index := ConcreteIndex(alias)
	if err := m.catalog.CreateIndex(ctx, index); err != nil && !errors.Is(err, catalog.ErrIndexExists) {
		return err
	}
	if err := m.catalog.PutAlias(ctx, index, alias); err != nil {
		return err
	}
	slog.Info("index_installed", slog.String("alias", alias), slog.String("index", index))
	return nil
}

// RemoveSubIndex closes the index behind alias, drops the alias and deletes
// the index. Missing pieces are skipped.
func (m *Manager) RemoveSubIndex(ctx context.Context, alias string) error {
	aliases, err := m.catalog.Aliases(ctx)
	if err != nil {
		return err
	}
	index, ok := aliases[alias]
	if !ok {
		index = ConcreteIndex(alias)
	}
	return m.removeIndex(ctx, SubIndex{Alias: alias, Index: index}, ok)
}

func (m *Manager) removeIndex(ctx context.Context, sub SubIndex, hasAlias bool) error {
	if err := m.catalog.CloseIndex(ctx, sub.Index); err != nil && !errors.Is(err, catalog.ErrIndexNotFound) {
		return err
	}
	if hasAlias {
		if err := m.catalog.DeleteAlias(ctx, sub.Index, sub.Alias); err != nil && !errors.Is(err, catalog.ErrIndexNotFound) {
			return err
		}
	}
	if err := m.catalog.DeleteIndex(ctx, sub.Index); err != nil && !errors.Is(err, catalog.ErrIndexNotFound) {
		return err
	}
	slog.Info("sub_index_removed", slog.String("alias", sub.Alias), slog.String("index", sub.Index))
	return nil
}

// InstalledSubIndexes lists sub-index aliases of container present in the
// catalog, sorted by alias.
func (m *Manager) InstalledSubIndexes(ctx context.Context, container *content.Resource) ([]SubIndex, error) {
	aliases, err := m.catalog.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	main := m.IndexName(container)
	var subs []SubIndex
	for alias, index := range aliases {
		if IsSubAliasOf(main, alias) {
			subs = append(subs, SubIndex{Alias: alias, Index: index})
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Alias < subs[j].Alias })
	return subs, nil
}

// ContentSubIndexes lists the sub-indexes referenced by owner documents in
// the main index of container.
func (m *Manager) ContentSubIndexes(ctx context.Context, container *content.Resource) ([]ContentSubIndex, error) {
	owners, err := m.catalog.SubIndexOwners(ctx, m.IndexName(container))
	if errors.Is(err, catalog.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	subs := make([]ContentSubIndex, 0, len(owners))
	for _, o := range owners {
		subs = append(subs, ContentSubIndex{Index: o.Index, OID: o.UUID})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Index < subs[j].Index })
	return subs, nil
}

// CleanOrphanIndexes removes installed sub-indexes that no owner document
// references any more, returning the removed aliases.
func (m *Manager) CleanOrphanIndexes(ctx context.Context, container *content.Resource) ([]string, error) {
	installed, err := m.InstalledSubIndexes(ctx, container)
	if err != nil {
		return nil, err
	}
	if len(installed) == 0 {
		return nil, nil
	}
	owned, err := m.ContentSubIndexes(ctx, container)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool, len(owned))
	for _, o := range owned {
		referenced[o.Index] = true
	}

	var removed []string
	for _, sub := range installed {
		if referenced[sub.Alias] {
			continue
		}
		slog.Warn("orphaned_sub_index",
			slog.String("container", container.ID),
			slog.String("alias", sub.Alias))
		if err := m.removeIndex(ctx, sub, true); err != nil {
			return removed, err
		}
		removed = append(removed, sub.Alias)
	}
	return removed, nil
}
