// Package index names, installs and fills the catalog indexes of a
// container: one main index per container plus one sub-index per content
// object whose type asks for its own index.
package index

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/esvacuum/internal/content"
)

const (
	// Version is the schema version prefixed to concrete index names.
	Version = 1
	// SubIndexSeparator joins a main alias and a sub-index suffix.
	SubIndexSeparator = "__"
)

// Naming derives index names from the database and container.
type Naming struct {
	Prefix   string
	Database string
}

// MainAlias is the alias of a container's main index,
// e.g. "guillotina-db-guillotina".
func (n Naming) MainAlias(container *content.Resource) string {
	return n.Prefix + n.Database + "-" + container.ID
}

// ConcreteIndex is the real index behind alias.
func ConcreteIndex(alias string) string {
	return fmt.Sprintf("%d_%s", Version, alias)
}

// SubAlias is the alias of the sub-index owned by owner,
// e.g. "guillotina-db-guillotina__uniqueindexcontent-<short oid>".
func SubAlias(mainAlias string, owner *content.Resource) string {
	return mainAlias + SubIndexSeparator + strings.ToLower(owner.TypeName) + "-" + content.ShortOID(owner.OID)
}

// IsSubAliasOf reports whether alias names a sub-index of mainAlias.
func IsSubAliasOf(mainAlias, alias string) bool {
	return strings.HasPrefix(alias, mainAlias+SubIndexSeparator)
}
