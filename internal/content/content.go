// Package content models the objects stored in the content database:
// containers, folders and items arranged in a tree under the root object.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// RootID is the OID of the database root. Containers hang off it.
	RootID = "00000000000000000000000000000000"
	// TrashedID is the OID objects are reparented to when trashed.
	TrashedID = "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD"

	// OIDDelimiter separates the parent prefix from the object's own id.
	OIDDelimiter = "|"
	// oidPrefixLength is how many chars of the parent's short OID are kept.
	oidPrefixLength = 3
)

// ErrNotFound is returned when an OID has no row in the content database.
var ErrNotFound = errors.New("object not found")

// GenerateOID returns a fresh OID for a child of parentOID. Children of the
// root (containers) get a bare UUID.
func GenerateOID(parentOID string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if parentOID == "" || parentOID == RootID {
		return id
	}
	return ChildPrefix(parentOID) + id
}

// ShortOID strips the parent prefix from oid.
func ShortOID(oid string) string {
	if i := strings.LastIndex(oid, OIDDelimiter); i >= 0 {
		return oid[i+len(OIDDelimiter):]
	}
	return oid
}

// OIDPrefix returns everything before the last delimiter, or "" when oid
// has no prefix.
func OIDPrefix(oid string) string {
	if i := strings.LastIndex(oid, OIDDelimiter); i >= 0 {
		return oid[:i]
	}
	return ""
}

// ChildPrefix is the prefix GenerateOID gives to children of oid,
// including the delimiter.
func ChildPrefix(oid string) string {
	prefix := ShortOID(oid)
	if len(prefix) > oidPrefixLength {
		prefix = prefix[:oidPrefixLength]
	}
	return prefix + OIDDelimiter
}

// IsSystemOID reports whether oid is the root or the trash.
func IsSystemOID(oid string) bool {
	return oid == RootID || oid == TrashedID
}

// Record is one row of the objects table.
type Record struct {
	ZOID     string
	TID      int64
	ParentID string
	// Of is set for annotation rows, which are never indexed.
	Of    string
	ID    string
	Type  string
	State []byte
}

// State is the JSON payload stored for each object.
type State struct {
	Title string         `json:"title,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Resource is a decoded content object linked to its loaded parent.
type Resource struct {
	OID       string
	ID        string
	TypeName  string
	Title     string
	ParentOID string
	TID       int64
	Data      map[string]any

	// Parent is nil for containers and for objects whose parent was not loaded.
	Parent *Resource
}

// Decode builds a Resource from a stored row. The parent link is left for
// the caller to fill in.
func Decode(rec Record) (*Resource, error) {
	res := &Resource{
		OID:       rec.ZOID,
		ID:        rec.ID,
		TypeName:  rec.Type,
		ParentOID: rec.ParentID,
		TID:       rec.TID,
	}
	if len(rec.State) == 0 {
		return res, nil
	}

	var st State
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", rec.ZOID, err)
	}
	res.Title = st.Title
	res.Data = st.Data
	return res, nil
}

// Encode is the inverse of Decode.
func Encode(res *Resource) (Record, error) {
	state, err := json.Marshal(State{Title: res.Title, Data: res.Data})
	if err != nil {
		return Record{}, fmt.Errorf("encode state of %s: %w", res.OID, err)
	}
	return Record{
		ZOID:     res.OID,
		TID:      res.TID,
		ParentID: res.ParentOID,
		ID:       res.ID,
		Type:     res.TypeName,
		State:    state,
	}, nil
}

// IsContainer reports whether res sits directly under the root.
func (r *Resource) IsContainer() bool {
	return r.ParentOID == RootID
}

// Container walks up the loaded parents to the container.
func (r *Resource) Container() *Resource {
	cur := r
	for cur.Parent != nil && !cur.IsContainer() {
		cur = cur.Parent
	}
	return cur
}

// Path returns the slash-separated path below the container. The container
// itself is "/".
func (r *Resource) Path() string {
	var parts []string
	for cur := r; cur != nil && !cur.IsContainer(); cur = cur.Parent {
		parts = append(parts, cur.ID)
	}
	if len(parts) == 0 {
		return "/"
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Depth is the number of path segments below the container.
func (r *Resource) Depth() int {
	depth := 0
	for cur := r; cur != nil && !cur.IsContainer(); cur = cur.Parent {
		depth++
	}
	return depth
}

// Ancestors returns loaded parents from the nearest up to the container.
func (r *Resource) Ancestors() []*Resource {
	var out []*Resource
	for cur := r.Parent; cur != nil; cur = cur.Parent {
		out = append(out, cur)
		if cur.IsContainer() {
			break
		}
	}
	return out
}
