package catalog

import "fmt"

// Backend names a catalog implementation.
type Backend string

const (
	// BackendBleve keeps indexes on local disk, or in memory when the path
	// is empty (default).
	BackendBleve Backend = "bleve"
	// BackendElasticsearch talks to a cluster.
	BackendElasticsearch Backend = "elasticsearch"
)

// Backends lists the catalog implementations this build supports.
func Backends() []Backend {
	return []Backend{BackendBleve, BackendElasticsearch}
}

// Options selects and configures a backend.
type Options struct {
	Backend   string
	BlevePath string
	ES        ESConfig
}

// New creates the catalog named by opts.Backend.
func New(opts Options) (Catalog, error) {
	switch Backend(opts.Backend) {
	case BackendBleve, "":
		return NewBleveCatalog(opts.BlevePath)
	case BackendElasticsearch:
		return NewESCatalog(opts.ES)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s (valid options: bleve, elasticsearch)", opts.Backend)
	}
}
