package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// dialect hides the placeholder and array differences between drivers.
type dialect interface {
	// driverName is the database/sql driver to open.
	driverName() string
	// rebind rewrites ? placeholders into the driver's syntax.
	rebind(query string) string
	// inClause returns a condition matching col against vals and its args.
	inClause(col string, vals []string) (string, []any)
	// maxInArgs caps the number of values per inClause.
	maxInArgs() int
	// blobType is the column type for object state.
	blobType() string
	// tidIndexDDL creates the (tid, zoid) index.
	tidIndexDDL(table string) string
}

// Drivers lists the database drivers Open accepts.
func Drivers() []string {
	return []string{"sqlite", "postgres"}
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) inClause(col string, vals []string) (string, []any) {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",") + ")", args
}

// SQLite's default host parameter limit is 999 on older builds.
func (sqliteDialect) maxInArgs() int { return 900 }

func (sqliteDialect) blobType() string { return "BLOB" }

func (sqliteDialect) tidIndexDDL(table string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tid_zoid ON %s (tid ASC, zoid ASC)`, table, table)
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }

func (postgresDialect) rebind(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (postgresDialect) inClause(col string, vals []string) (string, []any) {
	return col + " = ANY(?)", []any{pq.Array(vals)}
}

func (postgresDialect) maxInArgs() int { return 1 << 20 }

func (postgresDialect) blobType() string { return "BYTEA" }

func (postgresDialect) tidIndexDDL(table string) string {
	return fmt.Sprintf(`CREATE INDEX CONCURRENTLY IF NOT EXISTS %s_tid_zoid ON %s (tid ASC, zoid ASC)`, table, table)
}
