package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/esvacuum/internal/content"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

// Config selects the database and objects table.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path (or ":memory:") for sqlite and a connection string
	// for postgres.
	DSN string
	// Table is the objects table name. Defaults to "objects".
	Table string
}

// SQLStore implements ObjectStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	table   string
}

// Verify interface implementation at compile time
var _ ObjectStore = (*SQLStore)(nil)

// columns selected for iteration. State is left out; Load fetches it.
const iterColumns = `zoid, tid, parent_id, id, type`

// Open connects to the content database.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, vacerrors.ValidationError(err.Error(), nil)
	}
	table := cfg.Table
	if table == "" {
		table = "objects"
	}

	dsn := cfg.DSN
	sqlite := cfg.Driver == "sqlite"
	if sqlite {
		if dsn == "" {
			dsn = ":memory:"
		}
		if !isMemory(dsn) {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, vacerrors.StorageError("failed to create database directory", err)
			}
		}
	}

	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeDatabaseOpen, "failed to open database", err)
	}

	if sqlite {
		// Single writer to prevent lock contention. Also keeps :memory:
		// databases alive across queries.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, vacerrors.New(vacerrors.ErrCodeDatabaseOpen, "failed to set pragma", err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, vacerrors.New(vacerrors.ErrCodeDatabaseOpen, "database unreachable", err).
			WithDetail("driver", cfg.Driver)
	}

	slog.Debug("content_db_opened",
		slog.String("driver", cfg.Driver),
		slog.String("table", table))

	return &SQLStore{db: db, dialect: d, table: table}, nil
}

// DB exposes the underlying handle for tests and seeding tools.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
	if err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "query failed", err)
	}
	return rows, nil
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(q), args...); err != nil {
		return vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "statement failed", err)
	}
	return nil
}

// EnsureSchema creates the objects table if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		zoid VARCHAR(64) NOT NULL PRIMARY KEY,
		tid BIGINT NOT NULL,
		parent_id VARCHAR(64),
		"of" VARCHAR(64),
		id TEXT,
		type TEXT,
		state %s
	)`, s.table, s.dialect.blobType())
	if err := s.exec(ctx, ddl); err != nil {
		return err
	}
	return s.exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_parent ON %s (parent_id, zoid)`, s.table, s.table))
}

// EnsureTIDIndex creates the (tid, zoid) index. On postgres it is built
// concurrently, which cannot run inside a transaction and may fail on
// read-only replicas; callers treat failures as non-fatal.
func (s *SQLStore) EnsureTIDIndex(ctx context.Context) error {
	return s.exec(ctx, s.dialect.tidIndexDDL(s.table))
}

// ChildIDs returns the zoids whose parent is parentID.
func (s *SQLStore) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.query(ctx,
		fmt.Sprintf(`SELECT zoid FROM %s WHERE parent_id = ? ORDER BY zoid`, s.table), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "scan failed", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExistingIDs returns the subset of ids that have a row.
func (s *SQLStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	for _, chunk := range chunks(ids, s.dialect.maxInArgs()) {
		cond, args := s.dialect.inClause("zoid", chunk)
		rows, err := s.query(ctx, fmt.Sprintf(`SELECT zoid FROM %s WHERE %s`, s.table, cond), args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "scan failed", err)
			}
			found[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "row iteration failed", err)
		}
	}
	return found, nil
}

// IterByTID pages through non-annotation rows in (tid, zoid) order. The
// first page starts at tid >= from.TID; later pages continue strictly after
// the last row seen, so ties on tid are never skipped.
func (s *SQLStore) IterByTID(ctx context.Context, from Cursor, pageSize int, fn PageFunc) (Cursor, error) {
	if pageSize <= 0 {
		return from, vacerrors.ValidationError("page size must be positive", nil)
	}
	cur := from
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return cur, err
		}

		var (
			q    string
			args []any
		)
		if first {
			q = fmt.Sprintf(`SELECT %s FROM %s WHERE "of" IS NULL AND tid >= ?
				ORDER BY tid ASC, zoid ASC LIMIT ?`, iterColumns, s.table)
			args = []any{cur.TID, pageSize}
		} else {
			q = fmt.Sprintf(`SELECT %s FROM %s WHERE "of" IS NULL
				AND (tid > ? OR (tid = ? AND zoid > ?))
				ORDER BY tid ASC, zoid ASC LIMIT ?`, iterColumns, s.table)
			args = []any{cur.TID, cur.TID, cur.ZOID, pageSize}
		}

		page, err := s.fetchPage(ctx, q, args...)
		if err != nil {
			return cur, err
		}
		if len(page) == 0 {
			return cur, nil
		}
		first = false
		last := page[len(page)-1]
		cur = Cursor{TID: last.TID, ZOID: last.ZOID}

		if err := fn(page); err != nil {
			return cur, err
		}
		if len(page) < pageSize {
			return cur, nil
		}
	}
}

// IterChildren walks the tree below parents breadth-first. Each level is
// queried in chunks of pageSize parents and paged by (parent_id, zoid).
func (s *SQLStore) IterChildren(ctx context.Context, parents []string, pageSize int, fn PageFunc) error {
	if pageSize <= 0 {
		return vacerrors.ValidationError("page size must be positive", nil)
	}
	limit := min(pageSize, s.dialect.maxInArgs())
	level := parents
	for len(level) > 0 {
		var next []string
		for _, chunk := range chunks(level, limit) {
			cond, inArgs := s.dialect.inClause("parent_id", chunk)
			lastParent, lastZOID := "", ""
			first := true
			for {
				if err := ctx.Err(); err != nil {
					return err
				}

				var (
					q    string
					args []any
				)
				if first {
					q = fmt.Sprintf(`SELECT %s FROM %s WHERE "of" IS NULL AND %s
						ORDER BY parent_id ASC, zoid ASC LIMIT ?`, iterColumns, s.table, cond)
					args = append(append(args, inArgs...), pageSize)
				} else {
					q = fmt.Sprintf(`SELECT %s FROM %s WHERE "of" IS NULL AND %s
						AND (parent_id > ? OR (parent_id = ? AND zoid > ?))
						ORDER BY parent_id ASC, zoid ASC LIMIT ?`, iterColumns, s.table, cond)
					args = append(append(args, inArgs...), lastParent, lastParent, lastZOID, pageSize)
				}

				page, err := s.fetchPage(ctx, q, args...)
				if err != nil {
					return err
				}
				if len(page) == 0 {
					break
				}
				first = false
				last := page[len(page)-1]
				lastParent, lastZOID = last.ParentID, last.ZOID
				for _, rec := range page {
					next = append(next, rec.ZOID)
				}

				if err := fn(page); err != nil {
					return err
				}
				if len(page) < pageSize {
					break
				}
			}
		}
		level = next
	}
	return nil
}

func (s *SQLStore) fetchPage(ctx context.Context, q string, args ...any) ([]content.Record, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []content.Record
	for rows.Next() {
		var (
			rec             content.Record
			parent, id, typ sql.NullString
		)
		if err := rows.Scan(&rec.ZOID, &rec.TID, &parent, &id, &typ); err != nil {
			return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "scan failed", err)
		}
		rec.ParentID, rec.ID, rec.Type = parent.String, id.String, typ.String
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "row iteration failed", err)
	}
	return page, nil
}

// Load returns the full row for zoid.
func (s *SQLStore) Load(ctx context.Context, zoid string) (content.Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(fmt.Sprintf(
		`SELECT zoid, tid, parent_id, "of", id, type, state FROM %s WHERE zoid = ?`, s.table)), zoid)

	var (
		rec                 content.Record
		parent, of, id, typ sql.NullString
	)
	err := row.Scan(&rec.ZOID, &rec.TID, &parent, &of, &id, &typ, &rec.State)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Record{}, vacerrors.New(vacerrors.ErrCodeObjectNotFound,
			"object "+zoid+" not found", content.ErrNotFound)
	}
	if err != nil {
		return content.Record{}, vacerrors.New(vacerrors.ErrCodeDatabaseQuery, "load failed", err)
	}
	rec.ParentID, rec.Of, rec.ID, rec.Type = parent.String, of.String, id.String, typ.String
	return rec, nil
}

// Put inserts or replaces a row.
func (s *SQLStore) Put(ctx context.Context, rec content.Record) error {
	q := fmt.Sprintf(`INSERT INTO %s (zoid, tid, parent_id, "of", id, type, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (zoid) DO UPDATE SET
			tid = excluded.tid, parent_id = excluded.parent_id, "of" = excluded."of",
			id = excluded.id, type = excluded.type, state = excluded.state`, s.table)
	return s.exec(ctx, q, rec.ZOID, rec.TID, nullable(rec.ParentID), nullable(rec.Of),
		rec.ID, rec.Type, rec.State)
}

// Delete removes a single row. Deleting a missing row is not an error.
func (s *SQLStore) Delete(ctx context.Context, zoid string) error {
	return s.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE zoid = ?`, s.table), zoid)
}

// DeleteTree removes zoid and every row below it.
func (s *SQLStore) DeleteTree(ctx context.Context, zoid string) error {
	ids := []string{zoid}
	err := s.IterChildren(ctx, []string{zoid}, 500, func(page []content.Record) error {
		for _, rec := range page {
			ids = append(ids, rec.ZOID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, chunk := range chunks(ids, s.dialect.maxInArgs()) {
		cond, args := s.dialect.inClause("zoid", chunk)
		if err := s.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, s.table, cond), args...); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func chunks(ids []string, size int) [][]string {
	if size <= 0 || len(ids) <= size {
		if len(ids) == 0 {
			return nil
		}
		return [][]string{ids}
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// isMemory reports whether dsn names an in-memory sqlite database.
func isMemory(dsn string) bool {
	return dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
