package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite stores images in a single SQLite file. It backs local runs
// without a Postgres server.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListTables lists user tables.
func (s *SQLite) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// QueryRange reads the rows with minDepth <= depth <= maxDepth.
func (s *SQLite) QueryRange(ctx context.Context, table string, minDepth, maxDepth float64) (*Range, error) {
	depth := quoteIdent(DepthColumn)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= ? AND %s <= ? ORDER BY %s",
		quoteIdent(table), depth, depth, depth)

	rows, err := s.db.QueryContext(ctx, query, minDepth, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	out := &Range{Cols: len(cols) - 1}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if err := appendRow(out, values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Describe summarizes a table.
func (s *SQLite) Describe(ctx context.Context, table string) (*Info, error) {
	ident := quoteIdent(table)
	depth := quoteIdent(DepthColumn)

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+ident+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	info := &Info{Name: table, Cols: len(cols) - 1}
	var minDepth, maxDepth sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*), min(%s), max(%s) FROM %s", depth, depth, ident),
	).Scan(&info.Rows, &minDepth, &maxDepth)
	if err != nil {
		return nil, err
	}
	info.MinDepth = minDepth.Float64
	info.MaxDepth = maxDepth.Float64
	return info, nil
}

// ReplaceTable drops and recreates table inside one transaction.
func (s *SQLite) ReplaceTable(ctx context.Context, table string, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ident := quoteIdent(table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to drop %s: %w", table, err)
	}

	columns := sampleColumns(img.Width)
	defs := make([]string, 0, img.Width+1)
	quoted := make([]string, 0, img.Width+1)
	for _, c := range columns {
		defs = append(defs, quoteIdent(c)+" INTEGER")
		quoted = append(quoted, quoteIdent(c))
	}
	defs = append(defs, quoteIdent(DepthColumn)+" REAL")
	quoted = append(quoted, quoteIdent(DepthColumn))

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", img.Width+1), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident, strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, img.Width+1)
	for i := 0; i < img.Rows(); i++ {
		for j, v := range img.Row(i) {
			args[j] = int64(v)
		}
		args[img.Width] = img.Depth[i]
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, table, err)
		}
	}

	return tx.Commit()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
