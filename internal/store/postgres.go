package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/depthslice/server/internal/logging"
)

var logger = logging.NewLogger()

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// Postgres stores images in the public schema of a Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	logger.Debug().Msg("connecting to postgres...")
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	config.MinConns = 1
	config.HealthCheckPeriod = time.Second * 5
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Debug().Msg("connected to postgres")
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ListTables lists the tables of the public schema.
func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tablename
		FROM pg_catalog.pg_tables
		WHERE schemaname = 'public'
		ORDER BY tablename
	`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = make([]string, 0)
	}
	return names, nil
}

// QueryRange reads the rows with minDepth <= depth <= maxDepth.
func (p *Postgres) QueryRange(ctx context.Context, table string, minDepth, maxDepth float64) (*Range, error) {
	sql := fmt.Sprintf(`SELECT * FROM %s WHERE %s >= $1 AND %s <= $2 ORDER BY %s`,
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{DepthColumn}.Sanitize(),
		pgx.Identifier{DepthColumn}.Sanitize(),
		pgx.Identifier{DepthColumn}.Sanitize(),
	)
	rows, err := p.pool.Query(ctx, sql, minDepth, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if len(fields) == 0 {
		return nil, ErrNoColumns
	}
	out := &Range{Cols: len(fields) - 1}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
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
func (p *Postgres) Describe(ctx context.Context, table string) (*Info, error) {
	ident := pgx.Identifier{table}.Sanitize()
	depth := pgx.Identifier{DepthColumn}.Sanitize()

	rows, err := p.pool.Query(ctx, "SELECT * FROM "+ident+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	nFields := len(rows.FieldDescriptions())
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if nFields == 0 {
		return nil, ErrNoColumns
	}

	info := &Info{Name: table, Cols: nFields - 1}
	var minDepth, maxDepth *float64
	err = p.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*), min(%s)::float8, max(%s)::float8 FROM %s", depth, depth, ident),
	).Scan(&info.Rows, &minDepth, &maxDepth)
	if err != nil {
		return nil, err
	}
	if minDepth != nil {
		info.MinDepth = *minDepth
	}
	if maxDepth != nil {
		info.MaxDepth = *maxDepth
	}
	return info, nil
}

// ReplaceTable drops and recreates table inside one transaction, then
// bulk-loads img with COPY.
func (p *Postgres) ReplaceTable(ctx context.Context, table string, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ident := pgx.Identifier{table}
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
		return fmt.Errorf("failed to drop %s: %w", table, err)
	}

	columns := append(sampleColumns(img.Width), DepthColumn)
	defs := make([]string, 0, len(columns))
	for _, c := range columns[:img.Width] {
		defs = append(defs, pgx.Identifier{c}.Sanitize()+" smallint")
	}
	defs = append(defs, pgx.Identifier{DepthColumn}.Sanitize()+" double precision")
	create := fmt.Sprintf("CREATE TABLE %s (%s)", ident.Sanitize(), strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, create); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromSlice(img.Rows(), func(i int) ([]any, error) {
		row := make([]any, 0, img.Width+1)
		for _, v := range img.Row(i) {
			row = append(row, v)
		}
		return append(row, img.Depth[i]), nil
	}))
	if err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", table, err)
	}
	if int(n) != img.Rows() {
		return fmt.Errorf("copied %d of %d rows into %s", n, img.Rows(), table)
	}

	return tx.Commit(ctx)
}
