package source

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSource talks to PostgreSQL directly through a pgx pool. Each Run
// is independent; no transaction spans calls.
type PostgresSource struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// OpenPostgres connects to the store at connString and verifies it answers.
func OpenPostgres(ctx context.Context, connString string, log *zap.Logger) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, wrap(ErrConnectivity, "connecting to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap(ErrConnectivity, "pinging postgres", err)
	}
	log.Debug("connected to postgres")
	return &PostgresSource{pool: pool, log: log}, nil
}

// Run executes query and collects every row. jsonb values arrive decoded
// (maps and slices), uuid values as [16]byte.
func (s *PostgresSource) Run(ctx context.Context, query string, args ...any) (*Table, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPg("running query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := &Table{Columns: make([]string, len(fields))}
	for i, f := range fields {
		t.Columns[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrap(ErrQuery, "decoding row", err)
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg("reading rows", err)
	}

	s.log.Debug("postgres query", zap.Int("rows", len(t.Rows)))
	return t, nil
}

func (s *PostgresSource) Dialect() Dialect { return Postgres{} }

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// classifyPg maps server errors to ErrQuery, except connection (08),
// authorization (28) and resource (53, 57P) classes, and any error that
// never reached the server, which are ErrConnectivity.
func classifyPg(what string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "28"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57P"):
			return wrap(ErrConnectivity, what, err)
		default:
			return wrap(ErrQuery, what, err)
		}
	}
	return wrap(ErrConnectivity, what, err)
}
