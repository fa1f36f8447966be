package source

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLSource runs queries through database/sql. It backs the sqlite store
// kind, used for local exports of the conversation table.
type SQLSource struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
}

// OpenSQLite opens the sqlite file at path read-only.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLSource, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, wrap(ErrConnectivity, "opening sqlite", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap(ErrConnectivity, "opening sqlite", err)
	}
	return NewSQLSource(db, SQLite{}, log), nil
}

// NewSQLSource wraps an already opened database.
func NewSQLSource(db *sql.DB, dialect Dialect, log *zap.Logger) *SQLSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLSource{db: db, dialect: dialect, log: log}
}

func (s *SQLSource) Run(ctx context.Context, query string, args ...any) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(ErrQuery, "running query", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, wrap(ErrQuery, "reading columns", err)
	}
	t := &Table{Columns: cols}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrap(ErrQuery, "scanning row", err)
		}
		// Drivers may reuse []byte buffers between rows.
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrQuery, "reading rows", err)
	}

	s.log.Debug("sqlite query", zap.Int("rows", len(t.Rows)))
	return t, nil
}

func (s *SQLSource) Dialect() Dialect { return s.dialect }

func (s *SQLSource) Close() error { return s.db.Close() }
