// Package source provides read-only access to the conversation store.
//
// Every variant satisfies Source: it runs one parameterized query and
// returns the resulting table. The variant is chosen once by Open; callers
// never branch on it. Queries themselves come from the variant's Dialect.
package source

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackwell-systems/chatlens/internal/config"
)

// Store kinds accepted by Open.
const (
	KindPostgres = "postgres"
	KindProxy    = "proxy"
	KindSQLite   = "sqlite"
)

var (
	// ErrConnectivity reports that the store could not be reached or
	// rejected the credentials.
	ErrConnectivity = errors.New("store unreachable")

	// ErrQuery reports a malformed query, a missing table or column, or a
	// result that could not be decoded.
	ErrQuery = errors.New("query failed")
)

// Table is the raw result of a query: column names and positional rows.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Source executes read queries against the conversation store.
type Source interface {
	// Run executes query with bind arguments and returns every row.
	Run(ctx context.Context, query string, args ...any) (*Table, error)

	// Dialect returns the query builder matching this store.
	Dialect() Dialect

	// Close releases the underlying connection.
	Close() error
}

// Open constructs the Source variant selected by cfg.Kind.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Kind {
	case KindPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: database.url (CONNECTION_STRING) is not set", ErrConnectivity)
		}
		pg, err := OpenPostgres(ctx, cfg.URL, log)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case KindProxy:
		if cfg.ProxyURL == "" {
			return nil, fmt.Errorf("%w: database.proxy_url (SQL_PROXY_URL) is not set", ErrConnectivity)
		}
		return NewProxy(cfg.ProxyURL, cfg.ProxyToken, cfg.Timeout, log), nil
	case KindSQLite:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: database.url must name a sqlite file", ErrConnectivity)
		}
		lite, err := OpenSQLite(ctx, cfg.URL, log)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown database kind %q", cfg.Kind)
	}
}

// wrap tags err with one of the sentinel kinds while keeping the original
// error inspectable.
func wrap(kind error, what string, err error) error {
	return fmt.Errorf("%w: %s: %w", kind, what, err)
}
