package source

import (
	"fmt"
	"regexp"
	"strings"
)

// identPattern is the only identifier shape chatlens will place in a query.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent validates name and returns it double-quoted.
func QuoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid identifier %q", ErrQuery, name)
	}
	return `"` + name + `"`, nil
}

// SampleQuery describes one Bernoulli sample of a table.
type SampleQuery struct {
	Table          string
	MessagesColumn string
	Percent        float64
	Limit          int
	ExcludeEmpty   bool
}

// Dialect builds the queries chatlens issues. Values travel as bind
// arguments; only validated identifiers are spliced into the text.
type Dialect interface {
	Name() string

	// EstimateRows returns a query yielding one integer: the approximate
	// number of rows in table.
	EstimateRows(table string) (string, []any, error)

	// Sample returns a single-pass probabilistic sample query.
	Sample(q SampleQuery) (string, []any, error)

	// ListTables returns a query yielding table names matching any of the
	// LIKE patterns.
	ListTables(patterns []string) (string, []any)

	// DescribeTable returns a query yielding column name, data type and
	// nullability ("YES"/"NO") in ordinal order.
	DescribeTable(table string) (string, []any, error)
}

// Postgres is the dialect of direct and proxied PostgreSQL stores.
type Postgres struct{}

func (Postgres) Name() string { return KindPostgres }

// EstimateRows reads the planner's reltuples statistic. It may be stale,
// and is -1 for tables that were never analyzed.
func (Postgres) EstimateRows(table string) (string, []any, error) {
	if _, err := QuoteIdent(table); err != nil {
		return "", nil, err
	}
	return `SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, []any{table}, nil
}

func (Postgres) Sample(q SampleQuery) (string, []any, error) {
	tbl, err := QuoteIdent(q.Table)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(tbl)
	sb.WriteString(" TABLESAMPLE BERNOULLI ($1)")
	if q.ExcludeEmpty {
		col, err := QuoteIdent(q.MessagesColumn)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&sb, " WHERE %s IS NOT NULL AND jsonb_array_length(%s) > 0", col, col)
	}
	sb.WriteString(" LIMIT $2")
	return sb.String(), []any{q.Percent, q.Limit}, nil
}

func (Postgres) ListTables(patterns []string) (string, []any) {
	conds := make([]string, len(patterns))
	args := make([]any, len(patterns))
	for i, p := range patterns {
		conds[i] = fmt.Sprintf("table_name LIKE $%d", i+1)
		args[i] = p
	}
	q := "SELECT table_name FROM information_schema.tables"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " OR ")
	}
	return q + " ORDER BY table_name", args
}

func (Postgres) DescribeTable(table string) (string, []any, error) {
	if _, err := QuoteIdent(table); err != nil {
		return "", nil, err
	}
	return `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, []any{table}, nil
}

// SQLite is the dialect of local sqlite exports. It has no TABLESAMPLE,
// so each row is kept when a fresh random draw falls under the threshold.
type SQLite struct{}

// sqliteDraws is the resolution of the per-row random draw.
const sqliteDraws = 1_000_000

func (SQLite) Name() string { return KindSQLite }

// EstimateRows counts exactly; sqlite keeps no row estimate by default.
func (SQLite) EstimateRows(table string) (string, []any, error) {
	tbl, err := QuoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + tbl, nil, nil
}

func (SQLite) Sample(q SampleQuery) (string, []any, error) {
	tbl, err := QuoteIdent(q.Table)
	if err != nil {
		return "", nil, err
	}
	threshold := int64(q.Percent / 100 * sqliteDraws)

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(tbl)
	// Masking the sign bit avoids abs() overflow on the minimum int64.
	fmt.Fprintf(&sb, " WHERE ((random() & 9223372036854775807) %% %d) < ?", sqliteDraws)
	if q.ExcludeEmpty {
		col, err := QuoteIdent(q.MessagesColumn)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&sb, " AND %s IS NOT NULL AND json_array_length(%s) > 0", col, col)
	}
	sb.WriteString(" LIMIT ?")
	return sb.String(), []any{threshold, q.Limit}, nil
}

func (SQLite) ListTables(patterns []string) (string, []any) {
	conds := make([]string, len(patterns))
	args := make([]any, len(patterns))
	for i, p := range patterns {
		conds[i] = "name LIKE ?"
		args[i] = p
	}
	q := "SELECT name FROM sqlite_master WHERE type = 'table'"
	if len(conds) > 0 {
		q += " AND (" + strings.Join(conds, " OR ") + ")"
	}
	return q + " ORDER BY name", args
}

func (SQLite) DescribeTable(table string) (string, []any, error) {
	if _, err := QuoteIdent(table); err != nil {
		return "", nil, err
	}
	return `SELECT name, type, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END
		FROM pragma_table_info(?)
		ORDER BY cid`, []any{table}, nil
}
