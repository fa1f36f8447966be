package source

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTablePatterns are the LIKE patterns used to find conversation
// tables when none are given.
var DefaultTablePatterns = []string{"%chat%", "%ai%"}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// ListTables returns table names matching any of patterns.
func ListTables(ctx context.Context, src Source, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultTablePatterns
	}
	q, args := src.Dialect().ListTables(patterns)
	t, err := src.Run(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, t.Len())
	for _, row := range t.Rows {
		if len(row) == 0 {
			continue
		}
		names = append(names, asString(row[0]))
	}
	return names, nil
}

// DescribeTable returns the columns of table in ordinal order. A table with
// no visible columns is reported as a query error.
func DescribeTable(ctx context.Context, src Source, table string) ([]ColumnInfo, error) {
	q, args, err := src.Dialect().DescribeTable(table)
	if err != nil {
		return nil, err
	}
	t, err := src.Run(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%w: table %q not found", ErrQuery, table)
	}
	cols := make([]ColumnInfo, 0, t.Len())
	for _, row := range t.Rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: unexpected column description width %d", ErrQuery, len(row))
		}
		cols = append(cols, ColumnInfo{
			Name:     asString(row[0]),
			DataType: asString(row[1]),
			Nullable: strings.EqualFold(asString(row[2]), "YES"),
		})
	}
	return cols, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
