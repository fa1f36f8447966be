package sampler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/chatlens/internal/chats"
	"github.com/blackwell-systems/chatlens/internal/config"
	"github.com/blackwell-systems/chatlens/internal/source"
)

// fakeSource records queries and serves canned tables in order.
type fakeSource struct {
	queries []string
	tables  []*source.Table
	err     error
}

func (f *fakeSource) Run(_ context.Context, query string, _ ...any) (*source.Table, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.tables) == 0 {
		return &source.Table{}, nil
	}
	t := f.tables[0]
	f.tables = f.tables[1:]
	return t, nil
}

func (f *fakeSource) Dialect() source.Dialect { return source.Postgres{} }
func (f *fakeSource) Close() error            { return nil }

func defaultTable() config.Table {
	return config.Table{Name: "ai_chat", Columns: chats.DefaultColumns()}
}

func TestSamplePercent(t *testing.T) {
	tests := []struct {
		name      string
		target    int
		estimated int64
		want      float64
	}{
		{"unknown table", 300, 0, 100},
		{"negative estimate", 300, -1, 100},
		{"small table", 300, 100, 100},
		{"normal", 3000, 1_000_000, 0.3},
		{"clamped low", 3, 1_000_000_000, 0.1},
		{"exact", 50, 100, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SamplePercent(tt.target, tt.estimated), 1e-9)
		})
	}
}

func TestSample_ZeroLimitIssuesNoQuery(t *testing.T) {
	src := &fakeSource{}
	s := New(src, defaultTable(), nil)

	got, err := s.Sample(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.queries)
}

func TestSample_FallbackEstimateAndTruncate(t *testing.T) {
	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("c%d", i), []any{"hi"}, nil}
	}
	src := &fakeSource{tables: []*source.Table{
		{Columns: []string{"reltuples"}},
		{Columns: []string{"id", "messages", "msg_count"}, Rows: rows},
	}}
	s := New(src, defaultTable(), nil)

	got, err := s.Sample(context.Background(), 3, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c0", got[0].ID)
	require.Len(t, src.queries, 2)
	assert.Contains(t, src.queries[0], "pg_class")
	assert.Contains(t, src.queries[1], "TABLESAMPLE BERNOULLI")
	assert.Contains(t, src.queries[1], "jsonb_array_length")
}

func TestSample_IncludeEmptyDropsFilter(t *testing.T) {
	src := &fakeSource{tables: []*source.Table{
		{Columns: []string{"reltuples"}, Rows: [][]any{{int64(10)}}},
		{Columns: []string{"id"}},
	}}
	_, err := New(src, defaultTable(), nil).Sample(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, src.queries, 2)
	assert.False(t, strings.Contains(src.queries[1], "WHERE"))
}

func TestSample_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: boom", source.ErrConnectivity)}
	_, err := New(src, defaultTable(), nil).Sample(context.Background(), 5, false)
	assert.True(t, errors.Is(err, source.ErrConnectivity))
}

func TestSample_MalformedMessagesIsQueryError(t *testing.T) {
	src := &fakeSource{tables: []*source.Table{
		{Columns: []string{"reltuples"}, Rows: [][]any{{int64(10)}}},
		{Columns: []string{"id", "messages"}, Rows: [][]any{{"a", "{not json"}}},
	}}
	_, err := New(src, defaultTable(), nil).Sample(context.Background(), 5, false)
	assert.ErrorIs(t, err, source.ErrQuery)
}

// TestSample_SQLiteExcludesEmpty runs the whole path against sqlite with
// message counts 0,1,2,3,5,6,10,11,20,21: the empty conversation is
// filtered by the store and the other nine come back.
func TestSample_SQLiteExcludesEmpty(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE ai_chat (id TEXT, messages TEXT, msg_count TEXT, chat_type TEXT)`)
	require.NoError(t, err)
	for _, n := range []int{0, 1, 2, 3, 5, 6, 10, 11, 20, 21} {
		msgs := "[" + strings.TrimSuffix(strings.Repeat(`{"role":"user"},`, n), ",") + "]"
		_, err := db.Exec(`INSERT INTO ai_chat (id, messages) VALUES (?, ?)`, fmt.Sprintf("chat-%02d", n), msgs)
		require.NoError(t, err)
	}

	src := source.NewSQLSource(db, source.SQLite{}, nil)
	got, err := New(src, defaultTable(), nil).Sample(context.Background(), 100, false)
	require.NoError(t, err)
	require.Len(t, got, 9)

	counts := make([]int, len(got))
	for i, r := range got {
		counts[i] = chats.MessageCount(r)
	}
	sort.Ints(counts)
	assert.Equal(t, []int{1, 2, 3, 5, 6, 10, 11, 20, 21}, counts)
}
