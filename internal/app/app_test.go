package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/chatlens/internal/analyzer"
	"github.com/blackwell-systems/chatlens/internal/judge"
	"github.com/blackwell-systems/chatlens/internal/llm"
	"github.com/blackwell-systems/chatlens/internal/report"
	"github.com/blackwell-systems/chatlens/internal/store"
)

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"analyze": false, "judge": false, "schema": false, "history": false, "config": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Use]; ok {
			want[cmd.Use] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "%s subcommand not registered on rootCmd", name)
	}
}

func TestLengthMetrics_AllHaveDirection(t *testing.T) {
	m := lengthMetrics(analyzer.LengthStats{TotalChats: 10, EmptyPercentage: 20})
	assert.Equal(t, 10.0, m["total_chats"])
	assert.Equal(t, 20.0, m["empty_percentage"])
	for name := range m {
		_, ok := metricDirection[name]
		assert.True(t, ok, "metric %s has no direction", name)
	}
	for _, name := range metricDisplayOrder {
		_, ok := m[name]
		assert.True(t, ok, "display metric %s is never recorded", name)
	}
}

func TestJudgeMetrics(t *testing.T) {
	m := judgeMetrics(judgeOutput{
		Records: []judge.FeedbackRecord{{ChatID: "a"}, {ChatID: "b"}},
		Skipped: []judge.Skipped{{ChatID: "c", Error: "boom"}},
		Calls:   3,
		Usage:   llm.Usage{TotalTokens: 120},
	})
	assert.Equal(t, 2.0, m["judged_conversations"])
	assert.Equal(t, 1.0, m["skipped_conversations"])
	assert.Equal(t, 3.0, m["model_calls"])
	assert.Equal(t, 120.0, m["total_tokens"])
}

func TestSortDeltas(t *testing.T) {
	deltas := []store.MetricDelta{
		{Name: "zeta"},
		{Name: "empty_percentage"},
		{Name: "alpha"},
		{Name: "total_chats"},
	}
	sortDeltas(deltas)
	var names []string
	for _, d := range deltas {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"total_chats", "empty_percentage", "alpha", "zeta"}, names)
}

func TestCompareLatest(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	diff, err := compareLatest(ctx, db, 1)
	require.NoError(t, err)
	assert.Nil(t, diff, "no runs yet")

	record := func(kind string, metrics map[string]float64) *store.Run {
		r := &store.Run{Kind: kind, Version: "test", Table: "ai_chat"}
		_, err := db.CreateRun(ctx, r)
		require.NoError(t, err)
		require.NoError(t, db.InsertRunMetrics(ctx, r.ID, metrics))
		return r
	}

	first := record(store.KindAnalyze, map[string]float64{"avg_message_count": 4, "empty_percentage": 10})
	diff, err = compareLatest(ctx, db, 1)
	require.NoError(t, err)
	assert.Nil(t, diff, "a single run has nothing to compare against")

	record(store.KindJudge, map[string]float64{"model_calls": 3})
	latest := record(store.KindAnalyze, map[string]float64{"avg_message_count": 5, "empty_percentage": 12})

	diff, err = compareLatest(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, diff)
	assert.Equal(t, first.ID, diff.Previous.ID)
	assert.Equal(t, latest.ID, diff.Current.ID)
	require.Len(t, diff.Deltas, 2)
	assert.Equal(t, "avg_message_count", diff.Deltas[0].Name)
	assert.Equal(t, "improved", diff.Deltas[0].Direction)
	assert.Equal(t, "empty_percentage", diff.Deltas[1].Name)
	assert.Equal(t, "regressed", diff.Deltas[1].Direction)

	diff, err = compareLatest(ctx, db, 2)
	require.NoError(t, err)
	assert.Nil(t, diff)
}

func TestWriteAnalyzeReports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	out := analyzeOutput{
		Retrieved:    3,
		Stats:        analyzer.LengthStats{TotalChats: 3, MaxMessages: 7},
		Distribution: []analyzer.DistributionRow{{MessageCount: 7, Frequency: 3, Percentage: 100, CumulativePercentage: 100}},
		ByCategory:   map[string]analyzer.CategoryStats{"tutor": {Count: 3, AvgLength: 7, MedianLength: 7}},
	}
	require.NoError(t, writeAnalyzeReports(dir, out))

	data, err := os.ReadFile(filepath.Join(dir, report.StatsFile))
	require.NoError(t, err)
	var stats []map[string]any
	require.NoError(t, json.Unmarshal(data, &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, 3.0, stats[0]["total_chats"])

	data, err = os.ReadFile(filepath.Join(dir, report.DistributionFile))
	require.NoError(t, err)
	var rows []analyzer.DistributionRow
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Equal(t, out.Distribution, rows)

	data, err = os.ReadFile(filepath.Join(dir, report.ByCategoryFile))
	require.NoError(t, err)
	var byCat map[string]analyzer.CategoryStats
	require.NoError(t, json.Unmarshal(data, &byCat))
	assert.Equal(t, out.ByCategory, byCat)
}
