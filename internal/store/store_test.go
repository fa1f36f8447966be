package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	require.NoError(t, db.Migrate(ctx))
	v, err = db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chatlens.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = db.CreateRun(ctx, &Run{Kind: KindAnalyze, Version: "test", Table: "ai_chat"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCreateRunAndGet(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Run{
		Kind: KindAnalyze, StartedAt: started, Version: "v1", Table: "ai_chat",
		SampleSize: 1000, IncludeEmpty: false, Retrieved: 987,
	}
	id, err := db.CreateRun(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.NotEmpty(t, r.RunID)

	got, err := db.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *r, *got)

	missing, err := db.GetRun(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetRunN_FiltersByKind(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, k := range []string{KindAnalyze, KindJudge, KindAnalyze, KindJudge} {
		_, err := db.CreateRun(ctx, &Run{Kind: k, Version: "v", Table: "t"})
		require.NoError(t, err)
	}

	latest, err := db.GetRunN(ctx, KindAnalyze, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.ID)

	prev, err := db.GetRunN(ctx, KindAnalyze, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), prev.ID)

	none, err := db.GetRunN(ctx, KindAnalyze, 3)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = db.GetRunN(ctx, KindAnalyze, 0)
	assert.Error(t, err)

	judges, err := db.ListRuns(ctx, KindJudge, 10)
	require.NoError(t, err)
	require.Len(t, judges, 2)
	assert.Equal(t, int64(4), judges[0].ID)
}

func TestRunMetricsAndCompare(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	prev := &Run{Kind: KindAnalyze, Version: "v", Table: "t"}
	_, err := db.CreateRun(ctx, prev)
	require.NoError(t, err)
	require.NoError(t, db.InsertRunMetrics(ctx, prev.ID, map[string]float64{
		"avg_message_count": 4,
		"empty_percentage":  10,
	}))

	curr := &Run{Kind: KindAnalyze, Version: "v", Table: "t"}
	_, err = db.CreateRun(ctx, curr)
	require.NoError(t, err)
	require.NoError(t, db.InsertRunMetrics(ctx, curr.ID, map[string]float64{
		"avg_message_count": 5,
		"empty_percentage":  15,
		"total_chats":       100,
	}))

	diff, err := db.CompareRuns(ctx, prev, curr, map[string]bool{"empty_percentage": false})
	require.NoError(t, err)
	require.Len(t, diff.Deltas, 3)

	byName := map[string]MetricDelta{}
	for _, d := range diff.Deltas {
		byName[d.Name] = d
	}
	assert.Equal(t, "improved", byName["avg_message_count"].Direction)
	assert.Equal(t, 1.0, byName["avg_message_count"].Delta)
	assert.Equal(t, "regressed", byName["empty_percentage"].Direction)
	assert.Equal(t, 0.0, byName["total_chats"].Previous)
}

func TestComputeDeltas_Unchanged(t *testing.T) {
	m := []RunMetric{{MetricName: "x", MetricValue: 2}}
	d := ComputeDeltas(m, m, nil)
	require.Len(t, d, 1)
	assert.Equal(t, "unchanged", d[0].Direction)
}

func TestFeedbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	r := &Run{Kind: KindJudge, Version: "v", Table: "t", SampleSize: 2, Retrieved: 2}
	_, err := db.CreateRun(ctx, r)
	require.NoError(t, err)

	require.NoError(t, db.InsertFeedback(ctx, r.ID, []FeedbackRow{
		{ChatID: "a", JudgeModel: "m", Feedback: "too long"},
		{ChatID: "b", JudgeModel: "m", Feedback: "fine"},
	}))
	rows, err := db.GetFeedback(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ChatID)
	assert.Equal(t, "fine", rows[1].Feedback)

	none, err := db.GetConsolidated(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, db.SetConsolidated(ctx, ConsolidatedRow{RunID: r.ID, JudgeModel: "m", ConversationCount: 2, Feedback: "v1"}))
	require.NoError(t, db.SetConsolidated(ctx, ConsolidatedRow{RunID: r.ID, JudgeModel: "m", ConversationCount: 2, Feedback: "v2"}))
	c, err := db.GetConsolidated(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "v2", c.Feedback)
}

func TestFeedbackRequiresRun(t *testing.T) {
	db := openTestDB(t)
	err := db.InsertFeedback(context.Background(), 42, []FeedbackRow{{ChatID: "a", JudgeModel: "m", Feedback: "x"}})
	assert.Error(t, err)
}
