// Package store provides SQLite database access for the chatlens run
// history: one row per analyze or judge run plus its metrics and feedback.
package store

import "time"

// Run kinds.
const (
	KindAnalyze = "analyze"
	KindJudge   = "judge"
)

// Run is one recorded invocation of analyze or judge.
type Run struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	StartedAt    time.Time `json:"started_at"`
	Version      string    `json:"version"`
	Table        string    `json:"table"`
	SampleSize   int       `json:"sample_size"`
	IncludeEmpty bool      `json:"include_empty"`
	Retrieved    int       `json:"retrieved"`
}

// RunMetric is a named value recorded for a run.
type RunMetric struct {
	ID          int64   `json:"id"`
	RunID       int64   `json:"run_id"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

// FeedbackRow is one stored conversation critique.
type FeedbackRow struct {
	ID         int64  `json:"id"`
	RunID      int64  `json:"run_id"`
	ChatID     string `json:"chat_id"`
	JudgeModel string `json:"judge_model"`
	Feedback   string `json:"feedback"`
}

// ConsolidatedRow is the stored summary of a judge run.
type ConsolidatedRow struct {
	RunID             int64  `json:"run_id"`
	JudgeModel        string `json:"judge_model"`
	ConversationCount int    `json:"conversation_count"`
	Feedback          string `json:"feedback"`
}

// RunDiff represents the comparison between two runs.
type RunDiff struct {
	Previous *Run          `json:"previous"`
	Current  *Run          `json:"current"`
	Deltas   []MetricDelta `json:"deltas"`
}

// MetricDelta represents the change in a single metric between runs.
type MetricDelta struct {
	Name      string  `json:"name"`
	Previous  float64 `json:"previous"`
	Current   float64 `json:"current"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"` // "improved", "regressed", "unchanged"
}
