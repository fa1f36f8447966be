package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/chatlens/internal/config"
	"github.com/blackwell-systems/chatlens/internal/judge"
	"github.com/blackwell-systems/chatlens/internal/llm"
	"github.com/blackwell-systems/chatlens/internal/output"
	"github.com/blackwell-systems/chatlens/internal/report"
	"github.com/blackwell-systems/chatlens/internal/sampler"
	"github.com/blackwell-systems/chatlens/internal/source"
	"github.com/blackwell-systems/chatlens/internal/store"
)

var (
	judgeLimit        int
	judgeIncludeEmpty bool
	judgeConcurrency  int
)

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Critique sampled conversations with a language model",
	Long: `Sample a few conversations, ask the configured language model to critique
each one, then consolidate the critiques into a single summary.

Each critique is appended to detailed_judge_feedback.jsonl as soon as it
arrives. At the end detailed_judge_feedback.json (critiques with their
original messages) and judge_feedback.json (the consolidated summary) are
written to the output directory. A conversation whose critique fails is
reported and skipped.`,
	RunE: runJudge,
}

func init() {
	judgeCmd.Flags().IntVar(&judgeLimit, "limit", 0, "Number of conversations to judge (default from config)")
	judgeCmd.Flags().BoolVar(&judgeIncludeEmpty, "include-empty", false, "Include conversations without messages")
	judgeCmd.Flags().IntVar(&judgeConcurrency, "concurrency", 0, "Conversations judged at once (default from config)")
	rootCmd.AddCommand(judgeCmd)
}

// judgeOutput is the JSON-serializable output for the judge command.
type judgeOutput struct {
	Retrieved    int                         `json:"retrieved"`
	Records      []judge.FeedbackRecord      `json:"records"`
	Skipped      []judge.Skipped             `json:"skipped,omitempty"`
	Consolidated *judge.ConsolidatedFeedback `json:"consolidated,omitempty"`
	Calls        int                         `json:"model_calls"`
	Usage        llm.Usage                   `json:"usage"`
	RunID        string                      `json:"run_id,omitempty"`
}

func runJudge(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	limit := cfg.Judge.Limit
	if cmd.Flags().Changed("limit") {
		limit = judgeLimit
	}
	includeEmpty := cfg.Judge.IncludeEmptyChats
	if cmd.Flags().Changed("include-empty") {
		includeEmpty = judgeIncludeEmpty
	}
	concurrency := cfg.LLM.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = judgeConcurrency
	}
	if limit < 0 {
		return fmt.Errorf("--limit must be >= 0, got %d", limit)
	}
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be >= 1, got %d", concurrency)
	}
	if cfg.LLM.APIKey == "" {
		return errors.New("no language model API key: set OPENAI_API_KEY or llm.api_key")
	}

	src, err := source.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to %s store: %w", cfg.Database.Kind, err)
	}
	defer func() { _ = src.Close() }()

	sink, err := report.NewJSONLWriter(filepath.Join(cfg.Output.Dir, report.FeedbackLogFile))
	if err != nil {
		return fmt.Errorf("opening feedback log: %w", err)
	}
	defer func() { _ = sink.Close() }()

	client := llm.New(cfg.LLM, log)
	j := judge.New(client, sampler.New(src, cfg.Table, log), cfg.LLM.Model, log,
		judge.WithSink(sink),
		judge.WithConcurrency(concurrency),
	)

	res, err := j.JudgeAll(ctx, limit, includeEmpty)
	if err != nil {
		return fmt.Errorf("judging conversations: %w", err)
	}

	out := judgeOutput{
		Retrieved: res.Retrieved,
		Records:   res.Records,
		Skipped:   res.Skipped,
	}

	if err := report.WriteJSON(filepath.Join(cfg.Output.Dir, report.DetailedFeedbackFile), res.Records); err != nil {
		return fmt.Errorf("writing %s: %w", report.DetailedFeedbackFile, err)
	}

	if len(res.Records) > 0 {
		cons, err := j.Consolidate(ctx, res.Records)
		if err != nil {
			return err
		}
		out.Consolidated = &cons
		if err := report.WriteJSON(filepath.Join(cfg.Output.Dir, report.ConsolidatedFile), cons); err != nil {
			return fmt.Errorf("writing %s: %w", report.ConsolidatedFile, err)
		}
	} else {
		log.Warn("no feedback to consolidate", zap.Int("retrieved", res.Retrieved), zap.Int("skipped", len(res.Skipped)))
	}

	out.Calls, out.Usage = client.UsageStats()

	if run := recordJudgeRun(ctx, cfg, log, limit, includeEmpty, out); run != nil {
		out.RunID = run.RunID
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	renderJudge(out, cfg)
	return nil
}

// recordJudgeRun stores the run, its feedback and the consolidated summary.
// Failures are logged, not returned.
func recordJudgeRun(ctx context.Context, cfg *config.Config, log *zap.Logger, limit int, includeEmpty bool, out judgeOutput) *store.Run {
	db, err := openHistory(ctx, cfg)
	if err != nil {
		log.Warn("run history unavailable", zap.Error(err))
		return nil
	}
	if db == nil {
		return nil
	}
	defer func() { _ = db.Close() }()

	run := &store.Run{
		Kind:         store.KindJudge,
		Version:      appVersion,
		Table:        cfg.Table.Name,
		SampleSize:   limit,
		IncludeEmpty: includeEmpty,
		Retrieved:    out.Retrieved,
	}
	if _, err := db.CreateRun(ctx, run); err != nil {
		log.Warn("recording run", zap.Error(err))
		return nil
	}

	rows := make([]store.FeedbackRow, 0, len(out.Records))
	for _, r := range out.Records {
		rows = append(rows, store.FeedbackRow{ChatID: r.ChatID, JudgeModel: r.JudgeModel, Feedback: r.Feedback})
	}
	if err := db.InsertFeedback(ctx, run.ID, rows); err != nil {
		log.Warn("recording feedback", zap.Int64("run", run.ID), zap.Error(err))
	}
	if c := out.Consolidated; c != nil {
		if err := db.SetConsolidated(ctx, store.ConsolidatedRow{
			RunID:             run.ID,
			JudgeModel:        c.JudgeModel,
			ConversationCount: c.ConversationCount,
			Feedback:          c.Feedback,
		}); err != nil {
			log.Warn("recording consolidated feedback", zap.Int64("run", run.ID), zap.Error(err))
		}
	}
	if err := db.InsertRunMetrics(ctx, run.ID, judgeMetrics(out)); err != nil {
		log.Warn("recording run metrics", zap.Int64("run", run.ID), zap.Error(err))
	}
	return run
}

func judgeMetrics(out judgeOutput) map[string]float64 {
	return map[string]float64{
		"judged_conversations":  float64(len(out.Records)),
		"skipped_conversations": float64(len(out.Skipped)),
		"model_calls":           float64(out.Calls),
		"total_tokens":          float64(out.Usage.TotalTokens),
	}
}

func renderJudge(out judgeOutput, cfg *config.Config) {
	fmt.Println(output.Section("Conversation Feedback"))
	fmt.Println()
	fmt.Println(output.KeyValue("Judge model", cfg.LLM.Model))
	fmt.Println(output.KeyValue("Retrieved", strconv.Itoa(out.Retrieved)))
	fmt.Println(output.KeyValue("Judged", strconv.Itoa(len(out.Records))))
	if len(out.Skipped) > 0 {
		fmt.Println(output.KeyValue("Skipped", output.StyleWarning.Render(strconv.Itoa(len(out.Skipped)))))
	}
	fmt.Println(output.KeyValue("Model calls", strconv.Itoa(out.Calls)))
	fmt.Println(output.KeyValue("Tokens (in / out)", fmt.Sprintf("%d / %d", out.Usage.PromptTokens, out.Usage.CompletionTokens)))

	if len(out.Skipped) > 0 {
		fmt.Println(output.Section("Skipped Conversations"))
		fmt.Println()
		tbl := output.NewTable("Chat", "Error")
		for _, s := range out.Skipped {
			tbl.AddRow(s.ChatID, output.StyleError.Render(s.Error))
		}
		tbl.Fprint(os.Stdout)
	}

	if out.Consolidated != nil {
		fmt.Println(output.Section(fmt.Sprintf("Consolidated Feedback (%d conversations)", out.Consolidated.ConversationCount)))
		fmt.Println()
		fmt.Println(out.Consolidated.Feedback)
	}

	fmt.Println()
	fmt.Println(output.StyleMuted.Render(fmt.Sprintf(" Feedback written to %s", cfg.Output.Dir)))
	if out.RunID != "" {
		fmt.Println(output.StyleMuted.Render(fmt.Sprintf(" Recorded run %s", out.RunID)))
	}
}
