package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/chatlens/internal/analyzer"
	"github.com/blackwell-systems/chatlens/internal/config"
	"github.com/blackwell-systems/chatlens/internal/output"
	"github.com/blackwell-systems/chatlens/internal/report"
	"github.com/blackwell-systems/chatlens/internal/sampler"
	"github.com/blackwell-systems/chatlens/internal/source"
	"github.com/blackwell-systems/chatlens/internal/store"
)

var (
	analyzeSampleSize   int
	analyzeIncludeEmpty bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Sample conversations and summarize their lengths",
	Long: `Draw a random sample of conversations from the configured table and
compute message-count statistics: core stats, bucketed distribution,
percentiles, the full per-count distribution and a per-chat-type breakdown.

Results are printed and written to chat_length_stats.json,
chat_lengths_full_distributions.json and chat_length_by_type.json in the
output directory. Each run is recorded in the local history.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeSampleSize, "sample-size", 0, "Number of conversations to sample (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeIncludeEmpty, "include-empty", false, "Include conversations without messages")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeOutput is the JSON-serializable output for the analyze command.
type analyzeOutput struct {
	Retrieved    int                               `json:"retrieved"`
	Stats        analyzer.LengthStats              `json:"stats"`
	Distribution []analyzer.DistributionRow        `json:"distribution"`
	ByCategory   map[string]analyzer.CategoryStats `json:"by_chat_type"`
	RunID        string                            `json:"run_id,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	sampleSize := cfg.Analyze.SampleSize
	if cmd.Flags().Changed("sample-size") {
		sampleSize = analyzeSampleSize
	}
	includeEmpty := cfg.Analyze.IncludeEmptyChats
	if cmd.Flags().Changed("include-empty") {
		includeEmpty = analyzeIncludeEmpty
	}
	if sampleSize < 0 {
		return fmt.Errorf("--sample-size must be >= 0, got %d", sampleSize)
	}

	src, err := source.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to %s store: %w", cfg.Database.Kind, err)
	}
	defer func() { _ = src.Close() }()

	records, err := sampler.New(src, cfg.Table, log).Sample(ctx, sampleSize, includeEmpty)
	if err != nil {
		return fmt.Errorf("sampling conversations: %w", err)
	}
	log.Info("sample retrieved", zap.Int("requested", sampleSize), zap.Int("retrieved", len(records)))

	stats, err := analyzer.Stats(records)
	if isEmptySample(err) {
		return fmt.Errorf("no conversations sampled from %s: %w", cfg.Table.Name, err)
	}
	if err != nil {
		return fmt.Errorf("computing length stats: %w", err)
	}
	dist, err := analyzer.FullDistribution(records)
	if err != nil {
		return fmt.Errorf("computing distribution: %w", err)
	}
	byCat := analyzer.ByCategory(records)

	out := analyzeOutput{
		Retrieved:    len(records),
		Stats:        stats,
		Distribution: dist,
		ByCategory:   byCat,
	}

	if err := writeAnalyzeReports(cfg.Output.Dir, out); err != nil {
		return err
	}

	if run := recordAnalyzeRun(ctx, cfg, log, sampleSize, includeEmpty, out); run != nil {
		out.RunID = run.RunID
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	renderAnalyze(out, sampleSize, cfg.Output.Dir)
	return nil
}

func writeAnalyzeReports(dir string, out analyzeOutput) error {
	files := []struct {
		name string
		v    any
	}{
		{report.StatsFile, []analyzer.LengthStats{out.Stats}},
		{report.DistributionFile, out.Distribution},
		{report.ByCategoryFile, out.ByCategory},
	}
	for _, f := range files {
		if err := report.WriteJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}
	return nil
}

// recordAnalyzeRun stores the run and its metrics in the history database.
// History is secondary to the reports, so failures are logged, not returned.
func recordAnalyzeRun(ctx context.Context, cfg *config.Config, log *zap.Logger, sampleSize int, includeEmpty bool, out analyzeOutput) *store.Run {
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
		Kind:         store.KindAnalyze,
		Version:      appVersion,
		Table:        cfg.Table.Name,
		SampleSize:   sampleSize,
		IncludeEmpty: includeEmpty,
		Retrieved:    out.Retrieved,
	}
	if _, err := db.CreateRun(ctx, run); err != nil {
		log.Warn("recording run", zap.Error(err))
		return nil
	}
	if err := db.InsertRunMetrics(ctx, run.ID, lengthMetrics(out.Stats)); err != nil {
		log.Warn("recording run metrics", zap.Int64("run", run.ID), zap.Error(err))
	}
	log.Debug("run recorded", zap.Int64("run", run.ID), zap.String("run_id", run.RunID))
	return run
}

// lengthMetrics flattens LengthStats into the metrics stored per run.
func lengthMetrics(s analyzer.LengthStats) map[string]float64 {
	return map[string]float64{
		"total_chats":           float64(s.TotalChats),
		"avg_message_count":     s.AvgMessageCount,
		"avg_non_empty_chats":   s.AvgNonEmptyChats,
		"median_messages":       s.MedianMessages,
		"std_deviation":         s.StdDeviation,
		"max_messages":          float64(s.MaxMessages),
		"p90_messages":          float64(s.Percentile90),
		"empty_percentage":      s.EmptyPercentage,
		"very_short_percentage": s.VeryShortPercentage,
		"long_percentage":       s.LongPercentage,
		"very_long_percentage":  s.VeryLongPercentage,
	}
}

func renderAnalyze(out analyzeOutput, requested int, dir string) {
	s := out.Stats

	fmt.Println(output.Section("Conversation Lengths"))
	fmt.Println()
	fmt.Printf(" Sampled %d of %d requested conversations\n\n", out.Retrieved, requested)
	fmt.Println(output.KeyValue("Total chats", strconv.Itoa(s.TotalChats)))
	fmt.Println(output.KeyValue("Chats with messages", strconv.Itoa(s.ChatsWithMessages)))
	fmt.Println(output.KeyValue("Empty chats", strconv.Itoa(s.EmptyChats)))
	fmt.Println(output.KeyValue("Average messages", fmt.Sprintf("%.2f", s.AvgMessageCount)))
	fmt.Println(output.KeyValue("Average (non-empty)", fmt.Sprintf("%.2f", s.AvgNonEmptyChats)))
	fmt.Println(output.KeyValue("Median messages", fmt.Sprintf("%.1f", s.MedianMessages)))
	fmt.Println(output.KeyValue("Standard deviation", fmt.Sprintf("%.2f", s.StdDeviation)))
	fmt.Println(output.KeyValue("Min / max messages", fmt.Sprintf("%d / %d", s.MinMessages, s.MaxMessages)))

	fmt.Println(output.Section("Length Distribution"))
	fmt.Println()
	buckets := output.NewTable("Bucket", "Chats", "Share").AlignRight(1)
	for _, b := range []struct {
		label string
		count int
		pct   float64
	}{
		{"Empty (0)", s.EmptyChats, s.EmptyPercentage},
		{"Very short (1-2)", s.VeryShortChats, s.VeryShortPercentage},
		{"Short (3-5)", s.ShortChats, s.ShortPercentage},
		{"Medium (6-10)", s.MediumChats, s.MediumPercentage},
		{"Long (11-20)", s.LongChats, s.LongPercentage},
		{"Very long (>20)", s.VeryLongChats, s.VeryLongPercentage},
	} {
		buckets.AddRow(b.label, strconv.Itoa(b.count), output.Bar(b.pct, 20))
	}
	buckets.Fprint(os.Stdout)

	fmt.Println(output.Section("Percentiles"))
	fmt.Println()
	for _, p := range analyzer.ReportedPercentiles {
		v, _ := s.Percentile(p)
		fmt.Println(output.KeyValue(fmt.Sprintf("%dth percentile", p), fmt.Sprintf("%d messages", v)))
	}

	if len(out.ByCategory) > 0 {
		fmt.Println(output.Section("By Chat Type"))
		fmt.Println()
		names := make([]string, 0, len(out.ByCategory))
		for name := range out.ByCategory {
			names = append(names, name)
		}
		sort.Strings(names)

		tbl := output.NewTable("Chat type", "Count", "Avg", "Median", "Empty", "Long (>15)").AlignRight(1, 2, 3, 4, 5)
		for _, name := range names {
			c := out.ByCategory[name]
			tbl.AddRow(
				name,
				strconv.Itoa(c.Count),
				fmt.Sprintf("%.1f", c.AvgLength),
				fmt.Sprintf("%.1f", c.MedianLength),
				strconv.Itoa(c.EmptyChats),
				strconv.Itoa(c.LongChats),
			)
		}
		tbl.Fprint(os.Stdout)
	}

	fmt.Println()
	fmt.Println(output.StyleMuted.Render(fmt.Sprintf(" Reports written to %s", dir)))
	if out.RunID != "" {
		fmt.Println(output.StyleMuted.Render(fmt.Sprintf(" Recorded run %s", out.RunID)))
	}
}

// isEmptySample reports whether err means the sample had no conversations.
func isEmptySample(err error) bool {
	return errors.Is(err, analyzer.ErrInsufficientData)
}
