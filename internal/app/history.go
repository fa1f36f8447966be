package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/chatlens/internal/output"
	"github.com/blackwell-systems/chatlens/internal/store"
)

var (
	historyCompare  int
	historyLimit    int
	historyFeedback bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Compare recorded runs over time",
	Long: `List the most recent analyze and judge runs from the local history and
compare the metrics of the latest analyze run against an earlier one, with
trend arrows. With --feedback, show the stored critiques of the latest
judge run instead.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyCompare, "compare", 1, "Compare against Nth previous analyze run (1 = most recent)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to list")
	historyCmd.Flags().BoolVar(&historyFeedback, "feedback", false, "Show feedback of the latest judge run")
	rootCmd.AddCommand(historyCmd)
}

// metricDirection maps metric names to whether higher values are better.
var metricDirection = map[string]bool{
	"total_chats":           true,
	"avg_message_count":     true,
	"avg_non_empty_chats":   true,
	"median_messages":       true,
	"std_deviation":         false,
	"max_messages":          true,
	"p90_messages":          true,
	"empty_percentage":      false, // empty chats are abandoned sessions
	"very_short_percentage": false,
	"long_percentage":       true,
	"very_long_percentage":  true,
	"judged_conversations":  true,
	"skipped_conversations": false,
	"model_calls":           false,
	"total_tokens":          false,
}

// metricDisplayOrder defines the order metrics appear in history output.
var metricDisplayOrder = []string{
	"total_chats",
	"avg_message_count",
	"avg_non_empty_chats",
	"median_messages",
	"std_deviation",
	"p90_messages",
	"max_messages",
	"empty_percentage",
	"very_short_percentage",
	"long_percentage",
	"very_long_percentage",
}

// metricShortName returns a compact label for display in the history table.
func metricShortName(name string) string {
	short := map[string]string{
		"total_chats":           "Chats",
		"avg_message_count":     "Avg Messages",
		"avg_non_empty_chats":   "Avg Messages (non-empty)",
		"median_messages":       "Median Messages",
		"std_deviation":         "Std Deviation",
		"p90_messages":          "P90 Messages",
		"max_messages":          "Max Messages",
		"empty_percentage":      "Empty %",
		"very_short_percentage": "Very Short %",
		"long_percentage":       "Long %",
		"very_long_percentage":  "Very Long %",
	}
	if s, ok := short[name]; ok {
		return s
	}
	return name
}

// sortDeltas orders deltas by metricDisplayOrder, unknown names last in
// alphabetical order.
func sortDeltas(deltas []store.MetricDelta) {
	rank := make(map[string]int, len(metricDisplayOrder))
	for i, name := range metricDisplayOrder {
		rank[name] = i
	}
	pos := func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		return len(metricDisplayOrder)
	}
	sort.SliceStable(deltas, func(i, j int) bool {
		pi, pj := pos(deltas[i].Name), pos(deltas[j].Name)
		if pi != pj {
			return pi < pj
		}
		return deltas[i].Name < deltas[j].Name
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	if historyCompare < 1 {
		return fmt.Errorf("--compare must be >= 1, got %d", historyCompare)
	}

	db, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("run history is disabled (history.enabled: false)")
	}
	defer func() { _ = db.Close() }()

	if historyFeedback {
		return showFeedback(ctx, db)
	}

	runs, err := db.ListRuns(ctx, "", historyLimit)
	if err != nil {
		return fmt.Errorf("loading runs: %w", err)
	}

	diff, err := compareLatest(ctx, db, historyCompare)
	if err != nil {
		return err
	}

	if flagJSON {
		result := map[string]any{"runs": runs}
		if diff != nil {
			result["diff"] = diff
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	renderHistory(runs, diff)
	return nil
}

// compareLatest diffs the latest analyze run against the nth one before it.
// It returns nil when there are not enough runs.
func compareLatest(ctx context.Context, db *store.DB, n int) (*store.RunDiff, error) {
	curr, err := db.GetRunN(ctx, store.KindAnalyze, 1)
	if err != nil {
		return nil, fmt.Errorf("loading latest run: %w", err)
	}
	if curr == nil {
		return nil, nil
	}
	// n=1 compares against the immediate predecessor (offset 2 from newest).
	prev, err := db.GetRunN(ctx, store.KindAnalyze, n+1)
	if err != nil {
		return nil, fmt.Errorf("loading previous run: %w", err)
	}
	if prev == nil {
		return nil, nil
	}

	diff, err := db.CompareRuns(ctx, prev, curr, metricDirection)
	if err != nil {
		return nil, fmt.Errorf("comparing runs: %w", err)
	}
	sortDeltas(diff.Deltas)
	return diff, nil
}

func renderHistory(runs []store.Run, diff *store.RunDiff) {
	fmt.Println(output.Section("History: Recorded Runs"))
	fmt.Println()

	if len(runs) == 0 {
		fmt.Println(" No runs recorded. Run 'chatlens analyze' to create one.")
		return
	}

	tbl := output.NewTable("#", "Kind", "Started", "Table", "Requested", "Retrieved").AlignRight(0, 4, 5)
	for _, r := range runs {
		tbl.AddRow(
			strconv.FormatInt(r.ID, 10),
			r.Kind,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Table,
			strconv.Itoa(r.SampleSize),
			strconv.Itoa(r.Retrieved),
		)
	}
	tbl.Fprint(os.Stdout)

	fmt.Println(output.Section("History: Run Comparison"))
	fmt.Println()
	if diff == nil {
		fmt.Println(" Not enough analyze runs to compare. Run 'chatlens analyze' again later to see trends.")
		return
	}

	fmt.Printf(" Run #%d (%s) against run #%d (%s)\n\n",
		diff.Current.ID, diff.Current.StartedAt.Local().Format("2006-01-02 15:04"),
		diff.Previous.ID, diff.Previous.StartedAt.Local().Format("2006-01-02 15:04"))

	cmp := output.NewTable("Metric", "Previous", "Current", "Delta", "Trend").AlignRight(1, 2, 3)
	for _, d := range diff.Deltas {
		higherIsBetter, known := metricDirection[d.Name]
		if !known {
			higherIsBetter = true
		}

		var trend string
		if strings.HasSuffix(d.Name, "_percentage") {
			trend = output.TrendArrowPercent(d.Delta, higherIsBetter)
		} else {
			trend = output.TrendArrow(d.Delta, higherIsBetter)
		}

		cmp.AddRow(
			metricShortName(d.Name),
			fmt.Sprintf("%.1f", d.Previous),
			fmt.Sprintf("%.1f", d.Current),
			fmt.Sprintf("%+.1f", d.Delta),
			trend,
		)
	}
	cmp.Fprint(os.Stdout)
}

// showFeedback prints the critiques and summary stored for the latest judge
// run.
func showFeedback(ctx context.Context, db *store.DB) error {
	run, err := db.GetRunN(ctx, store.KindJudge, 1)
	if err != nil {
		return fmt.Errorf("loading latest judge run: %w", err)
	}
	if run == nil {
		fmt.Println(" No judge runs recorded. Run 'chatlens judge' to create one.")
		return nil
	}

	rows, err := db.GetFeedback(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading feedback: %w", err)
	}
	cons, err := db.GetConsolidated(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading consolidated feedback: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run":          run,
			"feedback":     rows,
			"consolidated": cons,
		})
	}

	fmt.Println(output.Section(fmt.Sprintf("Judge Run #%d", run.ID)))
	fmt.Println()
	fmt.Println(output.KeyValue("Started", run.StartedAt.Local().Format("2006-01-02 15:04:05")))
	fmt.Println(output.KeyValue("Retrieved", strconv.Itoa(run.Retrieved)))
	fmt.Println(output.KeyValue("Judged", strconv.Itoa(len(rows))))

	for _, r := range rows {
		fmt.Println()
		fmt.Printf(" %s %s\n", output.StyleBold.Render(r.ChatID), output.StyleMuted.Render("("+r.JudgeModel+")"))
		fmt.Println(r.Feedback)
	}

	if cons != nil {
		fmt.Println(output.Section("Consolidated Feedback"))
		fmt.Println()
		fmt.Println(cons.Feedback)
	}
	return nil
}
