// Package app contains the Cobra command tree for chatlens.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/chatlens/internal/config"
	"github.com/blackwell-systems/chatlens/internal/output"
	"github.com/blackwell-systems/chatlens/internal/store"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "chatlens",
	Short: "Conversation-length analytics and LLM feedback for chat logs",
	Long: `chatlens samples stored chat-assistant conversations, summarizes how long
they are, asks a language model to critique a handful of them, and keeps a
local history of runs so results can be compared over time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("chatlens", appVersion)
		fmt.Println()
		fmt.Println("Use a subcommand:")
		fmt.Println("  analyze   Sample conversations and summarize their lengths")
		fmt.Println("  judge     Critique sampled conversations with a language model")
		fmt.Println("  schema    List chat tables and describe the configured one")
		fmt.Println("  history   Compare recorded runs over time")
		fmt.Println("  config    Print the effective configuration")
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/chatlens/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

// setup loads the configuration and prepares color and logging, the common
// preamble of every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	output.AutoColor(cfg.Output.Color, os.Stdout)
	if flagNoColor {
		output.SetNoColor(true)
	}
	return cfg, output.NewLogger(flagVerbose), nil
}

// openHistory opens the run history database, or returns nil when history
// is disabled.
func openHistory(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	db, err := store.Open(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	return db, nil
}
