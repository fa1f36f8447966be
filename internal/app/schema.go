package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/chatlens/internal/output"
	"github.com/blackwell-systems/chatlens/internal/source"
)

var schemaPatterns []string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List chat tables and describe the configured one",
	Long: `List the tables whose names match the given LIKE patterns (default
'%chat%' and '%ai%') and describe the columns of the configured
conversation table.`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringSliceVar(&schemaPatterns, "pattern", nil, "LIKE pattern for table names (can specify multiple)")
	rootCmd.AddCommand(schemaCmd)
}

// schemaOutput is the JSON-serializable output for the schema command.
type schemaOutput struct {
	Tables  []string            `json:"tables"`
	Table   string              `json:"table"`
	Columns []source.ColumnInfo `json:"columns"`
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	src, err := source.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to %s store: %w", cfg.Database.Kind, err)
	}
	defer func() { _ = src.Close() }()

	tables, err := source.ListTables(ctx, src, schemaPatterns)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}

	out := schemaOutput{Tables: tables, Table: cfg.Table.Name}
	cols, err := source.DescribeTable(ctx, src, cfg.Table.Name)
	switch {
	case errors.Is(err, source.ErrQuery):
		// A missing conversation table is reported, not fatal; the table
		// list is still useful for fixing table.name.
		log.Sugar().Warnf("describing %s: %v", cfg.Table.Name, err)
	case err != nil:
		return fmt.Errorf("describing %s: %w", cfg.Table.Name, err)
	default:
		out.Columns = cols
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(output.Section("Chat Tables"))
	fmt.Println()
	if len(tables) == 0 {
		fmt.Println(" No matching tables.")
	}
	for _, t := range tables {
		marker := " "
		if t == cfg.Table.Name {
			marker = output.StyleSuccess.Render("*")
		}
		fmt.Printf(" %s %s\n", marker, t)
	}

	fmt.Println(output.Section(fmt.Sprintf("Columns of %s", cfg.Table.Name)))
	fmt.Println()
	if len(out.Columns) == 0 {
		fmt.Println(output.StyleWarning.Render(" Table not found."))
		return nil
	}
	tbl := output.NewTable("Column", "Type", "Nullable")
	for _, c := range out.Columns {
		nullable := "no"
		if c.Nullable {
			nullable = "yes"
		}
		tbl.AddRow(c.Name, c.DataType, nullable)
	}
	tbl.Fprint(os.Stdout)
	return nil
}
