package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/quina/pkg/config"
	"github.com/ArionMiles/quina/pkg/expense"
	"github.com/ArionMiles/quina/pkg/export"
)

func exportCmd(logger *slog.Logger) *cobra.Command {
	var (
		q       expense.FindQuery
		daysAgo int
		format  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write matching expense rows to a CSV or JSON file",
		Example: `  quina export --days-ago 30 -o last-month.csv
  quina export --category Food --start-date 11/01/2025 --end-date 11/30/2025 -o food.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("days-ago") {
				q.DaysAgo = &daysAgo
			}

			f := format
			if f == "" {
				f = output
			}
			fmtKind, err := export.ParseFormat(f)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.StoreSheets {
				return fmt.Errorf("export reads the sheet; STORE_BACKEND is %q", cfg.StoreBackend)
			}

			ctx := cmd.Context()
			t, err := openTable(ctx, cfg, logger)
			if err != nil {
				return err
			}

			res := expense.New(t, logger).Find(ctx, q)
			if res.Status != expense.StatusSuccess {
				return fmt.Errorf("finding expenses: %s", res.Message)
			}

			if err := export.WriteFile(output, fmtKind, res.Details, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", len(res.Details), output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.Name, "name", "", "comma-separated expense names (fuzzy matched)")
	flags.StringVar(&q.Category, "category", "", "category")
	flags.StringVar(&q.Date, "date", "", "single day, MM/DD/YYYY")
	flags.StringVar(&q.StartDate, "start-date", "", "range start, MM/DD/YYYY")
	flags.StringVar(&q.EndDate, "end-date", "", "range end, MM/DD/YYYY")
	flags.IntVar(&daysAgo, "days-ago", 0, "the last N days including today")
	flags.StringVar(&format, "format", "", "csv or json (default: from the output extension)")
	flags.StringVarP(&output, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
