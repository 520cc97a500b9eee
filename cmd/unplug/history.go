package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/goodtune/unplug/internal/limits"
	"github.com/spf13/cobra"
)

var historyDate string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived usage for a past day",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Day to show as YYYY-MM-DD (default yesterday)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		date := s.ledger.Today().AddDays(-1)
		if historyDate != "" {
			parsed, err := limits.ParseDate(historyDate)
			if err != nil {
				return err
			}
			date = parsed
		}

		ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
		defer cancel()

		entries, err := s.store.History().List(ctx, date.String())
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Fprintf(os.Stdout, "No usage recorded for %s\n", date)
			return nil
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].TotalSeconds > entries[j].TotalSeconds
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "APP\tUSED ON %s\n", date)
		var total int64
		for _, entry := range entries {
			total += entry.TotalSeconds
			fmt.Fprintf(w, "%s\t%s\n", entry.AppIdentifier, limits.FormatDuration(entry.TotalSeconds))
		}
		fmt.Fprintf(w, "TOTAL\t%s\n", limits.FormatDuration(total))
		return w.Flush()
	})
}
