package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/goodtune/unplug/internal/limits"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report APP_ID SECONDS",
	Short: "Record today's cumulative usage for an app",
	Long: `Record the total number of seconds an app has been used today. The value
is absolute, not an increment.`,
	Example: `  unplug report com.zhiliaoapp.musically 1250`,
	Args:    cobra.ExactArgs(2),
	RunE:    runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seconds %q: %w", args[1], err)
	}
	return withSession(func(s *session) error {
		rec, err := s.ledger.ReportUsage(args[0], seconds)
		if err != nil {
			return err
		}
		status := fmt.Sprintf("%s remaining", limits.FormatDuration(rec.RemainingSeconds()))
		if rec.IsExceeded() {
			status = "limit reached"
		}
		fmt.Fprintf(os.Stdout, "%s: %s of %s used, %s\n",
			rec.DisplayName,
			limits.FormatDuration(rec.UsedSecondsToday),
			limits.FormatDuration(rec.DailyLimitSeconds),
			status)
		return nil
	})
}
