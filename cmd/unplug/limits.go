package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage daily app limits",
	Long: `Manage daily app limits directly in the configured store. With the bolt
backend the daemon holds the database lock, so use the API while it runs.`,
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List limits and today's usage",
	Args:  cobra.NoArgs,
	RunE:  runLimitsList,
}

var limitsAddCmd = &cobra.Command{
	Use:   "add APP_ID DISPLAY_NAME LIMIT",
	Short: "Add a daily limit",
	Example: `  unplug limits add com.zhiliaoapp.musically TikTok 30m
  unplug limits add com.google.ios.youtube YouTube 3600`,
	Args: cobra.ExactArgs(3),
	RunE: runLimitsAdd,
}

var limitsRemoveCmd = &cobra.Command{
	Use:   "remove APP_ID",
	Short: "Remove a daily limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitsRemove,
}

var limitsSetCmd = &cobra.Command{
	Use:   "set APP_ID LIMIT",
	Short: "Change a daily limit",
	Args:  cobra.ExactArgs(2),
	RunE:  runLimitsSet,
}

func init() {
	limitsCmd.AddCommand(limitsListCmd, limitsAddCmd, limitsRemoveCmd, limitsSetCmd)
	rootCmd.AddCommand(limitsCmd)
}

func runLimitsList(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		records := s.ledger.ListLimits()
		if len(records) == 0 {
			fmt.Fprintln(os.Stdout, "No app limits configured")
			return nil
		}

		red := color.New(color.FgRed, color.Bold)
		yellow := color.New(color.FgYellow)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "APP\tNAME\tLIMIT\tUSED\tREMAINING\tPROGRESS")
		for _, rec := range records {
			line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%3.0f%%",
				rec.AppIdentifier,
				rec.DisplayName,
				limits.FormatDuration(rec.DailyLimitSeconds),
				limits.FormatDuration(rec.UsedSecondsToday),
				limits.FormatDuration(rec.RemainingSeconds()),
				rec.ProgressFraction()*100,
			)
			switch {
			case rec.IsExceeded():
				_, _ = red.Fprintln(w, line)
			case rec.RemainingSeconds() <= int64(parseDuration(s.cfg.Enforcement.WarningThreshold, 5*time.Minute).Seconds()):
				_, _ = yellow.Fprintln(w, line)
			default:
				fmt.Fprintln(w, line)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "\nTotal today: %s\n", limits.FormatDuration(s.ledger.TotalUsedSecondsToday()))
		return nil
	})
}

func runLimitsAdd(cmd *cobra.Command, args []string) error {
	seconds, err := parseLimit(args[2])
	if err != nil {
		return err
	}
	return withSession(func(s *session) error {
		rec, err := s.ledger.AddLimit(args[0], args[1], seconds)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ Added %s (%s per day)\n", rec.DisplayName, limits.FormatDuration(rec.DailyLimitSeconds))
		return nil
	})
}

func runLimitsRemove(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if err := s.ledger.RemoveLimit(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ Removed %s\n", args[0])
		return nil
	})
}

func runLimitsSet(cmd *cobra.Command, args []string) error {
	seconds, err := parseLimit(args[1])
	if err != nil {
		return err
	}
	return withSession(func(s *session) error {
		rec, err := s.ledger.SetDailyLimit(args[0], seconds)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ %s now allows %s per day (%s remaining)\n",
			rec.DisplayName, limits.FormatDuration(rec.DailyLimitSeconds), limits.FormatDuration(rec.RemainingSeconds()))
		return nil
	})
}

// withSession runs fn against a loaded ledger and persists its changes.
func withSession(fn func(*session) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	fnErr := fn(s)
	closeErr := s.close(ctx)
	if fnErr != nil {
		return fnErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to save limits: %w", closeErr)
	}
	return nil
}

// parseLimit accepts a Go duration ("45m", "1h30m") or whole seconds.
func parseLimit(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: want seconds or a duration like 30m", s)
	}
	return int64(d / time.Second), nil
}
