package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rallybot/internal/calendar"
)

func newWeekCmd() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "week [YYYY-MM-DD]",
		Short: "Print the ISO week and its Monday to Sunday range for a date (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("--tz: %w", err)
			}
			day := time.Now().In(loc)
			if len(args) == 1 {
				day, err = time.ParseInLocation("2006-01-02", args[0], loc)
				if err != nil {
					return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
				}
			}
			w := calendar.WeekOf(day)
			start, end := w.Range(loc)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", w, start.Format("2006-01-02"), end.Format("2006-01-02"))
			return err
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "Local", "IANA time zone")
	return cmd
}
