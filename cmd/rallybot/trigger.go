package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rallybot/internal/trigger"
)

func newTriggerCmd() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "trigger <day> <HH:MM> [offset-hours]",
		Short: "Print the normalized weekly trigger, its cron line and next firing",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			off := 0
			if len(args) == 3 {
				n, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("offset-hours: %w", err)
				}
				off = n
			}
			spec, err := trigger.Build(args[0], args[1], off)
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("--tz: %w", err)
			}
			next := spec.Next(time.Now(), loc)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\tcron=%q\tnext=%s\n", spec, spec.Cron(), next.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "Local", "IANA time zone")
	// Negative offsets ("-2") follow the positional args and must not parse as flags.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
