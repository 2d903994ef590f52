package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rallybot",
		Short:         "Weekly poll and match-day scheduling bot for group chats",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newWeekCmd(), newTriggerCmd())
	return root
}
