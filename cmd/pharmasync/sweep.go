package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/ui"
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	GroupID: "data",
	Short:   "Delete synced transactions older than the retention window",
	Long: `Delete transactions that were acknowledged by the remote and are older
than the retention window (retention.days, 90 by default). Unsynced
transactions are never deleted.`,
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		yes, _ := cmd.Flags().GetBool("yes")

		ctx := context.Background()
		e := openEnv(ctx)
		defer e.Close()

		if days <= 0 {
			days = e.session.RetentionDays()
		}
		sweeper := e.session.Sweeper

		pending, err := sweeper.Pending(ctx, days)
		if err != nil {
			e.fail("%v", err)
		}
		if pending == 0 {
			fmt.Printf("%s Nothing to sweep\n", ui.RenderPass("✓"))
			return
		}

		cutoff := sweeper.Cutoff(days).Local().Format(time.DateTime)
		if !yes {
			ok, err := ui.Confirm(
				fmt.Sprintf("Delete %d synced transaction(s)?", pending),
				fmt.Sprintf("Transactions up to %s will be removed from this device.", cutoff),
			)
			if err != nil {
				e.fail("%v", err)
			}
			if !ok {
				fmt.Println("Aborted")
				return
			}
		}

		removed, err := sweeper.Sweep(ctx, days)
		if err != nil {
			e.fail("%v", err)
		}
		fmt.Printf("%s Removed %d transaction(s) up to %s\n", ui.RenderPass("✓"), removed, cutoff)
	},
}

func init() {
	sweepCmd.Flags().Int("days", 0, "Retention window in days (default retention.days)")
	sweepCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(sweepCmd)
}
