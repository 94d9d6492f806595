package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/sync"
	"github.com/pharmacore/localsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push unsynced records to the remote service",
	Long: `Run one synchronization attempt for the tenant.

By default every inventory item, transaction and daily summary that has not
been acknowledged yet is sent (full sync). With --summary only daily summaries
are sent, which is what the background auto-sync does.

Records are marked as synced only after the remote acknowledges them, so an
interrupted sync is simply repeated on the next attempt.`,
	Run: func(cmd *cobra.Command, args []string) {
		summaryOnly, _ := cmd.Flags().GetBool("summary")
		strategy := sync.StrategyFull
		if summaryOnly {
			strategy = sync.StrategySummary
		}

		ctx := context.Background()
		e := openEnv(ctx)
		defer e.Close()

		if !e.session.Monitor.Check(ctx) {
			st := e.session.Monitor.State()
			e.fail("remote unreachable at %s: %s", e.cfg.Remote.BaseURL, st.LastError)
		}

		fmt.Printf("%s Running %s sync for %s...\n", ui.RenderAccent("⇅"), strategy, e.session.TenantID)
		start := time.Now()
		res := e.session.Coordinator.Sync(ctx, strategy)
		if !res.Success {
			e.fail("%s", res.Message)
		}
		fmt.Printf("%s %s in %v\n", ui.RenderPass("✓"), res.Message, time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	syncCmd.Flags().Bool("summary", false, "Only sync daily summaries")
	rootCmd.AddCommand(syncCmd)
}
