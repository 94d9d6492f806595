package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/monitor"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
	"github.com/pharmacore/localsync/internal/ui"
)

// statusReport is the structured output of the status command.
type statusReport struct {
	TenantID     string                  `json:"tenantId" yaml:"tenantId"`
	Remote       string                  `json:"remote" yaml:"remote"`
	Connectivity monitor.State           `json:"connectivity" yaml:"connectivity"`
	Stats        db.Stats                `json:"stats" yaml:"stats"`
	LowStock     []*schema.InventoryItem `json:"lowStock" yaml:"lowStock"`
	RecentSyncs  []*schema.SyncLogEntry  `json:"recentSyncs" yaml:"recentSyncs"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show store statistics, recent sync attempts and connectivity",
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat(cmd)
		limit, _ := cmd.Flags().GetInt("logs")
		offline, _ := cmd.Flags().GetBool("offline")

		ctx := context.Background()
		e := openEnv(ctx)
		defer e.Close()

		if !offline {
			e.session.Monitor.Check(ctx)
		}
		stats, err := e.session.Store.Stats(ctx)
		if err != nil {
			e.fail("failed to read stats: %v", err)
		}
		low, err := e.session.Store.LowStockItems(ctx)
		if err != nil {
			e.fail("failed to read inventory: %v", err)
		}
		logs, err := e.session.Store.SyncLogs(ctx, limit)
		if err != nil {
			e.fail("failed to read sync logs: %v", err)
		}

		report := statusReport{
			TenantID:     e.session.TenantID,
			Remote:       e.cfg.Remote.BaseURL,
			Connectivity: e.session.Monitor.State(),
			Stats:        stats,
			LowStock:     low,
			RecentSyncs:  logs,
		}
		if format != ui.FormatText {
			if err := ui.Encode(cmd.OutOrStdout(), format, report); err != nil {
				e.fail("%v", err)
			}
			return
		}
		printStatus(report)
	},
}

func printStatus(r statusReport) {
	conn := ui.RenderMuted("not checked")
	if r.Connectivity.Known {
		if r.Connectivity.Online {
			conn = ui.RenderPass("online")
		} else {
			conn = ui.RenderWarn("offline")
			if r.Connectivity.LastError != "" {
				conn += ui.RenderMuted(" (" + r.Connectivity.LastError + ")")
			}
		}
	}

	fmt.Printf("\n%s Tenant %s\n\n", ui.RenderAccent("▣"), r.TenantID)
	fmt.Print(ui.KeyValues(
		[2]string{"Database", r.Stats.Path},
		[2]string{"Remote", r.Remote + " " + conn},
		[2]string{"Inventory", counts(r.Stats.Inventory)},
		[2]string{"Transactions", counts(r.Stats.Transactions)},
		[2]string{"Summaries", counts(r.Stats.Summaries)},
		[2]string{"Users", strconv.Itoa(r.Stats.Users)},
	))

	if pending := r.Stats.PendingSync(); pending > 0 {
		fmt.Printf("\n%s %d record(s) waiting for sync\n", ui.RenderWarn("⚠"), pending)
	}

	if len(r.LowStock) > 0 {
		fmt.Printf("\n%s %d item(s) at or below reorder level:\n", ui.RenderWarn("⚠"), len(r.LowStock))
		for _, item := range r.LowStock {
			fmt.Printf("  %-24s %d left (reorder at %d)\n", item.Name, item.Quantity, item.ReorderLevel)
		}
	}

	if len(r.RecentSyncs) == 0 {
		fmt.Printf("\nNo sync attempts yet\n\n")
		return
	}
	fmt.Printf("\nRecent sync attempts:\n")
	for _, l := range r.RecentSyncs {
		mark := ui.RenderPass("✓")
		if l.Status != schema.SyncStatusSuccess {
			mark = ui.RenderFail("✗")
		}
		line := fmt.Sprintf("  %s %s  %-11s %d record(s)", mark, l.Timestamp.Local().Format(time.DateTime), l.Type, l.RecordCount)
		if l.ErrorMessage != "" {
			line += ui.RenderMuted("  " + l.ErrorMessage)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func counts(c db.CollectionStats) string {
	if c.Unsynced == 0 {
		return strconv.Itoa(c.Total)
	}
	return fmt.Sprintf("%d (%d unsynced)", c.Total, c.Unsynced)
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	statusCmd.Flags().Int("logs", 10, "Number of recent sync attempts to show")
	statusCmd.Flags().Bool("offline", false, "Skip the connectivity check")
	rootCmd.AddCommand(statusCmd)
}
