package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/ui"
)

var summaryCmd = &cobra.Command{
	Use:     "summary",
	GroupID: "data",
	Short:   "Compute and store the daily sales summary",
	Long: `Aggregate the sales of one calendar day into a daily summary and store
it. Computing the summary again replaces the stored one and marks it for
sync.

The date accepts YYYY-MM-DD or phrases such as "yesterday" or "2 days ago".`,
	Run: func(cmd *cobra.Command, args []string) {
		dateExpr, _ := cmd.Flags().GetString("date")
		format := outputFormat(cmd)

		date, err := ui.ParseDate(dateExpr, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		ctx := context.Background()
		e := openEnv(ctx)
		defer e.Close()

		summary, err := e.session.Ledger.ComputeDailySummary(ctx, date)
		if err != nil {
			e.fail("%v", err)
		}
		if summary == nil {
			fmt.Printf("%s No sales on %s\n", ui.RenderWarn("⚠"), date)
			return
		}

		if format != ui.FormatText {
			if err := ui.Encode(cmd.OutOrStdout(), format, summary); err != nil {
				e.fail("%v", err)
			}
			return
		}

		fmt.Printf("\n%s Sales for %s\n\n", ui.RenderAccent("▣"), summary.Date)
		fmt.Print(ui.KeyValues(
			[2]string{"Total", summary.TotalSales.StringFixed(2)},
			[2]string{"Transactions", strconv.Itoa(summary.TotalTransactions)},
			[2]string{"Average", summary.AverageTransaction.StringFixed(2)},
			[2]string{"Cash", summary.CashSales.StringFixed(2)},
			[2]string{"Mobile money", summary.MobileMoneySales.StringFixed(2)},
		))
		if len(summary.TopSellingItems) > 0 {
			fmt.Printf("\nTop items:\n")
			for i, item := range summary.TopSellingItems {
				fmt.Printf("  %d. %-24s %4d  %s\n", i+1, item.Name, item.Quantity, item.Revenue.StringFixed(2))
			}
		}
		fmt.Println()
	},
}

func init() {
	summaryCmd.Flags().String("date", "today", "Day to summarize")
	summaryCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(summaryCmd)
}
