package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/loadtest"
	"github.com/pharmacore/localsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "setup",
	Short:   "Measure local store performance under concurrent load",
	Long: `Run a load test against a scratch store.

Concurrent cashier terminals record sales (inserting transactions and
decrementing stock) while inventory searches run. Stock levels are checked
afterwards against what was sold. The configured tenant store is not touched.

Examples:
  pharmasync bench
  pharmasync bench --cashiers 16 --sales 200 --items 500
  pharmasync bench -o json`,
	Run: func(cmd *cobra.Command, args []string) {
		cashiers, _ := cmd.Flags().GetInt("cashiers")
		sales, _ := cmd.Flags().GetInt("sales")
		items, _ := cmd.Flags().GetInt("items")
		readers, _ := cmd.Flags().GetInt("readers")
		format := outputFormat(cmd)

		if cashiers <= 0 || sales <= 0 || items <= 0 || readers < 0 {
			fatalf("--cashiers, --sales and --items must be positive")
		}

		dir, err := os.MkdirTemp("", "pharmasync-bench-")
		if err != nil {
			fatalf("%v", err)
		}
		defer os.RemoveAll(dir)

		ctx := context.Background()
		fmt.Fprintf(os.Stderr, "%s Stocking %d items...\n", ui.RenderAccent("⏱"), items)
		f, err := loadtest.NewFixture(ctx, filepath.Join(dir, "bench.db"), items)
		if err != nil {
			fatalf("%v", err)
		}
		defer f.Close()

		fmt.Fprintf(os.Stderr, "%s %d cashier(s) x %d sale(s), %d reader(s)\n", ui.RenderAccent("⏱"), cashiers, sales, readers)

		type outcome struct {
			stats *loadtest.LatencyStats
			err   error
		}
		lookups := make(chan outcome, 1)
		go func() {
			if readers == 0 {
				lookups <- outcome{}
				return
			}
			st, err := f.RunLookups(ctx, readers, sales)
			lookups <- outcome{st, err}
		}()

		saleStats, err := f.RunSales(ctx, cashiers, sales)
		if err != nil {
			fatalf("sales run failed: %v", err)
		}
		lookup := <-lookups
		if lookup.err != nil {
			fatalf("lookup run failed: %v", lookup.err)
		}

		verifyErr := f.VerifyStock(ctx)

		if format != ui.FormatText {
			report := map[string]interface{}{
				"sales":      saleStats,
				"lookups":    lookup.stats,
				"unitsSold":  f.Sold(),
				"consistent": verifyErr == nil,
			}
			if err := ui.Encode(os.Stdout, format, report); err != nil {
				fatalf("%v", err)
			}
		} else {
			fmt.Println()
			saleStats.Fprint(os.Stdout, "Sales")
			if lookup.stats != nil {
				fmt.Println()
				lookup.stats.Fprint(os.Stdout, "Inventory searches")
			}
			fmt.Println()
		}

		if verifyErr != nil {
			fatalf("stock check failed: %v", verifyErr)
		}
		if format == ui.FormatText {
			fmt.Printf("%s Stock consistent after %d unit(s) sold\n", ui.RenderPass("✓"), f.Sold())
		}
	},
}

func init() {
	benchCmd.Flags().Int("cashiers", 8, "Number of concurrent cashier terminals")
	benchCmd.Flags().Int("sales", 100, "Sales per cashier (and searches per reader)")
	benchCmd.Flags().Int("items", 200, "Number of inventory items")
	benchCmd.Flags().Int("readers", 4, "Number of concurrent inventory searchers")
	benchCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(benchCmd)
}
