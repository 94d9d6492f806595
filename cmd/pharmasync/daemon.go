package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/config"
	"github.com/pharmacore/localsync/internal/dashboard"
	"github.com/pharmacore/localsync/internal/session"
	"github.com/pharmacore/localsync/internal/sync"
	"github.com/pharmacore/localsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync engine in the foreground",
	Long: `Run the sync engine until interrupted.

The daemon will:
  1. Probe the remote service and track connectivity
  2. Sync daily summaries every sync.interval while online
  3. Sync once more shortly after the remote becomes reachable again
  4. Sweep expired synced transactions every --sweep-interval
  5. Reload the config file when it changes (sync.interval only)

With --dashboard a WebSocket status dashboard is served on dashboard.addr:
  ws://127.0.0.1:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		addr, _ := cmd.Flags().GetString("addr")
		sweepEvery, _ := cmd.Flags().GetDuration("sweep-interval")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		e := openEnv(ctx)
		defer e.Close()
		s := e.session
		logger := e.sink.Logger("daemon")

		unsubscribe := s.Coordinator.OnStatusChange(printEvent)
		defer unsubscribe()

		config.Watch(e.viper, func(cfg *config.Config) {
			logger.Printf("Config reloaded")
			s.ApplyConfig(cfg)
		}, func(err error) {
			logger.Printf("Warning: %v", err)
		})

		var server *dashboard.Server
		if withDashboard {
			if addr == "" {
				addr = e.cfg.Dashboard.Addr
			}
			server = dashboard.NewServer(&dashboard.Config{Addr: addr, Logger: e.sink.Logger("dashboard")}, nil)
			handler := dashboard.NewHandler(server, s.Monitor, s.Store, e.sink.Logger("dashboard"))
			if err := server.Start(); err != nil {
				e.fail("failed to start dashboard: %v", err)
			}
			go handler.Run(ctx, s.Coordinator.Subscribe())
		}

		fmt.Printf("%s Starting sync engine for %s\n", ui.RenderAccent("⇅"), s.TenantID)
		fmt.Printf("   Database: %s\n", s.Store.Path())
		fmt.Printf("   Remote: %s\n", e.cfg.Remote.BaseURL)
		fmt.Printf("   Interval: %v\n", s.Coordinator.Interval())
		if server != nil {
			fmt.Printf("   Dashboard: http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := s.Start(ctx); err != nil {
			e.fail("%v", err)
		}
		if sweepEvery > 0 {
			go sweepLoop(ctx, s, sweepEvery, logger)
		}

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
	},
}

// sweepLoop runs the retention sweep on every tick until ctx is done.
func sweepLoop(ctx context.Context, s *session.Session, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweeper.Sweep(ctx, s.RetentionDays()); err != nil {
				logger.Printf("Retention sweep failed: %v", err)
			}
		}
	}
}

func printEvent(ev sync.Status) {
	at := ev.Timestamp.Local().Format(time.TimeOnly)
	switch ev.Kind {
	case sync.StatusSuccess:
		fmt.Printf("%s %s %s\n", ui.RenderMuted(at), ui.RenderPass("✓"), ev.Message)
	case sync.StatusError:
		fmt.Printf("%s %s %s\n", ui.RenderMuted(at), ui.RenderFail("✗"), ev.Message)
	case sync.StatusOffline:
		fmt.Printf("%s %s %s\n", ui.RenderMuted(at), ui.RenderWarn("⚠"), ev.Message)
	case sync.StatusOnline:
		fmt.Printf("%s %s %s\n", ui.RenderMuted(at), ui.RenderAccent("●"), ev.Message)
	default:
		fmt.Printf("%s %s %s sync...\n", ui.RenderMuted(at), ui.RenderAccent("⇅"), ev.Strategy)
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket status dashboard")
	daemonCmd.Flags().String("addr", "", "Dashboard listen address (default dashboard.addr)")
	daemonCmd.Flags().Duration("sweep-interval", 24*time.Hour, "How often to run the retention sweep (0 disables)")
	rootCmd.AddCommand(daemonCmd)
}
