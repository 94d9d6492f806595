// Command pharmasync manages the local pharmacy store and its
// synchronization with the remote service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pharmacore/localsync/internal/config"
	"github.com/pharmacore/localsync/internal/logging"
	"github.com/pharmacore/localsync/internal/session"
	"github.com/pharmacore/localsync/internal/ui"
)

var (
	configPath string
	tenantFlag string
	quietFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "pharmasync",
	Short: "Local-first pharmacy data store and sync engine",
	Long: `pharmasync keeps a tenant's inventory, sales and daily summaries in a
local database and pushes them to the remote service when it is reachable.

Settings are read from pharmasync.toml (see 'pharmasync config init'),
a .env file and PHARMASYNC_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./pharmasync.toml or ~/.pharmasync/pharmasync.toml)")
	rootCmd.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "Tenant id (overrides tenant_id)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Do not log to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration or exits.
func loadConfig() (*viper.Viper, *config.Config) {
	v := config.New(configPath)
	cfg, err := config.Load(v)
	if err != nil {
		fatalf("%v", err)
	}
	return v, cfg
}

// newSink builds the shared log output from cfg.
func newSink(cfg *config.Config) *logging.Sink {
	return logging.NewSink(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Quiet:      quietFlag,
	})
}

// env is what most commands work with: the loaded config and an open
// session for the selected tenant.
type env struct {
	viper   *viper.Viper
	cfg     *config.Config
	sink    *logging.Sink
	session *session.Session
}

func openEnv(ctx context.Context) *env {
	v, cfg := loadConfig()
	sink := newSink(cfg)
	s, err := session.Open(ctx, session.Options{Config: cfg, TenantID: tenantFlag, Sink: sink})
	if err != nil {
		_ = sink.Close()
		fatalf("failed to open store: %v", err)
	}
	return &env{viper: v, cfg: cfg, sink: sink, session: s}
}

func (e *env) Close() {
	if err := e.session.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	_ = e.sink.Close()
}

// fail closes e and exits.
func (e *env) fail(format string, args ...interface{}) {
	e.Close()
	fatalf(format, args...)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func outputFormat(cmd *cobra.Command) ui.Format {
	s, _ := cmd.Flags().GetString("output")
	f, err := ui.ParseFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}
