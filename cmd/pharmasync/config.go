package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pharmacore/localsync/internal/config"
	"github.com/pharmacore/localsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")

		if err := config.WriteDefault(path, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		format := outputFormat(cmd)
		if format == ui.FormatText {
			format = ui.FormatYAML
		}
		if cfg.Remote.AuthSecret != "" {
			cfg.Remote.AuthSecret = "********"
		}
		if err := ui.Encode(cmd.OutOrStdout(), format, cfg); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringP("output", "o", "yaml", "Output format: json or yaml")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
