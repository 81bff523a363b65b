package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "nichescout",
	Short: "Research SaaS niches with a supervisor and worker agents",
	Long: `nichescout researches a niche by letting a supervisor model route the
conversation between worker agents (SaaS idea finder, market analyst, web
researcher) until it has enough to write an opportunity report.

The configuration file is read from $NICHESCOUT_CONFIG or
config/nichescout.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("NICHESCOUT_CONFIG", configPath)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nichescout %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $NICHESCOUT_CONFIG or config/nichescout.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
