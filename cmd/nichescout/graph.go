package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/graph"
	"github.com/nichescout/nichescout/internal/router"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Write the routing graph as a Mermaid diagram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		workers, err := router.ParseWorkers(cfg.Routing.Workers)
		if err != nil {
			return err
		}
		path, err := graph.WriteMermaid(cfg.Output.GraphsDir, workers)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.Mermaid(workers))
		fmt.Fprintf(cmd.ErrOrStderr(), "written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
