package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nichescout/nichescout/internal/natsbus"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/store"
)

var researchNATSURL string

var researchCmd = &cobra.Command{
	Use:   "research <niche...>",
	Short: "Research a niche and print the report",
	Long: `Runs one research session in the foreground and prints the final report.

With --nats the run's events are published to a running "nichescout serve",
so they show up in its web UI.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchNATSURL, "nats", "", "publish run events to this NATS URL")
	rootCmd.AddCommand(researchCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withGraph(ctx); err != nil {
		return err
	}

	var publisher research.Publisher
	if researchNATSURL != "" {
		client, err := natsbus.NewClientFromURL(researchNATSURL, "nichescout-cli")
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()
		publisher = client
	}

	coord := research.NewCoordinator(a.runner, a.store, publisher, a.cfg.Output.ReportsDir)
	defer coord.Shutdown(ctx)

	niche := strings.Join(args, " ")
	slog.Info("research started", "niche", niche)
	run, err := coord.Run(ctx, niche, research.OriginCLI)
	if err != nil {
		return err
	}
	if run.Status != store.RunCompleted {
		return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, run.FinalReport)
	fmt.Fprintf(cmd.ErrOrStderr(), "\nrun %s finished in %d steps, report saved to %s\n",
		run.ID, run.Steps, coord.ReportPath(run.ID))
	return nil
}
