package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nichescout/nichescout/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored research runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSTEPS\tORIGIN\tSTARTED\tNICHE")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.Steps, r.Origin, r.StartedAt.Local().Format(time.DateTime), r.Niche)
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run's conversation and report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.store.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		msgs, err := a.store.GetRunMessages(run.ID)
		if err != nil {
			return err
		}
		printRun(cmd, run, msgs)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.store.DeleteRun(args[0])
	},
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func printRun(cmd *cobra.Command, run *store.Run, msgs []store.RunMessage) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:     %s\nNiche:   %s\nOrigin:  %s\nStatus:  %s\nSteps:   %d\n",
		run.ID, run.Niche, run.Origin, run.Status, run.Steps)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", run.Error)
	}
	for _, m := range msgs {
		who := m.Role
		if m.Name != "" {
			who = m.Name
		}
		fmt.Fprintf(out, "\n--- %d %s", m.Seq, who)
		if m.Reason != "" {
			fmt.Fprintf(out, " (%s)", m.Reason)
		}
		fmt.Fprintf(out, "\n%s\n", m.Content)
	}
}
