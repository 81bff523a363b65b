package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nichescout/nichescout/internal/archive"
)

var archiveFile string

var exportCmd = &cobra.Command{
	Use:   "export [run id...]",
	Short: "Export runs to a .tar.zst archive",
	Long:  "Exports the given runs, or every stored run, with their conversations and reports.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := archive.ExportFile(archiveFile, a.store, a.cfg.Output.ReportsDir, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d run(s) to %s (%s)\n", sum.Runs, archiveFile, archive.FormatSize(sum.Bytes))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import runs from a .tar.zst archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(archiveFile)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer f.Close()

		n, err := archive.Import(f, a.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d run(s) from %s\n", n, archiveFile)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&archiveFile, "file", "f", "nichescout-runs.tar.zst", "archive path")
	importCmd.Flags().StringVarP(&archiveFile, "file", "f", "nichescout-runs.tar.zst", "archive path")
	rootCmd.AddCommand(exportCmd, importCmd)
}
