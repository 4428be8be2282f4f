package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/export"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Export a completed scan's findings as SARIF",
	Example: `  vulnhawk export 6a1f... > scan.sarif
  vulnhawk export 6a1f... --output scan.sarif`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("scan id must be a valid UUID: %w", err)
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	scan, err := store.Scans.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if scan.Status != db.ScanStatusCompleted {
		return errors.NewScanError(errors.CodeExportUnavailable,
			fmt.Sprintf("Export requires a COMPLETED scan; scan is %s", scan.Status))
	}

	findings, err := store.Findings.ListByScan(ctx, id)
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportOutput != "" {
		file, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer file.Close()
		out = file
	}
	return export.WriteSARIF(out, findings)
}
