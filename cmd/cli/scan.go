package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/modules"
)

const scanWatchInterval = 2 * time.Second

var (
	scanProfile string
	scanModules []string
	scanWait    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Submit and inspect scans",
}

var scanSubmitCmd = &cobra.Command{
	Use:   "submit <target-id>",
	Short: "Queue a scan against a verified target",
	Example: `  vulnhawk scan submit 6a1f... --profile DEEP
  vulnhawk scan submit 6a1f... --profile CUSTOM --modules dns_enumerator,ssl_analyzer
  vulnhawk scan submit 6a1f... --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runScanSubmit,
}

var scanStatusCmd = &cobra.Command{
	Use:   "status <scan-id>",
	Short: "Show a scan's status and module results",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanStatus,
}

var scanFindingsCmd = &cobra.Command{
	Use:   "findings <scan-id>",
	Short: "List the findings observed by a scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanFindings,
}

var scanCancelCmd = &cobra.Command{
	Use:   "cancel <scan-id>",
	Short: "Request cancellation of a queued or running scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanCancel,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanSubmitCmd)
	scanCmd.AddCommand(scanStatusCmd)
	scanCmd.AddCommand(scanFindingsCmd)
	scanCmd.AddCommand(scanCancelCmd)

	scanSubmitCmd.Flags().StringVar(&scanProfile, "profile", db.ProfileStandard,
		"Scan profile: QUICK, STANDARD, DEEP, or CUSTOM")
	scanSubmitCmd.Flags().StringSliceVar(&scanModules, "modules", nil,
		"Module list for the CUSTOM profile")
	scanSubmitCmd.Flags().BoolVar(&scanWait, "wait", false,
		"Block until the scan reaches a terminal state")
}

func runScanSubmit(cmd *cobra.Command, args []string) error {
	targetID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("target id must be a valid UUID: %w", err)
	}
	profile := strings.ToUpper(scanProfile)

	resolved, err := modules.Resolve(profile, scanModules)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	target, err := store.Targets.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if !target.IsVerified() {
		return errors.ErrTargetUnverified(target.Value)
	}

	scan := &db.Scan{
		TargetID: targetID,
		Type:     db.ScanTypeOnDemand,
		Profile:  profile,
		Modules:  pq.StringArray(resolved),
	}
	if err := store.Scans.Create(ctx, scan); err != nil {
		return err
	}
	fmt.Printf("Scan %s queued against %s (%s, %d modules)\n",
		scan.ID, target.Value, profile, len(resolved))

	if !scanWait {
		return nil
	}
	return watchScan(cmd, store, scan.ID)
}

// watchScan polls until the scan reaches a terminal state, printing progress.
func watchScan(cmd *cobra.Command, store *db.Store, id uuid.UUID) error {
	ctx := cmd.Context()
	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scanWatchInterval):
		}

		scan, err := store.Scans.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if scan.Progress != lastProgress {
			fmt.Printf("  %s %3d%%\n", scan.Status, scan.Progress)
			lastProgress = scan.Progress
		}
		if db.IsTerminalScanStatus(scan.Status) {
			fmt.Printf("Scan finished: %s\n", scan.Status)
			if scan.Status == db.ScanStatusCompleted {
				fmt.Printf("Findings: %d critical, %d high, %d medium, %d low, %d info\n",
					scan.CriticalCount, scan.HighCount, scan.MediumCount,
					scan.LowCount, scan.InfoCount)
			}
			return nil
		}
	}
}

func runScanStatus(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Scan %s\n", scan.ID)
	fmt.Printf("  Status:   %s (%d%%)\n", scan.Status, scan.Progress)
	fmt.Printf("  Profile:  %s\n", scan.Profile)
	fmt.Printf("  Modules:  %s\n", strings.Join(scan.Modules, ", "))
	if scan.ErrorMessage != nil {
		fmt.Printf("  Error:    %s\n", *scan.ErrorMessage)
	}
	if scan.DurationMS != nil {
		fmt.Printf("  Duration: %s\n", time.Duration(*scan.DurationMS)*time.Millisecond)
	}

	results, err := store.ModuleResults.ListByScan(ctx, id)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Module", "Status", "Duration", "Error")
	for _, result := range results {
		duration := "-"
		if result.DurationMS != nil {
			duration = (time.Duration(*result.DurationMS) * time.Millisecond).String()
		}
		errMsg := ""
		if result.ErrorMessage != nil {
			errMsg = *result.ErrorMessage
		}
		_ = table.Append([]string{result.Module, result.Status, duration, errMsg})
	}
	_ = table.Render()
	return nil
}

func runScanFindings(cmd *cobra.Command, args []string) error {
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

	findings, err := store.Findings.ListByScan(ctx, id)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		fmt.Println("No findings.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Severity", "Category", "Title", "Component", "Occurrences")
	for _, finding := range findings {
		_ = table.Append([]string{
			finding.Severity,
			finding.Category,
			finding.Title,
			finding.AffectedComponent,
			fmt.Sprintf("%d", finding.Occurrences),
		})
	}
	_ = table.Render()
	return nil
}

func runScanCancel(cmd *cobra.Command, args []string) error {
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

	status, err := store.Scans.RequestCancel(ctx, id)
	if err != nil {
		return err
	}
	if status == db.ScanStatusCancelled {
		fmt.Println("Scan cancelled.")
	} else {
		fmt.Println("Cancellation requested; the scan will stop at its next checkpoint.")
	}
	return nil
}
