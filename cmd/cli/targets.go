package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
)

var (
	targetOrgID    string
	targetType     string
	targetProfile  string
	targetSchedule string
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage scan targets",
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <value>",
	Short: "Register a new target",
	Long: `Register a domain, IP, or CIDR block as a scan target. New targets
start PENDING; scans are only accepted once ownership is verified.`,
	Example: `  vulnhawk targets add example.com --org 6a1f... --type DOMAIN
  vulnhawk targets add 203.0.113.10 --org 6a1f... --type IP --schedule "0 3 * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: runTargetsAdd,
}

var targetsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List targets for an organization",
	Example: `  vulnhawk targets list --org 6a1f...`,
	RunE:    runTargetsList,
}

var targetsVerifyCmd = &cobra.Command{
	Use:   "verify <target-id>",
	Short: "Mark a target as ownership-verified",
	Long: `Mark a target VERIFIED, allowing scans against it. Intended for
operators completing an out-of-band verification.`,
	Args: cobra.ExactArgs(1),
	RunE: runTargetsVerify,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsAddCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsVerifyCmd)

	targetsCmd.PersistentFlags().StringVar(&targetOrgID, "org", "", "Organization UUID")

	targetsAddCmd.Flags().StringVar(&targetType, "type", db.TargetTypeDomain, "Target type: DOMAIN, IP, or CIDR")
	targetsAddCmd.Flags().StringVar(&targetProfile, "profile", db.ProfileStandard, "Default scan profile")
	targetsAddCmd.Flags().StringVar(&targetSchedule, "schedule", "", "Cron expression for recurring scans")
}

// openStore connects to the database for operator commands.
func openStore(ctx context.Context) (*db.Store, func(), error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db.NewStore(database), func() { _ = database.Close() }, nil
}

func runTargetsAdd(cmd *cobra.Command, args []string) error {
	orgID, err := uuid.Parse(targetOrgID)
	if err != nil {
		return fmt.Errorf("--org must be a valid UUID: %w", err)
	}
	kind := strings.ToUpper(targetType)
	switch kind {
	case db.TargetTypeDomain, db.TargetTypeIP, db.TargetTypeCIDR:
	default:
		return fmt.Errorf("unknown target type %q", targetType)
	}
	if targetSchedule != "" {
		if _, err := cron.ParseStandard(targetSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", targetSchedule, err)
		}
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	target := &db.Target{
		OrgID:          orgID,
		Value:          args[0],
		Type:           kind,
		DefaultProfile: strings.ToUpper(targetProfile),
	}
	if targetSchedule != "" {
		target.Schedule = &targetSchedule
	}
	if err := store.Targets.Create(ctx, target); err != nil {
		return err
	}

	fmt.Printf("Target registered: %s (%s)\n", target.ID, target.Value)
	fmt.Println("Status is PENDING; verify ownership before scanning.")
	return nil
}

func runTargetsList(cmd *cobra.Command, _ []string) error {
	orgID, err := uuid.Parse(targetOrgID)
	if err != nil {
		return fmt.Errorf("--org must be a valid UUID: %w", err)
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	targets, err := store.Targets.List(ctx, orgID)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Value", "Type", "Status", "Profile", "Last Scan")
	for _, target := range targets {
		lastScan := "Never"
		if target.LastScanAt != nil {
			lastScan = target.LastScanAt.Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			shortID(target.ID),
			target.Value,
			target.Type,
			target.Status,
			target.DefaultProfile,
			lastScan,
		})
	}
	_ = table.Render()
	return nil
}

func runTargetsVerify(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("target id must be a valid UUID: %w", err)
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := store.Targets.GetByID(ctx, id); err != nil {
		return err
	}
	if err := store.Targets.UpdateStatus(ctx, id, db.TargetStatusVerified); err != nil {
		return err
	}
	fmt.Printf("Target %s marked VERIFIED\n", id)
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
