package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/config"
	"github.com/subplot-sh/subplot/pkg/models"
)

var (
	cleanupForce  bool
	cleanupDryRun bool
	cleanupAge    time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim orphaned plans and purge old terminal ones",
	Long: `Clean up the checkpoint database.

This command:
  - Marks plans left in "running" by a dead process as paused, so they
    can be resumed with 'subplot run --resume <id>'
  - Deletes completed and failed plans older than the retention age,
    together with their checkpoints

Use this after a crash or interrupted run.

Examples:
  subplot cleanup              # Interactive cleanup with confirmation
  subplot cleanup --force      # Skip confirmation prompt
  subplot cleanup --dry-run    # Show what would be removed
  subplot cleanup --age 168h   # Purge terminal plans older than a week`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().DurationVar(&cleanupAge, "age", 30*24*time.Hour, "Purge terminal plans older than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath := cfg.Checkpoint.DBPath
	if dbPath == "" {
		dbPath = checkpoint.DefaultPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No database found - nothing to clean up.")
		return nil
	}

	store, err := checkpoint.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if cleanupDryRun {
		return cleanupDryRunReport(store)
	}

	if !cleanupForce {
		fmt.Printf("Reclaim orphaned plans and purge terminal plans older than %s? [y/N] ", cleanupAge)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	reclaimed, err := store.ReclaimOrphans()
	if err != nil {
		return fmt.Errorf("reclaim orphans: %w", err)
	}
	if reclaimed > 0 {
		fmt.Printf("Reclaimed %d orphaned plan(s); resume with 'subplot run --resume <id>'.\n", reclaimed)
	} else {
		fmt.Println("No orphaned plans found.")
	}

	purged, err := store.PurgeTerminal(cleanupAge)
	if err != nil {
		return fmt.Errorf("purge terminal plans: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d terminal plan(s) older than %s.\n", purged, cleanupAge)
	} else {
		fmt.Printf("No terminal plans older than %s found.\n", cleanupAge)
	}

	return nil
}

// cleanupDryRunReport counts what cleanup would touch without changing
// anything.
func cleanupDryRunReport(store *checkpoint.Store) error {
	records, err := store.ListPlans()
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}

	cutoff := time.Now().Add(-cleanupAge)
	orphans, stale := 0, 0
	for _, rec := range records {
		switch {
		case rec.Plan.Status == models.PlanStatusRunning:
			orphans++
		case rec.Plan.Status.Terminal() && rec.UpdatedAt.Before(cutoff):
			stale++
		}
	}

	fmt.Printf("Dry run: would reclaim %d orphaned plan(s) and purge %d terminal plan(s) older than %s.\n",
		orphans, stale, cleanupAge)
	return nil
}
