package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/config"
	"github.com/subplot-sh/subplot/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show stored plans and their progress",
	Long: `Display plans recorded in the checkpoint database.

Without arguments, lists all plans newest first. With a plan ID, shows
that plan's subtasks and latest checkpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath := cfg.Checkpoint.DBPath
	if dbPath == "" {
		dbPath = checkpoint.DefaultPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No plans recorded yet. Run 'subplot run <plan-file>' to start one.")
		return nil
	}

	store, err := checkpoint.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		return showPlan(store, args[0])
	}
	return listPlans(store)
}

func listPlans(store *checkpoint.Store) error {
	records, err := store.ListPlans()
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No plans recorded yet. Run 'subplot run <plan-file>' to start one.")
		return nil
	}

	fmt.Printf("%-10s %-11s %-20s %-9s %s\n", "PLAN", "STATUS", "FAILURE", "SUBTASKS", "UPDATED")
	for _, rec := range records {
		failure := rec.FailureCode
		if failure == "" {
			failure = "-"
		}
		fmt.Printf("%-10s %-11s %-20s %-9d %s ago\n",
			rec.Plan.ID,
			colorStatus(rec.Plan.Status),
			failure,
			len(rec.Plan.Subtasks),
			formatDuration(time.Since(rec.UpdatedAt)))
	}
	return nil
}

func showPlan(store *checkpoint.Store, planID string) error {
	rec, err := store.GetPlan(planID)
	if err != nil {
		return fmt.Errorf("get plan %s: %w", planID, err)
	}

	fmt.Printf("Plan %s: %s\n", rec.Plan.ID, rec.Plan.Description)
	fmt.Printf("  Status: %s", colorStatus(rec.Plan.Status))
	if rec.FailureCode != "" {
		fmt.Printf(" (%s)", rec.FailureCode)
	}
	fmt.Println()
	fmt.Printf("  Working dir: %s\n", rec.Plan.WorkingDir)
	if rec.Plan.EstimatedMinutes > 0 {
		fmt.Printf("  Estimated: %dm\n", rec.Plan.EstimatedMinutes)
	}
	fmt.Printf("  Updated: %s ago\n", formatDuration(time.Since(rec.UpdatedAt)))

	count, err := store.CheckpointCount(planID)
	if err != nil {
		return fmt.Errorf("count checkpoints: %w", err)
	}
	fmt.Printf("  Checkpoints: %d\n", count)

	cp, err := store.LatestCheckpoint(planID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Println("  No checkpoint recorded.")
			return nil
		}
		return fmt.Errorf("latest checkpoint: %w", err)
	}

	done := make(map[string]string, len(rec.Plan.Subtasks))
	for _, id := range cp.State.CompletedSubtasks {
		done[id] = "completed"
	}
	for _, id := range cp.State.FailedSubtasks {
		done[id] = "failed"
	}
	for _, id := range cp.State.RunningSubtasks {
		done[id] = "running"
	}

	fmt.Println()
	fmt.Println("Subtasks:")
	for _, st := range rec.Plan.Subtasks {
		mark := done[st.ID]
		if mark == "" {
			mark = "pending"
		}
		fmt.Printf("  %s %-20s %s\n", subtaskMark(mark), st.ID, st.Name)
	}
	return nil
}

func subtaskMark(status string) string {
	switch status {
	case "completed":
		return color.GreenString("✓")
	case "failed":
		return color.RedString("✗")
	case "running":
		return color.CyanString("▶")
	default:
		return "·"
	}
}

func colorStatus(status models.PlanStatus) string {
	switch status {
	case models.PlanStatusCompleted:
		return color.GreenString(string(status))
	case models.PlanStatusFailed:
		return color.RedString(string(status))
	case models.PlanStatusPaused:
		return color.YellowString(string(status))
	case models.PlanStatusRunning:
		return color.CyanString(string(status))
	default:
		return string(status)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
