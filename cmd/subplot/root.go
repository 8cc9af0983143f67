package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/subplot-sh/subplot/internal/config"
)

// CheckAgentCLI verifies that the configured agent binary is available in
// PATH. Returns an error with installation instructions if not found.
func CheckAgentCLI(cfg *config.Config) error {
	_, err := exec.LookPath(cfg.Agent.Command)
	if err != nil {
		return fmt.Errorf("agent command %q not found in PATH\n\n"+
			"Subplot executes each subtask as one agent process.\n"+
			"Install the agent CLI or point agent.command at another binary\n"+
			"in %s", cfg.Agent.Command, config.GetUserConfigPath())
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "subplot",
	Short: "Dependency-driven plan runner",
	Long: `Subplot executes plans: sets of subtasks with dependency edges,
run as parallel waves of external agent processes.

Core capabilities:
- Schedules subtasks in waves as their dependencies complete
- Spawns one agent process per subtask with enforced time ceilings
- Checkpoints progress to SQLite so interrupted plans resume
- Detects deadlocked plans and fails them with a precise reason`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
