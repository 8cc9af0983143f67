package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration subplot would run with, after merging
defaults, the user config file, the project config file, and SUBPLOT_*
environment variables.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	userPath := config.GetUserConfigPath()
	projectPath := config.GetProjectConfigPath()

	fmt.Println("Config files:")
	fmt.Printf("  user:    %s%s\n", userPath, existsNote(userPath))
	if projectPath != "" {
		fmt.Printf("  project: %s\n", projectPath)
	} else {
		fmt.Println("  project: (none found)")
	}
	fmt.Println()

	fmt.Println("Agent:")
	fmt.Printf("  command: %s\n", cfg.Agent.Command)
	fmt.Printf("  args:    %v\n", cfg.Agent.Args)
	if len(cfg.Agent.Profiles) > 0 {
		fmt.Println("  profiles:")
		names := make([]string, 0, len(cfg.Agent.Profiles))
		for name := range cfg.Agent.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.Agent.Profiles[name]
			fmt.Printf("    %s: model=%s args=%v\n", name, p.Model, p.Args)
		}
	}
	fmt.Println()

	fmt.Println("Scheduler:")
	fmt.Printf("  max_passes:        %d\n", cfg.Scheduler.MaxPasses)
	fmt.Printf("  wave_settle_delay: %s\n", cfg.Scheduler.WaveSettleDelay)
	if cfg.Scheduler.MaxParallel > 0 {
		fmt.Printf("  max_parallel:      %d\n", cfg.Scheduler.MaxParallel)
	} else {
		fmt.Println("  max_parallel:      unlimited")
	}
	fmt.Println()

	fmt.Println("Executor:")
	fmt.Printf("  hard_ceiling:         %s\n", cfg.Executor.HardCeiling)
	fmt.Printf("  hard_ceiling_complex: %s\n", cfg.Executor.HardCeilingComplex)
	fmt.Printf("  inactivity_window:    %s\n", cfg.Executor.InactivityWindow)
	fmt.Printf("  termination_grace:    %s\n", cfg.Executor.TerminationGrace)
	fmt.Printf("  max_sessions:         %d\n", cfg.Executor.MaxSessions)
	fmt.Println()

	dbPath := cfg.Checkpoint.DBPath
	if dbPath == "" {
		dbPath = checkpoint.DefaultPath()
	}
	fmt.Println("Checkpoint:")
	fmt.Printf("  interval: %s\n", cfg.Checkpoint.Interval)
	fmt.Printf("  db_path:  %s\n", dbPath)

	if cfg.Watch.Dir != "" {
		fmt.Println()
		fmt.Println("Watch:")
		fmt.Printf("  dir: %s\n", cfg.Watch.Dir)
	}

	return nil
}

func existsNote(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return " (not present)"
	}
	return ""
}
