package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/config"
	"github.com/subplot-sh/subplot/internal/executor"
	"github.com/subplot-sh/subplot/internal/orchestrator"
	"github.com/subplot-sh/subplot/internal/planfile"
	"github.com/subplot-sh/subplot/pkg/models"
)

var (
	runWatch      bool
	runWorkingDir string
	runResume     string
)

var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Execute a plan file",
	Long: `Execute a plan: every subtask runs as its own agent process, launched
in waves as dependencies complete.

With --watch, no plan file is given; instead the configured drop directory
is monitored and every valid plan file written there is executed.

With --resume, a previously interrupted plan is continued from its latest
checkpoint. Subtasks that were mid-flight are relaunched from scratch.

Examples:
  subplot run plan.yaml            # Run one plan to completion
  subplot run --resume 1a2b3c4d    # Resume a paused plan by ID
  subplot run --watch              # Serve the plan drop directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch the drop directory for plan files")
	runCmd.Flags().StringVarP(&runWorkingDir, "dir", "C", "", "Working directory for agent processes (overrides the plan file)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume a stored plan by ID from its latest checkpoint")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := CheckAgentCLI(cfg); err != nil {
		return err
	}

	pool, store, err := buildPool(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Plans left running by a dead process become resumable.
	if n, err := store.ReclaimOrphans(); err == nil && n > 0 {
		fmt.Printf("Reclaimed %d orphaned plan(s); resume with 'subplot run --resume <id>'\n", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printEvents(ctx, pool)

	switch {
	case runWatch:
		return runWatchMode(ctx, cfg, pool)
	case runResume != "":
		if err := pool.ResumeStored(ctx, runResume); err != nil {
			return err
		}
		return waitForPlan(pool, runResume)
	default:
		if len(args) != 1 {
			return fmt.Errorf("a plan file is required (or use --watch / --resume)")
		}
		return runPlanFile(ctx, pool, args[0])
	}
}

// runPlanFile executes a single plan file to completion.
func runPlanFile(ctx context.Context, pool *orchestrator.Pool, path string) error {
	doc, err := planfile.Load(path)
	if err != nil {
		return err
	}

	workingDir := doc.WorkingDir
	if runWorkingDir != "" {
		workingDir = runWorkingDir
	}
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	plan, err := pool.CreatePlan(ctx, doc.Description, doc.ModelSubtasks(), workingDir)
	if err != nil {
		return err
	}

	fmt.Printf("Plan %s: %d subtasks in %s\n", color.CyanString(plan.ID), len(plan.Subtasks), workingDir)
	return waitForPlan(pool, plan.ID)
}

// runWatchMode serves the drop directory until interrupted.
func runWatchMode(ctx context.Context, cfg *config.Config, pool *orchestrator.Pool) error {
	dir := cfg.Watch.Dir
	if dir == "" {
		return fmt.Errorf("watch.dir is not configured; set it in %s", config.GetUserConfigPath())
	}

	w, err := planfile.NewWatcher(dir, func(doc *planfile.Document, path string) {
		workingDir := doc.WorkingDir
		if workingDir == "" {
			workingDir, _ = os.Getwd()
		}
		if _, err := pool.CreatePlan(ctx, doc.Description, doc.ModelSubtasks(), workingDir); err != nil {
			color.Red("Rejected %s: %v", path, err)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s for plan files (ctrl-c to stop)\n", dir)
	err = w.Run(ctx)
	pool.Shutdown()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// waitForPlan blocks until the plan is terminal and reports the result.
func waitForPlan(pool *orchestrator.Pool, planID string) error {
	o, err := pool.Get(planID)
	if err != nil {
		return err
	}
	<-o.Done()
	pool.Wait()

	status, code := o.Status()
	completed := len(o.State().Completed())
	failed := len(o.State().Failed())

	fmt.Println()
	if status == models.PlanStatusCompleted {
		color.Green("Plan %s completed: %d/%d subtasks", planID, completed, completed+failed)
		return nil
	}
	color.Red("Plan %s failed (%s): %d completed, %d failed", planID, code, completed, failed)
	return fmt.Errorf("plan %s failed: %s", planID, code)
}

// printEvents streams plan events to the terminal.
func printEvents(ctx context.Context, pool *orchestrator.Pool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pool.Events():
			printEvent(ev)
		}
	}
}

func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventSubtaskStarted:
		fmt.Printf("%s %s %s\n", color.CyanString("▶"), ev.PlanID, ev.SubtaskName)
	case orchestrator.EventSubtaskCompleted:
		fmt.Printf("%s %s %s\n", color.GreenString("✓"), ev.PlanID, ev.SubtaskName)
	case orchestrator.EventSubtaskFailed:
		fmt.Printf("%s %s %s (%s)\n", color.RedString("✗"), ev.PlanID, ev.SubtaskName, ev.Message)
	case orchestrator.EventPlanPaused:
		color.Yellow("⏸ plan %s paused", ev.PlanID)
	case orchestrator.EventPlanResumed:
		color.Yellow("⏵ plan %s resumed", ev.PlanID)
	case orchestrator.EventPlanCompleted:
		color.Green("plan %s completed", ev.PlanID)
	case orchestrator.EventPlanFailed:
		color.Red("plan %s failed (%s)", ev.PlanID, ev.Code)
	}
}

// buildPool wires the shared executor, checkpoint manager, and pool from
// configuration.
func buildPool(cfg *config.Config) (*orchestrator.Pool, *checkpoint.Store, error) {
	dbPath := cfg.Checkpoint.DBPath
	if dbPath == "" {
		dbPath = checkpoint.DefaultPath()
	}
	store, err := checkpoint.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	profiles := make(map[string]executor.Profile, len(cfg.Agent.Profiles))
	for name, p := range cfg.Agent.Profiles {
		profiles[name] = executor.Profile{Args: p.Args, Model: p.Model}
	}

	exe := executor.New(executor.Config{
		AgentCommand:       cfg.Agent.Command,
		AgentArgs:          cfg.Agent.Args,
		Profiles:           profiles,
		HardCeiling:        cfg.Executor.HardCeiling,
		HardCeilingComplex: cfg.Executor.HardCeilingComplex,
		InactivityWindow:   cfg.Executor.InactivityWindow,
		TerminationGrace:   cfg.Executor.TerminationGrace,
		MaxSessions:        int64(cfg.Executor.MaxSessions),
	}, nil)

	mgr := checkpoint.NewManager(store, cfg.Checkpoint.Interval)

	pool := orchestrator.NewPool(exe, mgr, orchestrator.Config{
		MaxPasses:       cfg.Scheduler.MaxPasses,
		WaveSettleDelay: cfg.Scheduler.WaveSettleDelay,
		MaxParallel:     cfg.Scheduler.MaxParallel,
	})
	return pool, store, nil
}
