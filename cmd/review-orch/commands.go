package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quotio/review-orchestrator/internal/config"
	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/history"
	"github.com/quotio/review-orchestrator/internal/notify"
	"github.com/quotio/review-orchestrator/internal/prompts"
	"github.com/quotio/review-orchestrator/internal/queue"
	"github.com/quotio/review-orchestrator/internal/schedule"
	"github.com/quotio/review-orchestrator/web/api"
)

var (
	runWorkspace   string
	runWorkers     int
	runPrompt      string
	runPromptFile  string
	runFile        string
	runModel       string
	runFullAuto    bool
	runSkipGitRepo bool
	runEphemeral   bool
	runAggregate   bool
	runFix         bool

	historyWorkspace string
	historyLimit     int

	statusWorkspace string

	serveWorkspace string
	servePort      int

	scheduleFile string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a review run and wait for it to finish",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runWorkspace, "workspace", ".", "workspace directory to review")
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "number of parallel review workers")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "review prompt shared by all workers")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "file with one worker prompt per line")
	runCmd.Flags().StringVar(&runFile, "file", "", "YAML run request file")
	runCmd.Flags().StringVar(&runModel, "model", "", "agent model override")
	runCmd.Flags().BoolVar(&runFullAuto, "full-auto", true, "run agents without approval prompts")
	runCmd.Flags().BoolVar(&runSkipGitRepo, "skip-git-repo-check", true, "allow workspaces without a git repository")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "run agents in ephemeral sessions")
	runCmd.Flags().BoolVar(&runAggregate, "aggregate", true, "aggregate worker findings into one report")
	runCmd.Flags().BoolVar(&runFix, "fix", false, "run a fix pass against the aggregated report")
	rootCmd.AddCommand(runCmd)

	historyCmd := &cobra.Command{
		Use:   "history [JOB_ID]",
		Short: "List past runs, or show one run with its event log",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyWorkspace, "workspace", ".", "workspace directory")
	historyCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultListLimit, "maximum number of runs to list")
	rootCmd.AddCommand(historyCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run for a workspace",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", ".", "workspace directory")
	rootCmd.AddCommand(statusCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveWorkspace, "workspace", ".", "workspace directory")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")
	rootCmd.AddCommand(serveCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run review runs on cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleFile, "file", "schedule.toml", "schedule configuration file")
	rootCmd.AddCommand(scheduleCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	notifiers := []notify.Notifier{
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	return notify.NewMultiNotifier(notifiers...)
}

// applyDefaultPrompts fills empty prompt bodies from the embedded
// templates, honoring workspace and user override directories.
func applyDefaultPrompts(cfg *domain.RunConfig) error {
	loader := prompts.DefaultLoader(cfg.Workspace)

	if cfg.Prompt == "" && len(cfg.PromptList) == 0 {
		body, err := loader.Get("review")
		if err != nil {
			return err
		}
		cfg.Prompt = body
	}
	if cfg.RunAggregate && cfg.AggregatePrompt == "" {
		body, err := loader.Get("aggregate")
		if err != nil {
			return err
		}
		cfg.AggregatePrompt = body
	}
	if cfg.RunFix && cfg.FixPrompt == "" {
		body, err := loader.Get("fix")
		if err != nil {
			return err
		}
		cfg.FixPrompt = body
	}
	return nil
}

func buildRunConfig(cmd *cobra.Command, appCfg *config.Config) (*domain.RunConfig, error) {
	if runFile != "" {
		return config.LoadRunFile(config.ExpandPath(runFile), appCfg)
	}

	workspace, err := filepath.Abs(config.ExpandPath(runWorkspace))
	if err != nil {
		return nil, err
	}

	cfg := &domain.RunConfig{
		Workspace:        workspace,
		WorkerCount:      runWorkers,
		Prompt:           runPrompt,
		Model:            runModel,
		FullAuto:         appCfg.Agent.FullAuto,
		SkipGitRepoCheck: appCfg.Agent.SkipGitRepoCheck,
		Ephemeral:        runEphemeral,
		RunAggregate:     runAggregate,
		RunFix:           runFix,
	}

	if cfg.Model == "" {
		cfg.Model = appCfg.Agent.Model
	}
	if cmd.Flags().Changed("full-auto") {
		cfg.FullAuto = runFullAuto
	}
	if cmd.Flags().Changed("skip-git-repo-check") {
		cfg.SkipGitRepoCheck = runSkipGitRepo
	}

	if runPromptFile != "" {
		if runPrompt != "" {
			return nil, fmt.Errorf("prompt and prompt-file are mutually exclusive")
		}
		list, err := config.ReadPromptList(config.ExpandPath(runPromptFile))
		if err != nil {
			return nil, err
		}
		cfg.PromptList = list
	}

	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	appCfg, err := loadConfig()
	if err != nil {
		return err
	}

	runCfg, err := buildRunConfig(cmd, appCfg)
	if err != nil {
		return err
	}
	if err := applyDefaultPrompts(runCfg); err != nil {
		return err
	}

	q := queue.New(queue.Options{
		Binary:   appCfg.Agent.Binary,
		Notifier: buildNotifier(appCfg),
		OnEvent: func(ev domain.RunEvent) {
			fmt.Printf("%s [%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Level, ev.Message)
		},
	})

	jobID, err := q.StartRun(runCfg)
	if err != nil {
		return err
	}
	fmt.Printf("Started run %s in %s\n", jobID, runCfg.Workspace)

	q.Wait()

	counts := q.Counts()
	fmt.Printf("Run %s finished: %s | %d workers, %d completed, %d failed\n",
		jobID, q.Phase(), counts.Total, counts.Completed, counts.Failed)
	if path := q.AggregatePath(); path != "" {
		fmt.Printf("Aggregate report: %s\n", path)
	}
	if path := q.FixPath(); path != "" {
		fmt.Printf("Fix report: %s\n", path)
	}

	if q.Phase() != domain.PhaseCompleted {
		return fmt.Errorf("run finished with phase %s", q.Phase())
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(config.ExpandPath(historyWorkspace))
	if err != nil {
		return err
	}

	store, err := history.Open(workspace)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(store, args[0])
	}

	items, err := store.ListRuns(workspace, historyLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No runs recorded for this workspace")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCREATED\tWORKERS\tFAILED\tPHASE")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			item.JobID, humanize.Time(item.CreatedAt), item.WorkerCount, item.FailedWorkers, item.Phase)
	}
	w.Flush()

	return nil
}

func showRun(store *history.Store, jobID string) error {
	item, err := store.GetRun(jobID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("run %s not found", jobID)
	}

	fmt.Printf("Run %s (%s)\n", item.JobID, item.Phase)
	fmt.Printf("  Created:  %s (%s)\n", item.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(item.CreatedAt))
	fmt.Printf("  Workers:  %d (%d failed)\n", item.WorkerCount, item.FailedWorkers)
	if item.Model != "" {
		fmt.Printf("  Model:    %s\n", item.Model)
	}
	fmt.Printf("  Job dir:  %s\n", item.JobDir)
	if item.AggregatePath != "" {
		fmt.Printf("  Report:   %s\n", item.AggregatePath)
	}
	if item.FixPath != "" {
		fmt.Printf("  Fix:      %s\n", item.FixPath)
	}

	events, err := store.ListEvents(jobID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("  Events:")
		for _, ev := range events {
			fmt.Printf("    %s [%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Level, ev.Message)
		}
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(config.ExpandPath(statusWorkspace))
	if err != nil {
		return err
	}

	store, err := history.Open(workspace)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListRuns(workspace, 1)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No runs recorded for this workspace")
		return nil
	}

	return showRun(store, items[0].JobID)
}

func runServe(cmd *cobra.Command, args []string) error {
	appCfg, err := loadConfig()
	if err != nil {
		return err
	}

	workspace, err := filepath.Abs(config.ExpandPath(serveWorkspace))
	if err != nil {
		return err
	}

	store, err := history.Open(workspace)
	if err != nil {
		return err
	}

	var server *api.Server
	q := queue.New(queue.Options{
		Binary:   appCfg.Agent.Binary,
		Notifier: buildNotifier(appCfg),
		OnEvent: func(ev domain.RunEvent) {
			if server != nil {
				server.Broadcast(api.SSEEvent{Type: "run_event", Data: ev})
			}
		},
	})

	port := servePort
	if port == 0 {
		port = appCfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", appCfg.Web.Host, port)

	server = api.NewServer(q, store, workspace, addr)
	if err := server.WatchHistory(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: history watch unavailable: %v\n", err)
	}

	fmt.Printf("Serving review queue for %s at http://%s\n", workspace, addr)
	return server.Start()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	appCfg, err := loadConfig()
	if err != nil {
		return err
	}

	schedCfg, err := schedule.LoadScheduleConfig(config.ExpandPath(scheduleFile))
	if err != nil {
		return err
	}
	if len(schedCfg.Entries) == 0 {
		return fmt.Errorf("no schedule entries in %s", scheduleFile)
	}

	sched, err := schedule.NewScheduler(schedCfg.Entries)
	if err != nil {
		return err
	}

	for _, name := range sched.ListEntries() {
		fmt.Printf("Scheduled %s, next run %s\n", name, sched.NextRun(name).Format("2006-01-02 15:04"))
	}

	sched.Start(func(entry schedule.EntryConfig) error {
		runCfg, err := config.LoadRunFile(config.ExpandPath(entry.RunFile), appCfg)
		if err != nil {
			return err
		}
		if err := applyDefaultPrompts(runCfg); err != nil {
			return err
		}

		opts := queue.Options{Binary: appCfg.Agent.Binary}
		if entry.NotifyOnComplete {
			opts.Notifier = buildNotifier(appCfg)
		}
		q := queue.New(opts)

		jobID, err := q.StartRun(runCfg)
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled run %s started job %s\n", entry.Name, jobID)

		q.Wait()
		if q.Phase() != domain.PhaseCompleted {
			return fmt.Errorf("job %s finished with phase %s", jobID, q.Phase())
		}
		return nil
	})

	return nil
}
