// Command crew runs the multi-agent task worker and its queue utilities.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crew/internal/chat/ports"
	"crew/internal/config"
	"crew/internal/llm"
	"crew/internal/observability"
	"crew/internal/progress"
	"crew/internal/shared/logging"
	"crew/internal/utils"
	"crew/internal/worker"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "crew",
		Short:         "Multi-agent task-processing worker",
		Long:          "crew polls a task queue and runs a group chat of LLM agents per task until the termination policy decides the conversation is done.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default crew.yaml, ~/.crew/crew.yaml)")

	root.AddCommand(newWorkerCmd(&configPath))
	root.AddCommand(newEnqueueCmd(&configPath))
	return root
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task-processing worker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func newEnqueueCmd(configPath *string) *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "enqueue <task statement>",
		Short: "Add a task to the worker queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			queue, err := worker.NewFileQueue(cfg.Worker.QueueDir, logging.Nop())
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = uuid.NewString()
			}
			task := ports.Task{ID: taskID, Content: args[0]}
			if err := queue.Enqueue(task); err != nil {
				return err
			}
			fmt.Println(green("Enqueued ") + taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "id", "", "explicit task id (default random)")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	utils.GetLogger().SetLevel(utils.ParseLevel(cfg.Logging.Level))
	logger := logging.NewComponentLogger("WORKER")

	tracer, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown: %v", err)
		}
	}()

	metrics := observability.DefaultMetrics()

	queue, err := worker.NewFileQueue(cfg.Worker.QueueDir, logger)
	if err != nil {
		return err
	}

	roster := worker.DefaultRoster()
	if cfg.Worker.RosterPath != "" {
		roster, err = worker.LoadRoster(cfg.Worker.RosterPath)
		if err != nil {
			return err
		}
	}

	client := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Timeout:        cfg.LLM.Timeout,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		RequestRetries: cfg.LLM.RequestRetries,
	}, logging.NewComponentLogger("LLM"))
	runtime := llm.NewRuntime(client, ports.SystemClock())

	summaryClient := client
	if cfg.LLM.SummaryModel != "" && cfg.LLM.SummaryModel != cfg.LLM.Model {
		summaryClient = llm.NewClient(llm.Config{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.SummaryModel,
			Timeout:        cfg.LLM.Timeout,
			MaxTokens:      256,
			Temperature:    0,
			RequestRetries: cfg.LLM.RequestRetries,
		}, logging.NewComponentLogger("LLM"))
	}
	summarizer := llm.NewSummarizer(summaryClient)

	publisherOut := os.Stdout
	if cfg.Progress.LogPath != "" {
		f, err := os.OpenFile(cfg.Progress.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open progress log: %w", err)
		}
		defer func() { _ = f.Close() }()
		publisherOut = f
	}
	publisher := progress.NewLogPublisher(publisherOut)

	state, err := progress.NewPublisherState(0)
	if err != nil {
		return err
	}
	pipeline := progress.NewPipeline(
		progress.Config{
			Capacity:          cfg.Progress.QueueCapacity,
			HeartbeatInterval: cfg.Progress.HeartbeatInterval,
		},
		state,
		summarizer,
		publisher,
		logging.NewComponentLogger("PROGRESS"),
		metrics,
	)

	w, err := worker.New(worker.Options{
		Source:         queue,
		Runtime:        runtime,
		Roster:         roster,
		Pipeline:       pipeline,
		Publisher:      publisher,
		Listener:       observability.NewMetricsListener(metrics),
		Tracer:         tracer,
		Logger:         logger,
		PolicyConfig:   cfg.TerminationPolicy(),
		DetectorConfig: cfg.LoopDetector(),
		FirstSpeaker:   ports.Role(cfg.Chat.FirstSpeaker),
		AuditDir:       cfg.Worker.AuditDir,
		PollInterval:   cfg.Worker.PollInterval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println(green("crew worker started ") + gray(fmt.Sprintf("(queue=%s model=%s)", cfg.Worker.QueueDir, cfg.LLM.Model)))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println(yellow("crew worker stopped"))
	return nil
}
