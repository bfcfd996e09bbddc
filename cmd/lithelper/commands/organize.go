package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ovenKiller/lithelper/internal/batch"
	"github.com/ovenKiller/lithelper/internal/config"
	"github.com/ovenKiller/lithelper/internal/metadata"
	"github.com/ovenKiller/lithelper/internal/notify"
	"github.com/ovenKiller/lithelper/internal/observability"
	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/scheduler"
	"github.com/ovenKiller/lithelper/internal/store"
	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/version"
)

// stopTimeout bounds draining the executors after a batch finishes.
const stopTimeout = 30 * time.Second

// metricsReadHeaderTimeout guards the metrics endpoint against slow clients.
const metricsReadHeaderTimeout = 5 * time.Second

// OrganizeCommand holds configuration and flags for the organize command.
type OrganizeCommand struct {
	configPath  string
	inputPath   string
	translate   string
	classify    string
	taskDir     string
	metricsAddr string
	verbose     bool
}

// NewOrganizeCommand creates the organize command.
func NewOrganizeCommand() *cobra.Command {
	oc := &OrganizeCommand{}

	cmd := &cobra.Command{
		Use:   "organize",
		Short: "Run one organize batch from a papers file",
		Long: `Organize reads a JSON or YAML papers file, enriches each paper's
metadata, optionally translates abstracts and classifies papers, and exports
the batch as a CSV artifact.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return oc.run(cobraCmd.Context())
		},
	}

	cmd.Flags().StringVarP(&oc.inputPath, "input", "i", "", "papers file (json or yaml), required")
	cmd.Flags().StringVar(&oc.configPath, "config", "", "config file path")
	cmd.Flags().StringVar(&oc.translate, "translate", "", "translate abstracts into the given language")
	cmd.Flags().StringVar(&oc.classify, "classify", "", "classify papers under the given standard")
	cmd.Flags().StringVarP(&oc.taskDir, "dir", "d", "", "storage subdirectory for artifacts")
	cmd.Flags().StringVar(&oc.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVarP(&oc.verbose, "verbose", "v", false, "verbose output")

	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (oc *OrganizeCommand) run(ctx context.Context) error {
	cfg, err := config.LoadConfig(oc.configPath)
	if err != nil {
		return err
	}

	providers, err := initObservability(cfg, oc.verbose, observability.ModeCLI)
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	if oc.metricsAddr != "" {
		serveMetrics(oc.metricsAddr, providers.Logger)
	}

	papers, err := LoadPapersFile(oc.inputPath)
	if err != nil {
		return err
	}

	app, err := buildApp(cfg, providers)
	if err != nil {
		return err
	}

	defer app.organizer.Close()

	app.dispatcher.Start(ctx)

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		stopErr := app.dispatcher.Stop(stopCtx)
		if stopErr != nil {
			providers.Logger.Warn("executor drain incomplete", "error", stopErr)
		}
	}()

	for _, p := range papers {
		key := fmt.Sprintf("%s_%s", task.KindMetadataExtraction, p.ID)
		extraction := task.New(key, task.KindMetadataExtraction, metadata.ExtractionParams{Paper: p})

		submitErr := app.dispatcher.Submit(extraction)
		if submitErr != nil {
			return fmt.Errorf("submit extraction for %s: %w", p.ID, submitErr)
		}
	}

	opts := oc.buildOptions()

	started := time.Now()

	batchID, err := app.organizer.OrganizePapers(ctx, papers, opts)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(os.Stdout, "Organizing %d papers (batch %s)...\n", len(papers), batchID)

	waitErr := app.organizer.Wait(ctx, batchID)
	if waitErr != nil {
		return waitErr
	}

	snapshot, ok := app.organizer.Snapshot(batchID)
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrUnknownBatch, batchID)
	}

	renderSummary(os.Stdout, &snapshot, time.Since(started))

	if snapshot.Status == batch.StatusFailed {
		return errors.New("batch finished with failures")
	}

	return nil
}

func (oc *OrganizeCommand) buildOptions() organize.Options {
	opts := organize.Options{
		Storage: organize.StorageOptions{TaskDirectory: oc.taskDir},
	}

	if oc.translate != "" {
		opts.Translation = organize.TranslationOptions{Enabled: true, TargetLanguage: oc.translate}
	}

	if oc.classify != "" {
		opts.Classification = organize.ClassificationOptions{Enabled: true, SelectedStandard: oc.classify}
	}

	return opts
}

// app bundles the wired core components.
type app struct {
	dispatcher *scheduler.Dispatcher
	organizer  *batch.Organizer
}

// buildApp wires the scheduler, coordinator, organizer, and handlers from the
// configuration.
func buildApp(cfg *config.Config, providers observability.Providers) (*app, error) {
	logger := providers.Logger

	metrics, metricsErr := observability.NewTaskMetrics(providers.Meter)
	if metricsErr != nil {
		return nil, metricsErr
	}

	bus := notify.NewBus(logger)

	queueStore, storeErr := buildQueueStore(cfg, logger)
	if storeErr != nil {
		return nil, storeErr
	}

	coordinator := metadata.NewCoordinator(cfg.Metadata.PollInterval, logger)

	storage := organize.NewLocalStorage(cfg.Organize.StorageRoot)

	deps := scheduler.ExecutorDeps{
		Store:   queueStore,
		Bus:     bus,
		Metrics: metrics,
		Tracer:  providers.Tracer,
		Logger:  logger,
	}

	organizeHandler := organize.NewHandler(organize.StaticAIClient{}, storage, logger)
	organizeExec := scheduler.NewExecutor(organizeHandler, executorConfig(cfg.Scheduler.Organize, cfg.Persistence), deps)

	extractorHandler := metadata.NewExtractorHandler(coordinator, metadata.IdentityEnricher{}, logger)
	extractorExec := scheduler.NewExecutor(extractorHandler, executorConfig(cfg.Scheduler.Metadata, cfg.Persistence), deps)

	dispatcher := scheduler.NewDispatcher(logger)

	registerErr := errors.Join(
		dispatcher.Register(task.KindOrganizePaper, organizeExec),
		dispatcher.Register(task.KindMetadataExtraction, extractorExec),
	)
	if registerErr != nil {
		return nil, registerErr
	}

	organizer := batch.NewOrganizer(batch.OrganizerDeps{
		Submitter:   dispatcher,
		Coordinator: coordinator,
		Bus:         bus,
		Storage:     storage,
		WaitTimeout: cfg.Metadata.WaitTimeout,
		Logger:      logger,
	})

	return &app{dispatcher: dispatcher, organizer: organizer}, nil
}

func buildQueueStore(cfg *config.Config, logger *slog.Logger) (*store.QueueStore, error) {
	if cfg.Persistence.Strategy == config.StrategyNone {
		return nil, nil
	}

	kv, err := store.NewFileKV(cfg.Persistence.Dir)
	if err != nil {
		return nil, err
	}

	var codec store.Codec = store.NewJSONCodec()
	if cfg.Persistence.Compression == config.CompressionLZ4 {
		codec = store.NewLZ4Codec()
	}

	return store.NewQueueStore(kv, codec, logger), nil
}

func executorConfig(h config.HandlerConfig, p config.PersistenceConfig) scheduler.ExecutorConfig {
	retention := scheduler.RetentionNone
	if p.Strategy == config.StrategyFixedDuration {
		retention = scheduler.RetentionFixedDuration
	}

	return scheduler.ExecutorConfig{
		MaxConcurrency:    h.MaxConcurrency,
		ExecutionCapacity: h.ExecutionCapacity,
		WaitingCapacity:   h.WaitingCapacity,
		IdleInterval:      h.IdleInterval,
		YieldInterval:     h.YieldInterval,
		ErrorBackoff:      h.ErrorBackoff,
		Retention:         retention,
		RetentionLimit:    p.RetentionLimit(),
	}
}

func initObservability(cfg *config.Config, verbose bool, mode observability.AppMode) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.LogJSON = cfg.Telemetry.LogJSON
	obsCfg.LogLevel = parseLogLevel(cfg.Telemetry.LogLevel)

	if verbose {
		obsCfg.LogLevel = slog.LevelDebug
	}

	return observability.Init(obsCfg)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// serveMetrics starts the Prometheus scrape endpoint in the background.
// Failures are logged; metrics never block the batch run.
func serveMetrics(addr string, logger *slog.Logger) {
	handler, _, err := observability.PrometheusHandler()
	if err != nil {
		logger.Warn("metrics endpoint disabled", "error", err)

		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("metrics endpoint stopped", "error", serveErr)
		}
	}()

	logger.Info("serving metrics", "addr", addr)
}
