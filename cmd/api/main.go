package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/payout-reconciler/internal/api/handlers"
	"github.com/dvloznov/payout-reconciler/internal/api/middleware"
	"github.com/dvloznov/payout-reconciler/internal/classifier"
	"github.com/dvloznov/payout-reconciler/internal/config"
	eventsKafka "github.com/dvloznov/payout-reconciler/internal/events/kafka"
	infraBQ "github.com/dvloznov/payout-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/payout-reconciler/internal/jobs"
	"github.com/dvloznov/payout-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/payout-reconciler/internal/ledger"
	"github.com/dvloznov/payout-reconciler/internal/logger"
	"github.com/dvloznov/payout-reconciler/internal/processor"
	"github.com/dvloznov/payout-reconciler/internal/receipts"
	"github.com/dvloznov/payout-reconciler/internal/recon"
	"github.com/dvloznov/payout-reconciler/internal/report"
)

func main() {
	_ = godotenv.Load()

	var (
		port    = flag.String("port", "8080", "HTTP server port")
		cfgFile = flag.String("config", os.Getenv("RECON_CONFIG_FILE"), "Path to a YAML config file (optional)")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	settings, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := settings.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration is incomplete")
	}

	engine, cleanup, err := buildEngine(ctx, settings, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}
	defer cleanup()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	// Start worker in background to process runs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		reconJob, ok := job.(*jobs.ReconcileJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", reconJob.JobID).
			Str("start_date", reconJob.StartDate).
			Str("end_date", reconJob.EndDate).
			Msg("Processing reconciliation job")

		start, err := parseBound(reconJob.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start_date %q: %w", reconJob.StartDate, err)
		}
		end, err := parseBound(reconJob.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end_date %q: %w", reconJob.EndDate, err)
		}

		stats, err := engine.Run(ctx, start, end)
		if stats != nil {
			reconJob.RunID = stats.RunID
		}
		if err != nil {
			log.Error().Err(err).Str("job_id", reconJob.JobID).Msg("Reconciliation run failed")
			return err
		}

		log.Info().
			Str("job_id", reconJob.JobID).
			Str("run_id", stats.RunID).
			Str("status", string(stats.Status())).
			Msg("Reconciliation run finished")

		return nil
	}

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	runsHandler := handlers.NewRunsHandler(jobQueue, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			runsHandler.EnqueueRun(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

func parseBound(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := processor.ParseTimeBound(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// buildEngine wires the engine and its optional collaborators from the
// settings surface. The returned cleanup closes every client that was
// opened.
func buildEngine(ctx context.Context, settings *config.Settings, log zerolog.Logger) (*recon.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sheetStore, err := ledger.NewSheetStore(ctx,
		settings.Get(config.KeySpreadsheetID),
		settings.Get(config.KeySheetName))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	client := processor.NewClient(settings.Get(config.KeyAPIKey))

	assetStore, err := receipts.NewGCSStore(ctx, settings.Get(config.KeyReceiptsBucket))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := assetStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close receipt store")
		}
	})

	resolver := receipts.NewResolver(assetStore, receipts.NewChromeRenderer(),
		settings.Get(config.KeyReceiptsFolder))
	if model := settings.Get(config.KeyGeminiModel); model != "" {
		resolver = resolver.WithClassifier(classifier.NewGeminiClassifier(model))
	}

	engine := recon.NewEngine(sheetStore, client, resolver, recon.Config{
		DescriptionPrefix: settings.Get(config.KeyPayoutPrefix),
		Institution:       settings.Get(config.KeyInstitutionName),
		PayoutCategory:    settings.Get(config.KeyPayoutCategory),
		FeeCategory:       settings.Get(config.KeyFeeCategory),
	}).WithAssetRemover(assetStore)

	if project := settings.Get(config.KeyBigQueryProject); project != "" {
		audit, err := infraBQ.NewRunRepository(ctx, project, settings.Get(config.KeyBigQueryDataset))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := audit.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close audit repository")
			}
		})
		engine = engine.WithAudit(audit)
	}

	if to := settings.Get(config.KeySummaryEmail); to != "" {
		email, err := report.NewEmailReporter(ctx, report.EmailConfig{
			CredentialsPath: settings.Get(config.KeyGmailCredentials),
			TokenPath:       settings.Get(config.KeyGmailToken),
			To:              to,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		engine = engine.WithReporters(email)
	}

	if token := settings.Get(config.KeyNotionToken); token != "" {
		engine = engine.WithReporters(report.NewNotionReporter(token,
			settings.Get(config.KeyNotionDatabaseID)))
	}

	if brokers := settings.Get(config.KeyKafkaBrokers); brokers != "" {
		publisher := eventsKafka.NewPublisher(strings.Split(brokers, ","))
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close event publisher")
			}
		})
		engine = engine.WithReporters(publisher)
	}

	return engine, cleanup, nil
}
