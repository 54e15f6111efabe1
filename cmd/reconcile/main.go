package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/payout-reconciler/internal/classifier"
	"github.com/dvloznov/payout-reconciler/internal/config"
	eventsKafka "github.com/dvloznov/payout-reconciler/internal/events/kafka"
	infraBQ "github.com/dvloznov/payout-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/payout-reconciler/internal/ledger"
	"github.com/dvloznov/payout-reconciler/internal/logger"
	"github.com/dvloznov/payout-reconciler/internal/processor"
	"github.com/dvloznov/payout-reconciler/internal/receipts"
	"github.com/dvloznov/payout-reconciler/internal/recon"
	"github.com/dvloznov/payout-reconciler/internal/report"
)

func main() {
	// Load .env file if it exists (for local development)
	_ = godotenv.Load()

	var (
		startStr = flag.String("start", "", "Earliest payout arrival date, YYYY-MM-DD (optional)")
		endStr   = flag.String("end", "", "Latest payout arrival date, YYYY-MM-DD (optional)")
		cfgFile  = flag.String("config", "", "Path to a YAML config file (optional)")
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

	start, err := parseBound(*startStr)
	if err != nil {
		log.Fatal().Err(err).Str("flag", "start").Msg("Invalid date bound")
	}
	end, err := parseBound(*endStr)
	if err != nil {
		log.Fatal().Err(err).Str("flag", "end").Msg("Invalid date bound")
	}

	engine, cleanup, err := buildEngine(ctx, settings, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}
	defer cleanup()

	stats, err := engine.Run(ctx, start, end)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation run failed")
		os.Exit(1)
	}

	log.Info().
		Str("run_id", stats.RunID).
		Str("status", string(stats.Status())).
		Int("matched", stats.PayoutsMatched).
		Int("applied", stats.PayoutsApplied).
		Int("failed", stats.PayoutsFailed).
		Msg("Reconciliation run finished")

	if stats.PayoutsFailed > 0 {
		os.Exit(1)
	}
}

// parseBound converts an optional date flag into an engine bound.
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
