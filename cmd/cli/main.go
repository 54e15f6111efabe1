package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/payout-reconciler/internal/config"
	infraBQ "github.com/dvloznov/payout-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/payout-reconciler/internal/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "settings":
		runSettings(log)
	case "check":
		runCheck(log)
	case "runs":
		runRuns(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Payout Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  settings  List the setting keys and their resolved values")
	fmt.Println("  check     Validate that all required settings are present")
	fmt.Println("  runs      List recent reconciliation runs from the audit table")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func loadSettings(log zerolog.Logger, cfgFile string) *config.Settings {
	settings, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return settings
}

// secret keys are masked when listed.
var secretKeys = map[string]bool{
	config.KeyAPIKey:      true,
	config.KeyNotionToken: true,
}

func runSettings(log zerolog.Logger) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	cfgFile := fs.String("config", "", "Path to a YAML config file (optional)")
	fs.Parse(os.Args[2:])

	settings := loadSettings(log, *cfgFile)

	props := config.Properties()
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	fmt.Println("\n=== Settings ===")
	for _, p := range props {
		val := settings.Get(p.Key)
		switch {
		case val == "" && p.Required:
			val = "(missing)"
		case val == "":
			val = "(unset)"
		case secretKeys[p.Key]:
			val = "********"
		}
		required := " "
		if p.Required {
			required = "*"
		}
		fmt.Printf("%s %-28s %s\n", required, p.Key, val)
	}
	fmt.Println("\n* required")
}

func runCheck(log zerolog.Logger) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfgFile := fs.String("config", "", "Path to a YAML config file (optional)")
	fs.Parse(os.Args[2:])

	settings := loadSettings(log, *cfgFile)

	if err := settings.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration is incomplete")
	}

	fmt.Println("Configuration OK.")
}

func runRuns(log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	cfgFile := fs.String("config", "", "Path to a YAML config file (optional)")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(os.Args[2:])

	settings := loadSettings(log, *cfgFile)

	project := settings.Get(config.KeyBigQueryProject)
	if project == "" {
		log.Fatal().Msg("Audit is not configured: set " + config.KeyBigQueryProject)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRunRepository(ctx, project, settings.Get(config.KeyBigQueryDataset))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer repo.Close()

	rows, err := repo.ListRecentRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	fmt.Printf("\n=== Reconciliation Runs (%d) ===\n", len(rows))
	for i, row := range rows {
		fmt.Printf("\n%d. %s\n", i+1, row.RunID)
		fmt.Printf("   Started:  %s\n", row.StartedTS.Format(time.RFC3339))
		if row.FinishedTS.Valid {
			fmt.Printf("   Finished: %s\n", row.FinishedTS.Timestamp.Format(time.RFC3339))
		}
		fmt.Printf("   Status:   %s\n", row.Status)
		if row.PayoutsMatched.Valid {
			fmt.Printf("   Matched:  %d  Applied: %d  Failed: %d\n",
				row.PayoutsMatched.Int64, row.PayoutsApplied.Int64, row.PayoutsFailed.Int64)
		}
		if row.ErrorMessage != "" {
			fmt.Printf("   Error:    %s\n", row.ErrorMessage)
		}
	}
	fmt.Println()
}
