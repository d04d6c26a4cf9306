// slotcleanup purges obsolete time slots once and exits. It reads the same
// configuration as the service; flags override the store and threshold.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/config"
	"github.com/example/lab-scheduler/internal/logging"
	"github.com/example/lab-scheduler/internal/persistence/stores"
	"github.com/example/lab-scheduler/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	olderThan  int
	dryRun     bool
	jsonOutput bool
	logLevel   string
	store      config.StoreConfig
}

func parseFlags(args []string, stderr io.Writer, defaults config.Config) (options, error) {
	opts := options{store: defaults.Store, logLevel: "warn"}

	flagSet := pflag.NewFlagSet("slotcleanup", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&opts.olderThan, "older-than", defaults.Retention.Days, "purge deleted slots last updated more than this many days ago")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "report what would be purged without changing the store")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	flagSet.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level written to stderr")
	flagSet.StringVar(&opts.store.Driver, "store", opts.store.Driver, "store driver: memory, sqlite, postgres or mongo")
	flagSet.StringVar(&opts.store.SQLitePath, "sqlite-path", opts.store.SQLitePath, "SQLite database file")
	flagSet.StringVar(&opts.store.PostgresDSN, "postgres-dsn", opts.store.PostgresDSN, "PostgreSQL connection string")
	flagSet.StringVar(&opts.store.MongoURI, "mongo-uri", opts.store.MongoURI, "MongoDB connection URI")
	flagSet.StringVar(&opts.store.MongoDatabase, "mongo-database", opts.store.MongoDatabase, "MongoDB database name")
	flagSet.StringVar(&opts.store.SeedFile, "seed-file", opts.store.SeedFile, "JSON lines file loaded into the memory store")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.olderThan <= 0 {
		return options{}, fmt.Errorf("--older-than must be positive, got %d", opts.olderThan)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.LoadMaintenance()
	if err != nil {
		return err
	}
	opts, err := parseFlags(args, stderr, cfg)
	if err != nil {
		return err
	}

	logger, err := logging.New(opts.logLevel, "text", stderr)
	if err != nil {
		return err
	}

	engine := scheduler.NewEngine(cfg.Location, uuid.NewString)
	store, err := stores.Open(ctx, opts.store, engine.NewMigrator(), logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", opts.store.Driver, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	service := application.NewRetentionService(store, cfg.Retention.Days, time.Now, logger)
	report, err := service.Run(ctx, application.RetentionParams{
		RemoveOlderThanDays: opts.olderThan,
		DryRun:              opts.dryRun,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return writeJSON(stdout, report)
	}
	writeText(stdout, report)
	return nil
}

type jsonReport struct {
	DryRun              bool     `json:"dryRun"`
	RemoveOlderThanDays int      `json:"removeOlderThanDays"`
	DeletedSlots        int      `json:"deletedSlots"`
	OrphanedSlots       int      `json:"orphanedSlots"`
	VeryOldSlots        int      `json:"veryOldSlots"`
	HistoryEntries      int      `json:"historyEntries"`
	AffectedEvents      []string `json:"affectedEvents"`
	DurationMillis      int64    `json:"durationMs"`
}

func writeJSON(w io.Writer, report application.RetentionReport) error {
	affected := report.AffectedEvents
	if affected == nil {
		affected = []string{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonReport{
		DryRun:              report.DryRun,
		RemoveOlderThanDays: report.RemoveOlderThanDays,
		DeletedSlots:        report.DeletedSlots,
		OrphanedSlots:       report.OrphanedSlots,
		VeryOldSlots:        report.VeryOldSlots,
		HistoryEntries:      report.HistoryEntries,
		AffectedEvents:      affected,
		DurationMillis:      report.Duration.Milliseconds(),
	})
}

func writeText(w io.Writer, report application.RetentionReport) {
	verb := "purged"
	if report.DryRun {
		verb = "would purge"
	}
	fmt.Fprintf(w, "retention threshold: %d days\n", report.RemoveOlderThanDays)
	fmt.Fprintf(w, "%s %d deleted, %d orphaned and %d very old slots\n", verb, report.DeletedSlots, report.OrphanedSlots, report.VeryOldSlots)
	fmt.Fprintf(w, "%s %d history entries across %d events\n", verb, report.HistoryEntries, len(report.AffectedEvents))
}
