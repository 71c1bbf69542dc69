package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rollingest/internal/app"
	"rollingest/internal/config"
	"rollingest/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit statuses distinguish full success, partial failure, interruption
// and fatal configuration/checkpoint errors.
const (
	exitOK          = 0
	exitFatal       = 1
	exitPartial     = 2
	exitInterrupted = 3
)

var (
	configFile string
	exitCode   = exitOK
)

var rootCmd = &cobra.Command{
	Use:   "rollingest",
	Short: "Ingest electoral roll documents into a local database",
	Long: `A resumable, checkpointed ingestion pipeline: downloads roll documents
per constituency, parses them into voter records, and stores the records in
SQLite. Interrupted or crashed runs resume from the last checkpoint without
redoing completed work.`,
	RunE: runIngestion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.Flags().String("manifest", "", "unit manifest file (required)")
	rootCmd.Flags().Bool("use-object-store", false, "Fetch documents from an S3-compatible mirror")
	rootCmd.Flags().String("src-endpoint", "", "Object store endpoint")
	rootCmd.Flags().String("src-access-key", "", "Object store access key")
	rootCmd.Flags().String("src-secret-key", "", "Object store secret key")
	rootCmd.Flags().Bool("src-secure", true, "Use HTTPS for the object store")

	// Pipeline flags
	rootCmd.Flags().String("state", "", "Limit processing to a single state")
	rootCmd.Flags().Int("max-units", 0, "Cap the number of units processed (testing)")
	rootCmd.Flags().Int("acquire-concurrency", 5, "Concurrent document downloads per unit")
	rootCmd.Flags().Int("parse-workers", 4, "Concurrent document parsers per unit")
	rootCmd.Flags().Int("retries", 3, "Maximum attempts per document")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
	rootCmd.Flags().Int("grace-period-s", 15, "Grace period for in-flight work on interrupt")
	rootCmd.Flags().Float64("min-success", 0, "Minimum fraction of documents that must succeed per stage")
	rootCmd.Flags().Bool("resume", false, "Resume from checkpoint")
	rootCmd.Flags().Bool("translate", false, "Enable record field translation")
	rootCmd.Flags().String("translate-endpoint", "", "Translation service endpoint")
	rootCmd.Flags().Bool("ocr", true, "Enable OCR fallback for scanned documents")
	rootCmd.Flags().String("data-dir", "data/rolls", "Directory for acquired documents")
	rootCmd.Flags().String("checkpoint-dir", "data/checkpoints", "Checkpoint directory")
	rootCmd.Flags().String("db", "data/voters.db", "Record database file")
	rootCmd.Flags().String("metrics-addr", "", "Metrics listen address (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
}

func runIngestion(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ingester, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create ingester: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	summary, err := ingester.Run(ctx)

	if closeErr := ingester.Close(); closeErr != nil {
		log.Error("Error closing ingester", zap.Error(closeErr))
	}

	if err != nil {
		return err
	}

	switch {
	case summary.Interrupted:
		log.Warn("Run interrupted; progress checkpointed")
		exitCode = exitInterrupted
	case summary.UnitsFailed > 0:
		log.Warn("Run completed with failed units",
			zap.Int("failed", summary.UnitsFailed),
			zap.Int("completed", summary.UnitsCompleted),
		)
		exitCode = exitPartial
	default:
		exitCode = exitOK
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
	os.Exit(exitCode)
}
