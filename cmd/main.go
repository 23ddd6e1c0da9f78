package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tap-newrelic/internal/app"
	"tap-newrelic/internal/catalog"
	"tap-newrelic/internal/config"
	"tap-newrelic/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile  string
	catalogFile string
	discover    bool
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tap-newrelic",
	Short: "Singer tap that extracts New Relic events through NerdGraph",
	Long: `A resumable, incremental extractor for New Relic event types. Events are read in
time windows through NRQL, deduplicated against a per-stream watermark and written
as Singer messages (or JSONL objects) while the watermark is checkpointed per page.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file, YAML or Singer JSON")
	rootCmd.Flags().BoolVar(&discover, "discover", false, "Print the stream catalog and exit")
	rootCmd.Flags().StringVar(&catalogFile, "catalog", "", "Singer catalog selecting the streams to sync")
	rootCmd.Flags().String("state", "", "Singer state file to resume from and update")

	// NerdGraph flags
	rootCmd.Flags().String("api-key", "", "New Relic user API key (or "+config.APIKeyEnv+")")
	rootCmd.Flags().String("api-url", "", "NerdGraph endpoint")
	rootCmd.Flags().Int64("account-id", 0, "New Relic account id")
	rootCmd.Flags().String("start-date", "", "Earliest event time to sync (RFC3339 or YYYY-MM-DD)")
	rootCmd.Flags().Int("timeout-seconds", 60, "Per-request HTTP timeout")
	rootCmd.Flags().Int("retries", 5, "Maximum attempts per page request")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")

	// Sync flags
	rootCmd.Flags().StringSlice("stream", nil, "Stream to sync (repeatable, default all)")
	rootCmd.Flags().Int("concurrency", 1, "Number of streams synced in parallel")
	rootCmd.Flags().String("checkpoint", "./checkpoint.db", "Checkpoint database or state file")
	rootCmd.Flags().String("checkpoint-backend", "sqlite", "Checkpoint backend (sqlite/state)")
	rootCmd.Flags().String("sink", "singer", "Record destination (singer/s3)")
	rootCmd.Flags().Bool("dry-run", false, "Fetch and deduplicate without writing records or checkpoints")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress on stderr when it is a terminal")
}

func runSync(cmd *cobra.Command, args []string) error {
	if discover {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog.Discover())
	}

	// Load configuration
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var selection *catalog.Catalog
	if catalogFile != "" {
		if selection, err = catalog.LoadFile(catalogFile); err != nil {
			return err
		}
	}
	streams, err := app.ResolveStreams(cfg.Streams, selection)
	if err != nil {
		return err
	}

	// Create application
	tap, err := app.New(cfg, streams, os.Stdout, log)
	if err != nil {
		return fmt.Errorf("failed to create tap: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, finishing the current page...")
		cancel()
	}()

	// Run sync
	err = tap.Run(ctx)

	// Close tap resources after the sync completes or is cancelled
	if closeErr := tap.Close(); closeErr != nil {
		log.Error("Error closing tap", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
