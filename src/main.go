package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"misinfo-twitter/src/pipeline"
)

// statsCSVPath is where one row per stage run is appended
var statsCSVPath string

func main() {
	configPath := flag.String("config", "../config/config.yaml", "Path to YAML config file")
	stage := flag.String("stage", "", "Stage to run: build, expand, merge, accounts, all or ingest (overrides mode)")
	keywordsFilter := flag.Bool("keywords-filter", false, "Restrict the account table to tweets matching filter_keywords")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *stage != "" {
		cfg.Mode = *stage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	logger, logFile, err := setupLogger(cfg.LogDir, cfg.Verbose)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	slog.SetDefault(logger)

	statsCSVPath = filepath.Join(cfg.LogDir, "stats.csv")
	ensureStatsCSVHeader(statsCSVPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	r := &runner{
		cfg:            cfg,
		runID:          uuid.NewString(),
		keywordsFilter: *keywordsFilter,
	}
	slog.Info("Starting pipeline", "run_id", r.runID, "mode", cfg.Mode, "config", *configPath)
	runErr := r.run(ctx, cfg.Mode)
	stop()

	metricsPath := filepath.Join(cfg.LogDir, "pipeline.prom")
	if err := pipeline.WriteMetrics(metricsPath); err != nil {
		slog.Warn("Failed to write metrics", "path", metricsPath, "error", err)
	}

	if runErr != nil {
		slog.Error("Pipeline failed", "run_id", r.runID, "error", runErr)
		color.Red("Pipeline failed: %v", runErr)
		logFile.Close()
		os.Exit(1)
	}
	slog.Info("Pipeline finished", "run_id", r.runID)
	logFile.Close()
}

// setupLogger creates the log directory if needed and returns a slog.Logger that writes to a file.
func setupLogger(logDir string, verbose bool) (*slog.Logger, *os.File, error) {
	// No default! logDir must be set by config and checked in main()
	if logDir == "" {
		return nil, nil, fmt.Errorf("logDir must be set in config; refusing to use a default")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}
	logPath := filepath.Join(logDir, "pipeline.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, opts))
	return logger, logFile, nil
}

// stageStats is one row of stats.csv
type stageStats struct {
	Stage   string
	Records int
	Rows    int
	Skipped int
	Errors  int
}

var statsHeader = []string{"timestamp", "run_id", "stage", "records", "rows", "skipped", "errors"}

// ensureStatsCSVHeader creates the stats CSV file and writes the header if it doesn't exist.
func ensureStatsCSVHeader(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("Failed to create stats CSV: %v", err)
			return
		}
		defer f.Close()
		writer := csv.NewWriter(f)
		writer.Write(statsHeader)
		writer.Flush()
	}
}

// printStats prints a stage summary and appends it to the stats CSV.
func printStats(runID string, st stageStats, elapsed time.Duration) {
	title := color.New(color.FgCyan, color.Bold)
	title.Printf("\n--- %s stage ---\n", st.Stage)
	fmt.Printf("Records:  %d\n", st.Records)
	fmt.Printf("Rows:     %d\n", st.Rows)
	fmt.Printf("Skipped:  %d\n", st.Skipped)
	if st.Errors > 0 {
		color.Red("Errors:   %d", st.Errors)
	} else {
		color.Green("Errors:   0")
	}
	fmt.Printf("Duration: %s\n", elapsed.Round(time.Millisecond))

	slog.Info("Stage stats", "run_id", runID, "stage", st.Stage, "records", st.Records,
		"rows", st.Rows, "skipped", st.Skipped, "errors", st.Errors, "duration", elapsed)

	if statsCSVPath == "" {
		return
	}
	f, err := os.OpenFile(statsCSVPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Failed to open stats CSV: %v", err)
		return
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	writer.Write([]string{
		time.Now().Format(time.RFC3339),
		runID,
		st.Stage,
		fmt.Sprintf("%d", st.Records),
		fmt.Sprintf("%d", st.Rows),
		fmt.Sprintf("%d", st.Skipped),
		fmt.Sprintf("%d", st.Errors),
	})
	writer.Flush()
}
