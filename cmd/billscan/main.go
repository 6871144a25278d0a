// Command billscan runs the extraction pipeline over a folder (or folders)
// of scanned utility bills and exports the staged results.
//
// Usage:
//
//	billscan \
//	  -data ./data -data ./data/invoices \
//	  -db ./outputs/invoices.db \
//	  -out ./outputs \
//	  -workers 2
//
// The extraction credential is read from BILLSCAN_API_KEY (falling back to
// GEMINI_API_KEY), either from the environment or a local .env file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tmacedo/billscan"
)

type dirList []string

func (d *dirList) String() string     { return fmt.Sprint([]string(*d)) }
func (d *dirList) Set(v string) error { *d = append(*d, v); return nil }

func main() {
	var dataDirs dirList
	configPath := flag.String("config", "", "Path to config file (JSON)")
	flag.Var(&dataDirs, "data", "Directory to scan for PDFs (repeatable)")
	dbPath := flag.String("db", "", "SQLite database path")
	outDir := flag.String("out", "", "Export output directory")
	dpi := flag.Int("dpi", 0, "Rasterization density")
	workers := flag.Int("workers", 0, "Concurrent documents (caps in-flight extraction calls)")
	timeout := flag.Int("timeout", 0, "Per-document extraction timeout in seconds")
	fallbackYear := flag.Int("fallback-year", 0, "Year used to complete bare month/day dates")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Local .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg := billscan.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("BILLSCAN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BILLSCAN_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("BILLSCAN_MODEL"); v != "" {
		cfg.Extraction.Model = v
	}
	if v := os.Getenv("BILLSCAN_BASE_URL"); v != "" {
		cfg.Extraction.BaseURL = v
	}
	if v := os.Getenv("BILLSCAN_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}
	if v := os.Getenv("BILLSCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	// Fallback: the well-known provider env var.
	if cfg.Extraction.APIKey == "" {
		cfg.Extraction.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	// Flags win over config file and environment.
	if len(dataDirs) > 0 {
		cfg.DataDirs = dataDirs
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *dpi > 0 {
		cfg.DPI = *dpi
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *timeout > 0 {
		cfg.ExtractTimeoutSec = *timeout
	}
	if *fallbackYear > 0 {
		cfg.FallbackYear = *fallbackYear
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg billscan.Config) error {
	paths, err := billscan.DiscoverDocuments(cfg.DataDirs)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no PDFs found in %v", cfg.DataDirs)
	}

	pipeline, err := billscan.New(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	result, err := pipeline.Run(ctx, paths)
	if err != nil {
		return err
	}

	artifacts, err := pipeline.Export(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n--- Run Summary ---")
	fmt.Printf("Run ID:    %s\n", result.RunID)
	fmt.Printf("Processed: %d\n", result.Processed)
	fmt.Printf("Failed:    %d\n", result.Failed)
	for _, o := range result.Outcomes {
		if o.Failed() {
			fmt.Printf(" - FAILED %s (%s: %s)\n", o.Filename, o.FailedStage, o.Reason)
		}
	}
	fmt.Printf("DB:        %s\n", cfg.DBPath)
	fmt.Println("Exports:")
	fmt.Printf(" - %s\n", artifacts.StagingCSV)
	fmt.Printf(" - %s\n", artifacts.PrettyCSV)
	fmt.Printf(" - %s\n", artifacts.RawCSV)
	fmt.Printf(" - %s\n", artifacts.SnapshotCSV)
	fmt.Printf(" - %s\n", artifacts.Workbook)
	return nil
}
