package billscan

import (
	"time"

	"github.com/tmacedo/billscan/llm"
	"github.com/tmacedo/billscan/raster"
)

// Config holds all configuration for the extraction pipeline. It is passed
// explicitly into New — the core never reads ambient process state, so tests
// can run without touching the environment.
type Config struct {
	// DBPath is the sqlite database file for raw documents and staged
	// records.
	DBPath string `json:"db_path"`

	// OutputDir receives the CSV and workbook exports.
	OutputDir string `json:"output_dir"`

	// DataDirs are scanned (non-recursively) for PDF inputs. Duplicates
	// reachable through more than one root are de-duplicated by absolute
	// path.
	DataDirs []string `json:"data_dirs"`

	// DPI is the rendering density for rasterization.
	DPI int `json:"dpi"`

	// Workers caps how many documents are processed, and therefore how many
	// extraction calls are in flight, at once.
	Workers int `json:"workers"`

	// FallbackYear completes bare "M/D" dates in extracted payloads. Zero
	// lets each payload's own bill date supply the year.
	FallbackYear int `json:"fallback_year"`

	// ExtractTimeoutSec bounds each extraction call. Exceeding it is a
	// per-document failure at the extract stage.
	ExtractTimeoutSec int `json:"extract_timeout_sec"`

	// Extraction configures the hosted extraction service client.
	Extraction llm.Config `json:"extraction"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DBPath:            "outputs/invoices.db",
		OutputDir:         "outputs",
		DataDirs:          []string{"data", "data/invoices"},
		DPI:               raster.DefaultDPI,
		Workers:           1,
		ExtractTimeoutSec: 120,
		Extraction: llm.Config{
			Model: "gemini-2.5-flash",
		},
	}
}

func (c Config) extractTimeout() time.Duration {
	if c.ExtractTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.ExtractTimeoutSec) * time.Second
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}
