// Package billscan drives scanned utility bills through a five-stage
// pipeline: rasterize the document to page images, extract a strict-JSON
// field set with a hosted multimodal model, normalize the raw values,
// validate them, and persist both the audit trail and the staged record.
// One document's failure never aborts the batch.
package billscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tmacedo/billscan/export"
	"github.com/tmacedo/billscan/llm"
	"github.com/tmacedo/billscan/normalize"
	"github.com/tmacedo/billscan/raster"
	"github.com/tmacedo/billscan/store"
	"github.com/tmacedo/billscan/validate"
)

// Stage names one step of the per-document state machine. Outcomes carry the
// stage at which a document failed; only rasterize and extract are expected
// hard-failure points.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageRasterize Stage = "rasterize"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageValidate  Stage = "validate"
	StagePersist   Stage = "persist"
)

// DocumentOutcome is the per-document result of one batch run.
type DocumentOutcome struct {
	Path       string
	Filename   string
	RawID      int64
	StagedID   int64
	Violations []string

	// FailedStage and Reason are set only when the document failed.
	FailedStage Stage
	Reason      string
}

// Failed reports whether the document ended in the terminal failed state.
func (o DocumentOutcome) Failed() bool {
	return o.FailedStage != ""
}

// BatchResult summarizes one pipeline run. It is built incrementally and read
// once at the end to produce the exports.
type BatchResult struct {
	RunID     string
	StartedAt time.Time
	Processed int
	Failed    int
	Outcomes  []DocumentOutcome
}

// Pipeline orchestrates the batch. Construction fails fast on a missing
// extraction credential, before any document is touched.
type Pipeline struct {
	cfg        Config
	store      *store.Store
	rasterizer *raster.Rasterizer
	extractor  llm.Extractor
	normalizer *normalize.Normalizer
}

// Option overrides a pipeline collaborator, mainly for tests that need a
// deterministic stand-in for the external service.
type Option func(*Pipeline)

// WithExtractor replaces the hosted extraction client.
func WithExtractor(e llm.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithRasterizer replaces the default rasterizer.
func WithRasterizer(r *raster.Rasterizer) Option {
	return func(p *Pipeline) { p.rasterizer = r }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// New opens the store and builds the pipeline.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p := &Pipeline{
		cfg:        cfg,
		store:      s,
		rasterizer: raster.New(),
		normalizer: normalize.New(),
	}
	for _, o := range opts {
		o(p)
	}

	if p.extractor == nil {
		client, err := llm.NewClient(llm.Config{
			APIKey:  cfg.Extraction.APIKey,
			Model:   cfg.Extraction.Model,
			BaseURL: cfg.Extraction.BaseURL,
			Timeout: cfg.extractTimeout(),
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		p.extractor = client
	}

	return p, nil
}

// Store returns the underlying store for export and diagnostic access.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Close shuts down the pipeline.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Run processes every document, in input order, recording one outcome per
// document. Workers caps concurrent documents (and therefore in-flight
// extraction calls); a per-document failure never cancels its siblings.
// Cancelling ctx stops the batch before the next document starts.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*BatchResult, error) {
	if len(paths) == 0 {
		return nil, ErrNoDocuments
	}

	res := &BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	slog.Info("run: starting batch", "run_id", res.RunID, "documents", len(paths), "workers", p.cfg.workers())

	outcomes := make([]DocumentOutcome, len(paths))
	started := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(p.cfg.workers())
	for i, path := range paths {
		if ctx.Err() != nil {
			slog.Warn("run: batch canceled", "run_id", res.RunID, "remaining", len(paths)-i)
			break
		}
		started[i] = true
		g.Go(func() error {
			outcomes[i] = p.process(ctx, path)
			return nil
		})
	}
	// Workers report failures as data, never as errors.
	_ = g.Wait()

	for i := range outcomes {
		if !started[i] {
			continue
		}
		res.Outcomes = append(res.Outcomes, outcomes[i])
		if outcomes[i].Failed() {
			res.Failed++
		} else {
			res.Processed++
		}
	}

	slog.Info("run: batch complete",
		"run_id", res.RunID,
		"processed", res.Processed,
		"failed", res.Failed,
		"elapsed", time.Since(res.StartedAt).Round(time.Millisecond),
	)
	return res, nil
}

// Export writes the staged-record set and raw-document index to the
// configured output directory.
func (p *Pipeline) Export(ctx context.Context) (*export.Artifacts, error) {
	return export.WriteAll(ctx, p.store, p.cfg.OutputDir, time.Now())
}

// process runs one document through the state machine:
// ingested -> rasterized -> extracted -> normalized -> validated -> persisted,
// with a terminal failed(stage, reason) state. Normalize and validate cannot
// fail by contract; their output quality shows up as validation violations.
func (p *Pipeline) process(ctx context.Context, path string) DocumentOutcome {
	out := DocumentOutcome{Path: path, Filename: filepath.Base(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		return p.fail(ctx, out, StageIngest, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	pageCount, err := probePDF(data)
	if err != nil {
		// Probe is a hint only; the rasterizer has its own fallback chain.
		slog.Debug("run: pdf probe failed", "file", out.Filename, "error", err)
	}

	rawID, err := p.store.UpsertRaw(ctx, store.RawInvoice{
		Filename:    out.Filename,
		Mime:        sniffMime(out.Filename, data),
		ContentHash: hash,
		PageCount:   pageCount,
		Status:      "processing",
		FileBytes:   data,
	})
	if err != nil {
		return p.fail(ctx, out, StagePersist, fmt.Errorf("storing raw document: %w", err))
	}
	out.RawID = rawID

	pages := p.rasterizer.Rasterize(data, p.cfg.DPI)
	if len(pages) == 0 {
		return p.fail(ctx, out, StageRasterize, ErrUnreadableDocument)
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.extractTimeout())
	defer cancel()
	payloadText, err := p.extractor.Extract(cctx, pages, llm.ExtractionPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("extraction timed out after %s", p.cfg.extractTimeout())
		}
		return p.fail(ctx, out, StageExtract, err)
	}

	// The client guarantees a single JSON object; a decode failure here means
	// that contract broke, which is still an extract-stage failure.
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
		return p.fail(ctx, out, StageExtract, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	rec := p.normalizer.Normalize(payload, p.cfg.FallbackYear)
	violations := validate.Check(rec)

	stagedID, err := p.store.UpsertStaged(ctx, stagedFromRecord(rawID, rec, payloadText, violations))
	if err != nil {
		return p.fail(ctx, out, StagePersist, fmt.Errorf("storing staged record: %w", err))
	}
	if err := p.store.SetRawStatus(ctx, rawID, "extracted"); err != nil {
		return p.fail(ctx, out, StagePersist, fmt.Errorf("updating raw status: %w", err))
	}

	out.StagedID = stagedID
	out.Violations = violations
	slog.Info("run: document extracted",
		"file", out.Filename,
		"raw_id", rawID,
		"pages", len(pages),
		"violations", len(violations),
	)
	return out
}

// fail records a per-document failure and returns the terminal outcome. The
// raw bytes stay persisted with the failure marker so the document can be
// retried or inspected later.
func (p *Pipeline) fail(ctx context.Context, out DocumentOutcome, stage Stage, cause error) DocumentOutcome {
	out.FailedStage = stage
	out.Reason = cause.Error()

	if out.RawID != 0 {
		if err := p.store.MarkRawFailed(ctx, out.RawID, string(stage), out.Reason); err != nil {
			slog.Error("run: recording failure marker", "file", out.Filename, "error", err)
		}
	}

	slog.Warn("run: document failed",
		"file", out.Filename,
		"stage", stage,
		"error", cause,
	)
	return out
}

// stagedFromRecord maps a normalized record onto the staging row, applying
// the staging-time defaults: bill_date falls back to invoice_date,
// total_amount_due falls back to total.
func stagedFromRecord(rawID int64, rec normalize.Record, payload string, violations []string) store.StagedInvoice {
	st := store.StagedInvoice{
		RawID:               rawID,
		Vendor:              rec.Vendor,
		InvoiceDate:         rec.InvoiceDate,
		Total:               rec.Total,
		AccountNumber:       rec.AccountNumber,
		BillDate:            rec.BillDate,
		DueDate:             rec.DueDate,
		ServiceFrom:         rec.ServiceFrom,
		ServiceTo:           rec.ServiceTo,
		UsageKWh:            rec.UsageQuantity,
		TotalCurrentCharges: rec.TotalCurrentCharges,
		TotalAmountDue:      rec.TotalAmountDue,
		JSONPayload:         payload,
		Status:              "clean",
	}

	if st.BillDate == nil {
		st.BillDate = rec.InvoiceDate
	}
	if st.TotalAmountDue == nil {
		st.TotalAmountDue = rec.Total
	}

	if len(violations) > 0 {
		st.Status = "pending"
		if data, err := json.Marshal(violations); err == nil {
			text := string(data)
			st.ValidationErrors = &text
		}
	}
	return st
}
