// Package batch schedules concurrent per-document recognition across a
// bounded worker pool. Results stream back in completion order; one
// document's failure never cancels its siblings.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haoyun/invoice-ocr/internal/cache"
	"github.com/haoyun/invoice-ocr/internal/document"
	"github.com/haoyun/invoice-ocr/internal/extract"
	"github.com/haoyun/invoice-ocr/internal/ocr"
	"github.com/haoyun/invoice-ocr/internal/render"
)

// PageRenderer produces a document's raster pages.
type PageRenderer interface {
	Render(doc *document.Document, scale float64) ([]render.Page, error)
}

// Recognizer runs OCR on one page.
type Recognizer interface {
	Recognize(ctx context.Context, page render.Page) ([]ocr.TextBlock, error)
}

// FieldExtractor turns aggregated text blocks into a record.
type FieldExtractor interface {
	Extract(ctx context.Context, fingerprint string, blocks []ocr.TextBlock) extract.InvoiceRecord
}

// Result is one document's terminal outcome. Exactly one of Record or Err is
// meaningful. Results arrive in completion order; correlate by Path or
// Fingerprint, not position.
type Result struct {
	Path        string
	Fingerprint string
	Record      *extract.InvoiceRecord
	Err         error
	Cached      bool
}

// Config holds worker-pool settings.
type Config struct {
	Workers    int           // default 3; OCR/AI calls are rate-sensitive
	DocTimeout time.Duration // bounds one document's whole pipeline; default 5m
	OCRScale   float64       // rendering scale for recognition; default 3.0
}

// Orchestrator owns no document state itself: each worker's pipeline holds
// its pages and blocks exclusively until the record is produced.
type Orchestrator struct {
	renderer  PageRenderer
	ocr       Recognizer
	extractor FieldExtractor
	cache     *cache.Cache
	cfg       Config
	logger    *slog.Logger
}

func NewOrchestrator(renderer PageRenderer, rec Recognizer, ex FieldExtractor,
	c *cache.Cache, cfg Config, logger *slog.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.DocTimeout <= 0 {
		cfg.DocTimeout = 5 * time.Minute
	}
	if cfg.OCRScale <= 0 {
		cfg.OCRScale = 3.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		renderer:  renderer,
		ocr:       rec,
		extractor: ex,
		cache:     c,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process streams one Result per started document. Cancelling ctx stops new
// documents from being dequeued; in-flight documents run to completion and
// their results are still delivered. The channel is buffered to the batch
// size, so delivery never blocks and never discards completed work.
func (o *Orchestrator) Process(ctx context.Context, paths []string) <-chan Result {
	batchID := uuid.New().String()
	results := make(chan Result, len(paths))
	if len(paths) == 0 {
		close(results)
		return results
	}

	jobs := make(chan string, len(paths))
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)

	workers := o.cfg.Workers
	if workers > len(paths) {
		workers = len(paths)
	}

	o.logger.Info("batch.start", "batch_id", batchID, "documents", len(paths), "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				// Cancellation gate: no new documents once ctx is done.
				if ctx.Err() != nil {
					return
				}
				path, ok := <-jobs
				if !ok {
					return
				}
				results <- o.processOne(ctx, batchID, workerID, path)
			}
		}(i + 1)
	}

	go func() {
		wg.Wait()
		close(results)
		o.logger.Info("batch.done", "batch_id", batchID)
	}()

	return results
}

// processOne runs the full pipeline for a single document. All failures are
// contained here: the worker loop only ever sees a Result.
func (o *Orchestrator) processOne(ctx context.Context, batchID string, workerID int, path string) (res Result) {
	start := time.Now()
	res.Path = path

	defer func() {
		if r := recover(); r != nil {
			res.Record = nil
			res.Err = fmt.Errorf("document pipeline panicked: %v", r)
			o.logger.Error("batch.document_panic",
				"batch_id", batchID, "worker_id", workerID, "path", path, "panic", r)
		}
	}()

	doc, err := document.FromPath(path)
	if err != nil {
		o.logger.Error("batch.document_unreadable",
			"batch_id", batchID, "worker_id", workerID, "path", path, "error", err)
		res.Err = err
		return res
	}
	res.Fingerprint = doc.Fingerprint

	// A document already dequeued runs to completion even if the batch is
	// cancelled mid-flight; cancellation only stops new dequeues. The
	// per-document timeout still bounds hung external calls.
	docCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DocTimeout)
	defer cancel()

	rec, cached, err := o.cache.Do(docCtx, doc.Fingerprint, func(cctx context.Context) (extract.InvoiceRecord, error) {
		return o.recognize(cctx, doc)
	})
	if err != nil {
		o.logger.Error("batch.document_failed",
			"batch_id", batchID, "worker_id", workerID, "path", path,
			"fingerprint", doc.Fingerprint, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		res.Err = err
		return res
	}

	o.logger.Info("batch.document_done",
		"batch_id", batchID, "worker_id", workerID, "path", path,
		"fingerprint", doc.Fingerprint, "status", rec.Status,
		"method", rec.Method, "cached", cached,
		"elapsed_ms", time.Since(start).Milliseconds())

	res.Record = &rec
	res.Cached = cached
	return res
}

// recognize is the uncached pipeline: render, OCR each page sequentially in
// stable page order, extract. Pages are released as soon as OCR has consumed
// them.
func (o *Orchestrator) recognize(ctx context.Context, doc *document.Document) (extract.InvoiceRecord, error) {
	pages, err := o.renderer.Render(doc, o.cfg.OCRScale)
	if err != nil {
		return extract.InvoiceRecord{}, err
	}

	var blocks []ocr.TextBlock
	for i := range pages {
		pageBlocks, err := o.ocr.Recognize(ctx, pages[i])
		if err != nil {
			return extract.InvoiceRecord{}, fmt.Errorf("page %d: %w", pages[i].Index, err)
		}
		blocks = append(blocks, pageBlocks...)
		pages[i].Image = nil // page buffers are not needed past OCR
	}

	return o.extractor.Extract(ctx, doc.Fingerprint, blocks), nil
}
