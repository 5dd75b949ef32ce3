package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/haoyun/invoice-ocr/internal/batch"
	"github.com/haoyun/invoice-ocr/internal/cache"
	"github.com/haoyun/invoice-ocr/internal/common"
	"github.com/haoyun/invoice-ocr/internal/document"
	"github.com/haoyun/invoice-ocr/internal/export"
	"github.com/haoyun/invoice-ocr/internal/extract"
	"github.com/haoyun/invoice-ocr/internal/ocr"
	"github.com/haoyun/invoice-ocr/internal/render"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir       = flag.String("dir", "", "directory of invoice scans to process (required)")
		out       = flag.String("out", "", "output XLSX path (default <dir>/../invoices.xlsx)")
		workers   = flag.Int("workers", 0, "worker pool size (default from BATCH_WORKERS)")
		noAI      = flag.Bool("no-ai", false, "disable AI-assisted refinement")
		cachePath = flag.String("cache", "", "recognition cache file (default from RECOGNITION_CACHE_PATH)")
		ocrURL    = flag.String("ocr-url", "", "OCR service base URL (default from OCR_URL)")
		timeout   = flag.Duration("timeout", 0, "per-document processing timeout (default from BATCH_DOC_TIMEOUT)")
		debug     = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "invoices.xlsx")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *ocrURL != "" {
		cfg.OCR.BaseURL = *ocrURL
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	if *timeout > 0 {
		cfg.Batch.DocTimeout = *timeout
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	paths, err := collectDocuments(*dir)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		printError("No invoice documents found under %s\n", *dir)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocrClient := ocr.NewClient(ocr.Config{
		BaseURL:         cfg.OCR.BaseURL,
		Timeout:         cfg.OCR.Timeout,
		MaxRetries:      cfg.OCR.MaxRetries,
		DetLimitSideLen: cfg.OCR.DetLimitSideLen,
	}, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = ocrClient.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Error("OCR service is not reachable", "url", cfg.OCR.BaseURL, "error", err)
		os.Exit(1)
	}

	extractOpts := []extract.Option{extract.WithMinAIConfidence(cfg.Batch.MinAIConf)}
	if !*noAI && cfg.AI.APIKey != "" {
		extractOpts = append(extractOpts, extract.WithAI(extract.NewAIClient(extract.AIConfig{
			APIKey:    cfg.AI.APIKey,
			BaseURL:   cfg.AI.BaseURL,
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
			Timeout:   cfg.AI.Timeout,
		}, logger)))
		logger.Info("AI-assisted refinement enabled", "model", cfg.AI.Model)
	} else {
		logger.Info("AI-assisted refinement disabled, heuristic rules only")
	}

	var store cache.Store
	if cfg.Cache.Path != "" {
		bs, err := cache.NewBoltStore(cfg.Cache.Path)
		if err != nil {
			// Cache trouble must never block processing.
			logger.Warn("persistent cache unavailable, continuing without it",
				"path", cfg.Cache.Path, "error", err)
		} else {
			store = bs
			defer func() {
				if cerr := bs.Close(); cerr != nil {
					logger.Warn("cache close error", "error", cerr)
				}
			}()
		}
	}
	recCache, err := cache.New(cfg.Cache.MaxEntries, store, logger)
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	orch := batch.NewOrchestrator(
		render.NewRenderer(logger),
		ocrClient,
		extract.NewExtractor(logger, extractOpts...),
		recCache,
		batch.Config{
			Workers:    cfg.Batch.Workers,
			DocTimeout: cfg.Batch.DocTimeout,
			OCRScale:   cfg.Render.OCRScale,
		},
		logger,
	)

	var (
		rows      []export.Row
		okCount   int
		partCount int
		failCount int
	)
	for res := range orch.Process(ctx, paths) {
		switch {
		case res.Err != nil:
			failCount++
			printError("FAILED  %s: %v\n", res.Path, res.Err)
		case res.Record.Status == extract.StatusFailed:
			failCount++
			rows = append(rows, export.Row{Record: *res.Record, Path: res.Path})
			printError("FAILED  %s: %s\n", res.Path, res.Record.ErrorMessage)
		default:
			if res.Record.Status == extract.StatusOK {
				okCount++
			} else {
				partCount++
			}
			rows = append(rows, export.Row{Record: *res.Record, Path: res.Path})
			fmt.Printf("%-7s %s  no=%s total=%s\n",
				res.Record.Status, res.Path, res.Record.InvoiceNumber, res.Record.Total)
		}
	}

	logger.Info("batch summary",
		"documents", len(paths), "ok", okCount, "partial", partCount, "failed", failCount)

	if len(rows) > 0 {
		exporter := export.NewExporter(logger)
		if err := exporter.SaveXLSX(*out, rows); err != nil {
			logger.Error("failed to write workbook", "path", *out, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Workbook written to %s\n", *out)
	}
	if okCount+partCount == 0 {
		os.Exit(1)
	}
}

// collectDocuments walks dir for processable files, in stable name order.
func collectDocuments(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if document.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
