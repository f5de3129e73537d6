package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ntrivedi/adviceparser/internal/batch"
	"github.com/ntrivedi/adviceparser/internal/export"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/parser"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// advice-batch parses every supported document in a directory as one batch
// and writes the results to an XLSX workbook.
func main() {
	var (
		dir      = flag.String("dir", "", "directory of advice documents (required)")
		customer = flag.String("customer", "", "explicit customer for every document; empty uses keyword detection")
		out      = flag.String("out", "batch-results.xlsx", "output workbook path")
		dbPath   = flag.String("db", "", "sqlite database path; empty runs fully in memory")
		workers  = flag.Int("workers", 4, "concurrent documents")
		timeout  = flag.Duration("timeout", 5*time.Minute, "per-document timeout")
		strict   = flag.Bool("strict", false, "reject documents when -customer has no registered parser")
		useOCR   = flag.Bool("ocr", true, "enable OCR fallback for scanned PDFs")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: advice-batch -dir <documents> [-customer NAME] [-out results.xlsx]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *dir, *customer, *out, *dbPath, *workers, *timeout, *strict, *useOCR, logger); err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir, customer, out, dbPath string, workers int, timeout time.Duration, strict, useOCR bool, logger *slog.Logger) error {
	dsn := dbPath
	if dsn == "" {
		dsn = "file:advicebatch?mode=memory&cache=shared"
	}
	st, err := store.OpenSQLite(dsn, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := parser.NewRegistry(logger)
	extractor := extract.NewExtractor(extract.Config{}, logger)
	pipe := pipeline.New(extractor, registry, st, pipeline.Options{
		Strict: strict,
		UseOCR: useOCR,
	}, logger)

	orch := batch.New(pipe, st,
		batch.WithWorkers(workers),
		batch.WithItemTimeout(timeout),
		batch.WithLogger(logger),
	)
	orch.Start(ctx)

	job, err := orch.SubmitDir(ctx, customer, dir)
	if err != nil {
		orch.Shutdown()
		return err
	}
	logger.Info("batch submitted", "batch_id", job.ID, "documents", job.TotalCount)

	// Closing the queue drains every submitted item before returning.
	orch.Shutdown()

	sum, err := orch.GetStatus(ctx, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("batch %s: %s (%d/%d succeeded, %d failed)\n",
		sum.BatchID, sum.Status, sum.Succeeded, sum.Total, sum.Failed)

	data, err := export.NewService(st, logger).BatchResultsXLSX(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	logger.Info("results written", "path", out)
	return nil
}
