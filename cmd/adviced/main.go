package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ntrivedi/adviceparser/internal/batch"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/export"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/ingest"
	"github.com/ntrivedi/adviceparser/internal/parser"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/server"
	"github.com/ntrivedi/adviceparser/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := parser.NewRegistry(logger)
	extractor := extract.NewExtractor(extract.Config{
		Pdftotext:     cfg.Extract.Pdftotext,
		Pdftoppm:      cfg.Extract.Pdftoppm,
		Tesseract:     cfg.Extract.Tesseract,
		TesseractLang: cfg.Extract.TesseractLang,
		DPI:           cfg.Extract.DPI,
		MinTextLength: cfg.Extract.MinTextLength,
		TempDir:       cfg.Extract.TempDir,
	}, logger)

	pipe := pipeline.New(extractor, registry, st, pipeline.Options{
		DedupTTL: cfg.Batch.DedupTTL,
		UseOCR:   cfg.Extract.UseOCR,
	}, logger)

	orch := batch.New(pipe, st,
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithQueueSize(cfg.Batch.QueueSize),
		batch.WithItemTimeout(cfg.Batch.ItemTimeout),
		batch.WithLogger(logger),
	)
	orch.Start(ctx)
	defer orch.Shutdown()

	exp := export.NewService(st, logger)
	srv := server.New(orch, pipe, exp, st, cfg.Server.UploadDir, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Server.InboxDir != "" {
		if err := os.MkdirAll(cfg.Server.InboxDir, 0o755); err != nil {
			logger.Error("create inbox dir", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			err := ingest.Run(gctx, ingest.WatchConfig{
				Roots:    []string{cfg.Server.InboxDir},
				Debounce: 500 * time.Millisecond,
			}, orch, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, store.PGConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
	default:
		return store.OpenSQLite(cfg.Database.DSN, logger)
	}
}
