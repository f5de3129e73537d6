package ingest

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/ntrivedi/adviceparser/internal/entity"
)

// Submitter queues documents for batch processing.
type Submitter interface {
	Submit(ctx context.Context, customer string, items []entity.BatchItem) (*entity.BatchJob, error)
}

// Run watches the inbox and submits every discovered document as a
// single-item batch. Customer identity is not known for dropped files, so
// parser keyword detection decides the strategy. Blocks until ctx ends or
// the watcher shuts down.
func Run(ctx context.Context, cfg WatchConfig, sub Submitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	evCh, errCh, err := StartWatcher(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("inbox ingestion started", "roots", cfg.Roots)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-evCh:
			if !ok {
				return nil
			}
			item := entity.BatchItem{
				DocumentRef: path,
				FileName:    filepath.Base(path),
			}
			job, err := sub.Submit(ctx, "", []entity.BatchItem{item})
			if err != nil {
				logger.Error("inbox submit failed", "path", path, "error", err)
				continue
			}
			logger.Info("inbox document queued", "path", path, "batch_id", job.ID)
		case werr, ok := <-errCh:
			if ok && werr != nil {
				logger.Warn("inbox watcher reported error", "error", werr)
			}
		}
	}
}
