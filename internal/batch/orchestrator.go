package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// DocumentLoader resolves a stored document ref back to its bytes so an
// item can be processed, or reprocessed long after submission.
type DocumentLoader interface {
	Load(ctx context.Context, ref string) (extract.Document, error)
}

// LoaderFunc adapts a function to the DocumentLoader interface.
type LoaderFunc func(ctx context.Context, ref string) (extract.Document, error)

func (f LoaderFunc) Load(ctx context.Context, ref string) (extract.Document, error) {
	return f(ctx, ref)
}

// FileLoader reads document refs as filesystem paths.
func FileLoader() DocumentLoader {
	return LoaderFunc(func(_ context.Context, ref string) (extract.Document, error) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return extract.Document{}, fmt.Errorf("load document %s: %w", ref, err)
		}
		return extract.Document{Ref: ref, Data: data}, nil
	})
}

type task struct {
	item     entity.BatchItem
	customer string
}

// Orchestrator fans batch items out over a bounded worker pool. Each item
// is an isolated failure domain: one bad document never takes down its
// batch, and the aggregate status is recomputed from item states alone.
type Orchestrator struct {
	pipe   *pipeline.Pipeline
	store  store.Store
	loader DocumentLoader
	logger *slog.Logger

	workers     int
	queueSize   int
	itemTimeout time.Duration

	tasks chan task
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

func WithItemTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.itemTimeout = d
		}
	}
}

func WithLoader(l DocumentLoader) Option {
	return func(o *Orchestrator) { o.loader = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(pipe *pipeline.Pipeline, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pipe:        pipe,
		store:       st,
		loader:      FileLoader(),
		logger:      slog.Default(),
		workers:     4,
		queueSize:   64,
		itemTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tasks = make(chan task, o.queueSize)
	return o
}

// Start launches the worker pool. Workers run until Shutdown closes the
// queue; the context bounds individual item processing, not pool lifetime.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	o.logger.Info("batch workers started", "workers", o.workers, "queue_size", o.queueSize)
}

// Shutdown stops accepting work and waits for in-flight items to finish.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.tasks)
	o.mu.Unlock()
	o.wg.Wait()
	o.logger.Info("batch workers drained")
}

// Submit records a new batch and queues every item for processing. The
// returned job snapshot is in the Queued state.
func (o *Orchestrator) Submit(ctx context.Context, customer string, items []entity.BatchItem) (*entity.BatchJob, error) {
	job, err := o.store.CreateBatch(ctx, customer, items)
	if err != nil {
		return nil, err
	}
	if err := o.enqueue(job.Customer, job.Items); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitDir builds a batch from every supported file directly under dir.
func (o *Orchestrator) SubmitDir(ctx context.Context, customer, dir string) (*entity.BatchJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch dir: %w", err)
	}
	var items []entity.BatchItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := constants.NormalizeExt(filepath.Ext(e.Name()))
		if _, ok := constants.AllowedExtensions[ext]; !ok {
			continue
		}
		items = append(items, entity.BatchItem{
			DocumentRef: filepath.Join(dir, e.Name()),
			FileName:    e.Name(),
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no supported documents in %s", common.ErrInvalidInput, dir)
	}
	return o.Submit(ctx, customer, items)
}

// ReprocessFailed resets a batch's failed items to pending and requeues
// exactly those items. Succeeded items and their advice records are left
// untouched. Returns ErrNoFailedItems when there is nothing to retry.
func (o *Orchestrator) ReprocessFailed(ctx context.Context, batchID uuid.UUID) (*entity.BatchStatusSummary, error) {
	job, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	items, err := o.store.ResetFailedItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := o.enqueue(job.Customer, items); err != nil {
		return nil, err
	}
	o.logger.Info("batch reprocessing queued", "batch_id", batchID, "items", len(items))
	return o.store.GetBatchStatus(ctx, batchID)
}

// GetStatus reports the aggregate snapshot for a batch.
func (o *Orchestrator) GetStatus(ctx context.Context, batchID uuid.UUID) (*entity.BatchStatusSummary, error) {
	return o.store.GetBatchStatus(ctx, batchID)
}

// GetBatch reports the full batch with per-item detail.
func (o *Orchestrator) GetBatch(ctx context.Context, batchID uuid.UUID) (*entity.BatchJob, error) {
	return o.store.GetBatch(ctx, batchID)
}

func (o *Orchestrator) enqueue(customer string, items []entity.BatchItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("orchestrator is shut down")
	}
	for _, item := range items {
		o.tasks <- task{item: item, customer: customer}
	}
	return nil
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	o.logger.Debug("worker started", "worker", id)
	for t := range o.tasks {
		o.processItem(ctx, t)
	}
}

func (o *Orchestrator) processItem(ctx context.Context, t task) {
	itemCtx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	if err := o.store.MarkItemRunning(itemCtx, t.item.ID); err != nil {
		o.logger.Error("mark item running", "item_id", t.item.ID, "error", err)
		return
	}

	doc, err := o.loader.Load(itemCtx, t.item.DocumentRef)
	if err != nil {
		o.failItem(ctx, t.item, "", err)
		return
	}
	doc.ContentType = t.item.ContentType

	res, err := o.pipe.Process(itemCtx, doc, t.customer)
	if err != nil {
		if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", common.ErrTimeoutExceeded, o.itemTimeout, err)
		}
		o.failItem(ctx, t.item, "", err)
		return
	}

	if err := o.store.CompleteItem(ctx, t.item.ID, res.AdviceID, res.ParserUsed); err != nil {
		o.logger.Error("complete item", "item_id", t.item.ID, "error", err)
		return
	}
	for _, w := range res.Warnings {
		o.logger.Warn("item warning", "item_id", t.item.ID, "document", t.item.DocumentRef, "warning", w)
	}
	o.logger.Info("item processed",
		"batch_id", t.item.BatchID, "item_id", t.item.ID,
		"position", t.item.Position, "parser", res.ParserUsed)
}

// failItem records the failure using the parent context so a timed-out
// item context cannot block its own bookkeeping.
func (o *Orchestrator) failItem(ctx context.Context, item entity.BatchItem, parserUsed string, cause error) {
	o.logger.Warn("item failed",
		"batch_id", item.BatchID, "item_id", item.ID,
		"document", item.DocumentRef, "error", cause)
	if err := o.store.FailItem(ctx, item.ID, parserUsed, cause.Error()); err != nil {
		o.logger.Error("record item failure", "item_id", item.ID, "error", err)
	}
}
