// Package store implements the persistence collaborator: accepted advice
// records with transactional duplicate enforcement, and batch job/item state.
// It is the only shared mutable resource across concurrent batch workers, so
// every item transition recomputes the batch aggregate inside the same
// transaction.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ntrivedi/adviceparser/internal/entity"
)

// Store is the contract the pipeline and orchestrator run against. Both the
// sqlite and Postgres implementations satisfy it.
type Store interface {
	// IsDuplicate reports whether an advice with the given UTR/RRN or bank
	// reference already exists. Advisory only: the race-proof enforcement
	// is the unique constraint checked by SaveAdvice at commit time.
	IsDuplicate(ctx context.Context, utrRRN, bankRef string) (bool, error)

	// SaveAdvice persists a parsed advice with its invoice lines. A unique
	// key conflict returns common.ErrDuplicatePersist.
	SaveAdvice(ctx context.Context, adv *entity.PaymentAdvice) (uuid.UUID, error)

	GetAdvice(ctx context.Context, id uuid.UUID) (*entity.PaymentAdvice, error)
	ListAdvices(ctx context.Context, customer string, limit int) ([]*entity.PaymentAdvice, error)

	// CreateBatch persists a submitted job with its items in Pending state.
	CreateBatch(ctx context.Context, customer string, items []entity.BatchItem) (*entity.BatchJob, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error)
	GetBatchStatus(ctx context.Context, id uuid.UUID) (*entity.BatchStatusSummary, error)

	// MarkItemRunning flips a Pending item to Running and bumps the batch
	// to Processing.
	MarkItemRunning(ctx context.Context, itemID uuid.UUID) error

	// CompleteItem records success: advice reference, parser identity, and
	// the recomputed aggregate, atomically. A Success item is never
	// overwritten by later transitions.
	CompleteItem(ctx context.Context, itemID, adviceID uuid.UUID, parserUsed string) error

	// FailItem records failure with a human-readable message, atomically
	// with the aggregate recompute.
	FailItem(ctx context.Context, itemID uuid.UUID, parserUsed, message string) error

	// ResetFailedItems flips every Failed item of the batch back to Pending
	// (clearing error state) and returns them in submission order. Returns
	// common.ErrNoFailedItems when the batch has none.
	ResetFailedItems(ctx context.Context, batchID uuid.UUID) ([]entity.BatchItem, error)

	Close() error
}
