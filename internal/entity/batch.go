package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ntrivedi/adviceparser/constants"
)

// BatchJob is one submitted collection of documents for one customer.
// Items are appended while the job is still editable; once submitted the
// item list is fixed and only item statuses advance.
type BatchJob struct {
	ID          uuid.UUID
	Customer    string
	Status      constants.BatchStatus
	Items       []BatchItem
	TotalCount  int
	Processed   int
	Succeeded   int
	Failed      int
	SubmittedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BatchItem tracks one document's progress within a BatchJob. It is owned
// exclusively by its job; the only thing visible outside is the produced
// advice reference.
type BatchItem struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	Position     int
	DocumentRef  string // path or URL of the source document
	FileName     string
	ContentType  string
	Status       constants.ItemStatus
	AdviceID     *uuid.UUID // set when Status == SUCCESS, permanent thereafter
	ParserUsed   string
	ErrorMessage string
	UpdatedAt    time.Time
}

// BatchStatusSummary is the read model polled by presentation layers.
type BatchStatusSummary struct {
	BatchID   uuid.UUID             `json:"batch_id"`
	Status    constants.BatchStatus `json:"status"`
	Total     int                   `json:"total"`
	Processed int                   `json:"processed"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

// ReduceBatchStatus computes the aggregate status as a pure function of the
// item statuses. Completion order does not matter, only the multiset.
func ReduceBatchStatus(items []constants.ItemStatus) constants.BatchStatus {
	if len(items) == 0 {
		return constants.BatchQueued
	}
	var started, success, failed int
	for _, s := range items {
		if s != constants.ItemPending {
			started++
		}
		switch s {
		case constants.ItemSuccess:
			success++
		case constants.ItemFailed:
			failed++
		}
	}
	switch {
	case started == 0:
		return constants.BatchQueued
	case success+failed < len(items):
		return constants.BatchProcessing
	case success == len(items):
		return constants.BatchCompleted
	case failed == len(items):
		return constants.BatchFailed
	default:
		return constants.BatchPartial
	}
}
