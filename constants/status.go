package constants

// BatchStatus is the canonical aggregate status for rows in batch_job.
type BatchStatus string

// Stable values (store these exact strings in DB).
const (
	BatchQueued     BatchStatus = "QUEUED"     // submitted, no item started
	BatchProcessing BatchStatus = "PROCESSING" // at least one item started, not all terminal
	BatchCompleted  BatchStatus = "COMPLETED"  // all items succeeded
	BatchPartial    BatchStatus = "PARTIAL"    // all items terminal, mixed outcome
	BatchFailed     BatchStatus = "FAILED"     // all items terminal, all failed
)

// ItemStatus is the per-document status for rows in batch_item.
type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemRunning ItemStatus = "RUNNING"
	ItemSuccess ItemStatus = "SUCCESS"
	ItemFailed  ItemStatus = "FAILED"
)

// Terminal reports whether an item status is final for the current pass.
// A FAILED item may still be reset to PENDING by reprocessing.
func (s ItemStatus) Terminal() bool {
	return s == ItemSuccess || s == ItemFailed
}
