package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/normalize"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS payment_advice (
	id                     TEXT PRIMARY KEY,
	customer_name          TEXT NOT NULL,
	payment_document_no    TEXT NOT NULL DEFAULT '',
	payment_date           TEXT,
	bank_reference_no      TEXT NOT NULL DEFAULT '',
	utr_rrn_no             TEXT NOT NULL DEFAULT '',
	payment_amount         TEXT NOT NULL,
	beneficiary_name       TEXT NOT NULL DEFAULT '',
	beneficiary_account_no TEXT NOT NULL DEFAULT '',
	bank_name              TEXT NOT NULL DEFAULT '',
	currency               TEXT NOT NULL,
	remarks                TEXT NOT NULL DEFAULT '',
	raw_text               TEXT NOT NULL DEFAULT '',
	parser_used            TEXT NOT NULL DEFAULT '',
	parse_version          TEXT NOT NULL DEFAULT '',
	source_format          TEXT NOT NULL DEFAULT '',
	created_at             TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_advice_utr
	ON payment_advice(utr_rrn_no) WHERE utr_rrn_no <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_advice_bank_ref
	ON payment_advice(bank_reference_no) WHERE bank_reference_no <> '';

CREATE TABLE IF NOT EXISTS advice_invoice (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	advice_id    TEXT NOT NULL REFERENCES payment_advice(id) ON DELETE CASCADE,
	invoice_no   TEXT NOT NULL,
	invoice_date TEXT,
	amount       TEXT NOT NULL,
	tds          TEXT NOT NULL DEFAULT '0',
	deductions   TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS batch_job (
	id           TEXT PRIMARY KEY,
	customer     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	total_count  INTEGER NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	submitted_at TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_item (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES batch_job(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	document_ref  TEXT NOT NULL,
	file_name     TEXT NOT NULL DEFAULT '',
	content_type  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	advice_id     TEXT,
	parser_used   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_batch_item_batch ON batch_item(batch_id, position);
`

// SQLiteStore is the default Store, backed by modernc sqlite. It also runs
// fully in memory for tests and one-shot CLI runs.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and migrates) a sqlite database. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	logger.Info("sqlite store ready", "dsn", dsn)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) IsDuplicate(ctx context.Context, utrRRN, bankRef string) (bool, error) {
	if utrRRN == "" && bankRef == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_advice
		 WHERE (utr_rrn_no <> '' AND utr_rrn_no = ?)
		    OR (bank_reference_no <> '' AND bank_reference_no = ?)`,
		utrRRN, bankRef).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveAdvice(ctx context.Context, adv *entity.PaymentAdvice) (uuid.UUID, error) {
	id := adv.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_advice (
			id, customer_name, payment_document_no, payment_date,
			bank_reference_no, utr_rrn_no, payment_amount,
			beneficiary_name, beneficiary_account_no, bank_name,
			currency, remarks, raw_text, parser_used, parse_version,
			source_format, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id.String(), adv.CustomerName, adv.PaymentDocumentNo, nullDate(adv.PaymentDate),
		adv.BankReferenceNo, adv.UTRRRNNo, adv.PaymentAmount.String(),
		adv.BeneficiaryName, adv.BeneficiaryAccountNo, adv.BankName,
		adv.Currency, adv.Remarks, adv.RawText, adv.ParserUsed, adv.ParseVersion,
		adv.SourceFormat, now)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: utr=%q bank_ref=%q", common.ErrDuplicatePersist, adv.UTRRRNNo, adv.BankReferenceNo)
		}
		return uuid.Nil, fmt.Errorf("insert advice: %w", err)
	}

	for _, line := range adv.Invoices {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO advice_invoice (advice_id, invoice_no, invoice_date, amount, tds, deductions)
			 VALUES (?,?,?,?,?,?)`,
			id.String(), line.InvoiceNo, nullDate(line.InvoiceDate),
			line.Amount.String(), line.TDS.String(), line.Deductions.String())
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert invoice line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: utr=%q bank_ref=%q", common.ErrDuplicatePersist, adv.UTRRRNNo, adv.BankReferenceNo)
		}
		return uuid.Nil, err
	}
	s.logger.Info("advice persisted", "advice_id", id, "customer", adv.CustomerName, "parser", adv.ParserUsed)
	return id, nil
}

func (s *SQLiteStore) GetAdvice(ctx context.Context, id uuid.UUID) (*entity.PaymentAdvice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_name, payment_document_no, payment_date,
		        bank_reference_no, utr_rrn_no, payment_amount,
		        beneficiary_name, beneficiary_account_no, bank_name,
		        currency, remarks, raw_text, parser_used, parse_version,
		        source_format, created_at
		   FROM payment_advice WHERE id = ?`, id.String())
	adv, err := scanAdvice(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT invoice_no, invoice_date, amount, tds, deductions
		   FROM advice_invoice WHERE advice_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load invoice lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line entity.InvoiceLine
		var date sql.NullString
		var amount, tds, ded string
		if err := rows.Scan(&line.InvoiceNo, &date, &amount, &tds, &ded); err != nil {
			return nil, err
		}
		line.InvoiceDate = parseDate(date)
		line.Amount = mustDecimal(amount)
		line.TDS = mustDecimal(tds)
		line.Deductions = mustDecimal(ded)
		adv.Invoices = append(adv.Invoices, line)
	}
	return adv, rows.Err()
}

func (s *SQLiteStore) ListAdvices(ctx context.Context, customer string, limit int) ([]*entity.PaymentAdvice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, customer_name, payment_document_no, payment_date,
	                 bank_reference_no, utr_rrn_no, payment_amount,
	                 beneficiary_name, beneficiary_account_no, bank_name,
	                 currency, remarks, raw_text, parser_used, parse_version,
	                 source_format, created_at
	            FROM payment_advice`
	args := []any{}
	if customer != "" {
		query += ` WHERE customer_name = ?`
		args = append(args, customer)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.PaymentAdvice
	for rows.Next() {
		adv, err := scanAdvice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, adv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, customer string, items []entity.BatchItem) (*entity.BatchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", common.ErrInvalidInput)
	}
	now := time.Now().UTC()
	job := &entity.BatchJob{
		ID:          uuid.New(),
		Customer:    customer,
		Status:      constants.BatchQueued,
		TotalCount:  len(items),
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batch_job (id, customer, status, total_count, processed, succeeded, failed, submitted_at, created_at, updated_at)
		 VALUES (?,?,?,?,0,0,0,?,?,?)`,
		job.ID.String(), customer, string(job.Status), job.TotalCount,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for i := range items {
		items[i].ID = uuid.New()
		items[i].BatchID = job.ID
		items[i].Position = i
		items[i].Status = constants.ItemPending
		items[i].UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO batch_item (id, batch_id, position, document_ref, file_name, content_type, status, parser_used, error_message, updated_at)
			 VALUES (?,?,?,?,?,?,?,'','',?)`,
			items[i].ID.String(), job.ID.String(), i, items[i].DocumentRef,
			items[i].FileName, items[i].ContentType, string(constants.ItemPending),
			now.Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("insert batch item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	job.Items = items
	s.logger.Info("batch created", "batch_id", job.ID, "customer", customer, "items", len(items))
	return job, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer, status, total_count, processed, succeeded, failed, submitted_at, created_at, updated_at
		   FROM batch_job WHERE id = ?`, id.String())
	job := &entity.BatchJob{}
	var jid, submitted, created, updated string
	var status string
	err := row.Scan(&jid, &job.Customer, &status, &job.TotalCount, &job.Processed, &job.Succeeded, &job.Failed, &submitted, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	job.ID = uuid.MustParse(jid)
	job.Status = constants.BatchStatus(status)
	job.SubmittedAt = mustTime(submitted)
	job.CreatedAt = mustTime(created)
	job.UpdatedAt = mustTime(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, document_ref, file_name, content_type, status, advice_id, parser_used, error_message, updated_at
		   FROM batch_item WHERE batch_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows, job.ID)
		if err != nil {
			return nil, err
		}
		job.Items = append(job.Items, item)
	}
	return job, rows.Err()
}

func (s *SQLiteStore) GetBatchStatus(ctx context.Context, id uuid.UUID) (*entity.BatchStatusSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, total_count, processed, succeeded, failed FROM batch_job WHERE id = ?`, id.String())
	sum := &entity.BatchStatusSummary{BatchID: id}
	var status string
	err := row.Scan(&status, &sum.Total, &sum.Processed, &sum.Succeeded, &sum.Failed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	sum.Status = constants.BatchStatus(status)
	return sum, nil
}

func (s *SQLiteStore) MarkItemRunning(ctx context.Context, itemID uuid.UUID) error {
	return s.transitionItem(ctx, itemID, func(tx *sql.Tx, batchID string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE batch_item SET status = ?, updated_at = ?
			  WHERE id = ? AND status = ?`,
			string(constants.ItemRunning), nowString(), itemID.String(), string(constants.ItemPending))
		return err
	})
}

func (s *SQLiteStore) CompleteItem(ctx context.Context, itemID, adviceID uuid.UUID, parserUsed string) error {
	return s.transitionItem(ctx, itemID, func(tx *sql.Tx, batchID string) error {
		// Success is permanent: never overwrite an item already succeeded.
		_, err := tx.ExecContext(ctx,
			`UPDATE batch_item
			    SET status = ?, advice_id = ?, parser_used = ?, error_message = '', updated_at = ?
			  WHERE id = ? AND status <> ?`,
			string(constants.ItemSuccess), adviceID.String(), parserUsed, nowString(),
			itemID.String(), string(constants.ItemSuccess))
		return err
	})
}

func (s *SQLiteStore) FailItem(ctx context.Context, itemID uuid.UUID, parserUsed, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	return s.transitionItem(ctx, itemID, func(tx *sql.Tx, batchID string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE batch_item
			    SET status = ?, parser_used = ?, error_message = ?, updated_at = ?
			  WHERE id = ? AND status <> ?`,
			string(constants.ItemFailed), parserUsed, message, nowString(),
			itemID.String(), string(constants.ItemSuccess))
		return err
	})
}

func (s *SQLiteStore) ResetFailedItems(ctx context.Context, batchID uuid.UUID) ([]entity.BatchItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, position, document_ref, file_name, content_type, status, advice_id, parser_used, error_message, updated_at
		   FROM batch_item WHERE batch_id = ? AND status = ? ORDER BY position`,
		batchID.String(), string(constants.ItemFailed))
	if err != nil {
		return nil, err
	}
	var items []entity.BatchItem
	for rows.Next() {
		item, err := scanItem(rows, batchID)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, common.ErrNoFailedItems
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batch_item
		    SET status = ?, error_message = '', parser_used = '', advice_id = NULL, updated_at = ?
		  WHERE batch_id = ? AND status = ?`,
		string(constants.ItemPending), nowString(), batchID.String(), string(constants.ItemFailed))
	if err != nil {
		return nil, err
	}
	if err := recomputeBatchSQL(ctx, tx, batchID.String()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].Status = constants.ItemPending
		items[i].ErrorMessage = ""
		items[i].ParserUsed = ""
	}
	s.logger.Info("failed items reset for reprocessing", "batch_id", batchID, "items", len(items))
	return items, nil
}

// transitionItem runs an item status update and the batch aggregate
// recompute in one transaction, so two items completing at the same moment
// cannot leave the aggregate stale.
func (s *SQLiteStore) transitionItem(ctx context.Context, itemID uuid.UUID, update func(tx *sql.Tx, batchID string) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var batchID string
	if err := tx.QueryRowContext(ctx,
		`SELECT batch_id FROM batch_item WHERE id = ?`, itemID.String()).Scan(&batchID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: batch item %s", common.ErrNotFound, itemID)
		}
		return err
	}
	if err := update(tx, batchID); err != nil {
		return err
	}
	if err := recomputeBatchSQL(ctx, tx, batchID); err != nil {
		return err
	}
	return tx.Commit()
}

// recomputeBatchSQL reduces the item statuses into the job row. The
// aggregate is a pure function of item statuses; this is that reduction
// expressed over the live rows.
func recomputeBatchSQL(ctx context.Context, tx *sql.Tx, batchID string) error {
	var total, started, succeeded, failed int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status <> 'PENDING' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0)
		   FROM batch_item WHERE batch_id = ?`, batchID).
		Scan(&total, &started, &succeeded, &failed)
	if err != nil {
		return err
	}

	status := reduceCounts(total, started, succeeded, failed)
	_, err = tx.ExecContext(ctx,
		`UPDATE batch_job SET status = ?, processed = ?, succeeded = ?, failed = ?, updated_at = ? WHERE id = ?`,
		string(status), succeeded+failed, succeeded, failed, nowString(), batchID)
	return err
}

func reduceCounts(total, started, succeeded, failed int) constants.BatchStatus {
	switch {
	case total == 0 || started == 0:
		return constants.BatchQueued
	case succeeded+failed < total:
		return constants.BatchProcessing
	case succeeded == total:
		return constants.BatchCompleted
	case failed == total:
		return constants.BatchFailed
	default:
		return constants.BatchPartial
	}
}

// --- scanning helpers shared with the Postgres store ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdvice(row rowScanner) (*entity.PaymentAdvice, error) {
	adv := &entity.PaymentAdvice{}
	var id, amount, created string
	var date sql.NullString
	err := row.Scan(&id, &adv.CustomerName, &adv.PaymentDocumentNo, &date,
		&adv.BankReferenceNo, &adv.UTRRRNNo, &amount,
		&adv.BeneficiaryName, &adv.BeneficiaryAccountNo, &adv.BankName,
		&adv.Currency, &adv.Remarks, &adv.RawText, &adv.ParserUsed, &adv.ParseVersion,
		&adv.SourceFormat, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: advice", common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	adv.ID = uuid.MustParse(id)
	adv.PaymentDate = parseDate(date)
	adv.PaymentAmount = mustDecimal(amount)
	adv.CreatedAt = mustTime(created)
	return adv, nil
}

func scanItem(row rowScanner, batchID uuid.UUID) (entity.BatchItem, error) {
	var item entity.BatchItem
	var id, status, updated string
	var adviceID sql.NullString
	err := row.Scan(&id, &item.Position, &item.DocumentRef, &item.FileName,
		&item.ContentType, &status, &adviceID, &item.ParserUsed, &item.ErrorMessage, &updated)
	if err != nil {
		return item, err
	}
	item.ID = uuid.MustParse(id)
	item.BatchID = batchID
	item.Status = constants.ItemStatus(status)
	item.UpdatedAt = mustTime(updated)
	if adviceID.Valid && adviceID.String != "" {
		aid := uuid.MustParse(adviceID.String)
		item.AdviceID = &aid
	}
	return item, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(normalize.ISODate)
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(normalize.ISODate, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
