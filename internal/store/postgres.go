package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS payment_advice (
	id                     UUID PRIMARY KEY,
	customer_name          TEXT NOT NULL,
	payment_document_no    TEXT NOT NULL DEFAULT '',
	payment_date           DATE,
	bank_reference_no      TEXT NOT NULL DEFAULT '',
	utr_rrn_no             TEXT NOT NULL DEFAULT '',
	payment_amount         NUMERIC(18,2) NOT NULL,
	beneficiary_name       TEXT NOT NULL DEFAULT '',
	beneficiary_account_no TEXT NOT NULL DEFAULT '',
	bank_name              TEXT NOT NULL DEFAULT '',
	currency               TEXT NOT NULL,
	remarks                TEXT NOT NULL DEFAULT '',
	raw_text               TEXT NOT NULL DEFAULT '',
	parser_used            TEXT NOT NULL DEFAULT '',
	parse_version          TEXT NOT NULL DEFAULT '',
	source_format          TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_advice_utr
	ON payment_advice(utr_rrn_no) WHERE utr_rrn_no <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_advice_bank_ref
	ON payment_advice(bank_reference_no) WHERE bank_reference_no <> '';

CREATE TABLE IF NOT EXISTS advice_invoice (
	id           BIGSERIAL PRIMARY KEY,
	advice_id    UUID NOT NULL REFERENCES payment_advice(id) ON DELETE CASCADE,
	invoice_no   TEXT NOT NULL,
	invoice_date DATE,
	amount       NUMERIC(18,2) NOT NULL,
	tds          NUMERIC(18,2) NOT NULL DEFAULT 0,
	deductions   NUMERIC(18,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batch_job (
	id           UUID PRIMARY KEY,
	customer     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	total_count  INT NOT NULL,
	processed    INT NOT NULL DEFAULT 0,
	succeeded    INT NOT NULL DEFAULT 0,
	failed       INT NOT NULL DEFAULT 0,
	submitted_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_item (
	id            UUID PRIMARY KEY,
	batch_id      UUID NOT NULL REFERENCES batch_job(id) ON DELETE CASCADE,
	position      INT NOT NULL,
	document_ref  TEXT NOT NULL,
	file_name     TEXT NOT NULL DEFAULT '',
	content_type  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	advice_id     UUID,
	parser_used   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_batch_item_batch ON batch_item(batch_id, position);
`

// PostgresStore backs the Store contract with a pgx pool for shared
// multi-process deployments.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PGConfig mirrors the pool knobs exposed through the environment.
type PGConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// OpenPostgres creates the pool, pings it, and ensures the schema.
func OpenPostgres(ctx context.Context, cfg PGConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "adviceparser"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("postgres store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) IsDuplicate(ctx context.Context, utrRRN, bankRef string) (bool, error) {
	if utrRRN == "" && bankRef == "" {
		return false, nil
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_advice
		 WHERE (utr_rrn_no <> '' AND utr_rrn_no = $1)
		    OR (bank_reference_no <> '' AND bank_reference_no = $2)`,
		utrRRN, bankRef).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) SaveAdvice(ctx context.Context, adv *entity.PaymentAdvice) (uuid.UUID, error) {
	id := adv.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_advice (
			id, customer_name, payment_document_no, payment_date,
			bank_reference_no, utr_rrn_no, payment_amount,
			beneficiary_name, beneficiary_account_no, bank_name,
			currency, remarks, raw_text, parser_used, parse_version,
			source_format, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())`,
		id, adv.CustomerName, adv.PaymentDocumentNo, adv.PaymentDate,
		adv.BankReferenceNo, adv.UTRRRNNo, adv.PaymentAmount.String(),
		adv.BeneficiaryName, adv.BeneficiaryAccountNo, adv.BankName,
		adv.Currency, adv.Remarks, adv.RawText, adv.ParserUsed, adv.ParseVersion,
		adv.SourceFormat)
	if err != nil {
		if isPGUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: utr=%q bank_ref=%q", common.ErrDuplicatePersist, adv.UTRRRNNo, adv.BankReferenceNo)
		}
		return uuid.Nil, fmt.Errorf("insert advice: %w", err)
	}

	for _, line := range adv.Invoices {
		_, err = tx.Exec(ctx,
			`INSERT INTO advice_invoice (advice_id, invoice_no, invoice_date, amount, tds, deductions)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			id, line.InvoiceNo, line.InvoiceDate,
			line.Amount.String(), line.TDS.String(), line.Deductions.String())
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert invoice line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isPGUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: utr=%q bank_ref=%q", common.ErrDuplicatePersist, adv.UTRRRNNo, adv.BankReferenceNo)
		}
		return uuid.Nil, err
	}
	s.logger.Info("advice persisted", "advice_id", id, "customer", adv.CustomerName, "parser", adv.ParserUsed)
	return id, nil
}

func (s *PostgresStore) GetAdvice(ctx context.Context, id uuid.UUID) (*entity.PaymentAdvice, error) {
	adv := &entity.PaymentAdvice{ID: id}
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_name, payment_document_no, payment_date,
		        bank_reference_no, utr_rrn_no, payment_amount::text,
		        beneficiary_name, beneficiary_account_no, bank_name,
		        currency, remarks, raw_text, parser_used, parse_version,
		        source_format, created_at
		   FROM payment_advice WHERE id = $1`, id).
		Scan(&adv.CustomerName, &adv.PaymentDocumentNo, &adv.PaymentDate,
			&adv.BankReferenceNo, &adv.UTRRRNNo, &amount,
			&adv.BeneficiaryName, &adv.BeneficiaryAccountNo, &adv.BankName,
			&adv.Currency, &adv.Remarks, &adv.RawText, &adv.ParserUsed, &adv.ParseVersion,
			&adv.SourceFormat, &adv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: advice %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	adv.PaymentAmount = mustDecimal(amount)

	rows, err := s.pool.Query(ctx,
		`SELECT invoice_no, invoice_date, amount::text, tds::text, deductions::text
		   FROM advice_invoice WHERE advice_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line entity.InvoiceLine
		var amt, tds, ded string
		if err := rows.Scan(&line.InvoiceNo, &line.InvoiceDate, &amt, &tds, &ded); err != nil {
			return nil, err
		}
		line.Amount = mustDecimal(amt)
		line.TDS = mustDecimal(tds)
		line.Deductions = mustDecimal(ded)
		adv.Invoices = append(adv.Invoices, line)
	}
	return adv, rows.Err()
}

func (s *PostgresStore) ListAdvices(ctx context.Context, customer string, limit int) ([]*entity.PaymentAdvice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_name, payment_document_no, payment_date,
		        bank_reference_no, utr_rrn_no, payment_amount::text,
		        currency, parser_used, created_at
		   FROM payment_advice
		  WHERE ($1 = '' OR customer_name = $1)
		  ORDER BY created_at DESC LIMIT $2`, customer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.PaymentAdvice
	for rows.Next() {
		adv := &entity.PaymentAdvice{}
		var amount string
		if err := rows.Scan(&adv.ID, &adv.CustomerName, &adv.PaymentDocumentNo, &adv.PaymentDate,
			&adv.BankReferenceNo, &adv.UTRRRNNo, &amount,
			&adv.Currency, &adv.ParserUsed, &adv.CreatedAt); err != nil {
			return nil, err
		}
		adv.PaymentAmount = mustDecimal(amount)
		out = append(out, adv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBatch(ctx context.Context, customer string, items []entity.BatchItem) (*entity.BatchJob, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO batch_job (id, customer, status, total_count, submitted_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5,$5)`,
		job.ID, customer, string(job.Status), job.TotalCount, now)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].BatchID = job.ID
		items[i].Position = i
		items[i].Status = constants.ItemPending
		items[i].UpdatedAt = now
		_, err = tx.Exec(ctx,
			`INSERT INTO batch_item (id, batch_id, position, document_ref, file_name, content_type, status, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			items[i].ID, job.ID, i, items[i].DocumentRef, items[i].FileName,
			items[i].ContentType, string(constants.ItemPending), now)
		if err != nil {
			return nil, fmt.Errorf("insert batch item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	job.Items = items
	s.logger.Info("batch created", "batch_id", job.ID, "customer", customer, "items", len(items))
	return job, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error) {
	job := &entity.BatchJob{ID: id}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT customer, status, total_count, processed, succeeded, failed, submitted_at, created_at, updated_at
		   FROM batch_job WHERE id = $1`, id).
		Scan(&job.Customer, &status, &job.TotalCount, &job.Processed, &job.Succeeded, &job.Failed,
			&job.SubmittedAt, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	job.Status = constants.BatchStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT id, position, document_ref, file_name, content_type, status, advice_id, parser_used, error_message, updated_at
		   FROM batch_item WHERE batch_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanPGItem(rows, id)
		if err != nil {
			return nil, err
		}
		job.Items = append(job.Items, item)
	}
	return job, rows.Err()
}

func (s *PostgresStore) GetBatchStatus(ctx context.Context, id uuid.UUID) (*entity.BatchStatusSummary, error) {
	sum := &entity.BatchStatusSummary{BatchID: id}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status, total_count, processed, succeeded, failed FROM batch_job WHERE id = $1`, id).
		Scan(&status, &sum.Total, &sum.Processed, &sum.Succeeded, &sum.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	sum.Status = constants.BatchStatus(status)
	return sum, nil
}

func (s *PostgresStore) MarkItemRunning(ctx context.Context, itemID uuid.UUID) error {
	return s.transitionItem(ctx, itemID, func(tx pgx.Tx, batchID uuid.UUID) error {
		_, err := tx.Exec(ctx,
			`UPDATE batch_item SET status = $1, updated_at = now()
			  WHERE id = $2 AND status = $3`,
			string(constants.ItemRunning), itemID, string(constants.ItemPending))
		return err
	})
}

func (s *PostgresStore) CompleteItem(ctx context.Context, itemID, adviceID uuid.UUID, parserUsed string) error {
	return s.transitionItem(ctx, itemID, func(tx pgx.Tx, batchID uuid.UUID) error {
		_, err := tx.Exec(ctx,
			`UPDATE batch_item
			    SET status = $1, advice_id = $2, parser_used = $3, error_message = '', updated_at = now()
			  WHERE id = $4 AND status <> $1`,
			string(constants.ItemSuccess), adviceID, parserUsed, itemID)
		return err
	})
}

func (s *PostgresStore) FailItem(ctx context.Context, itemID uuid.UUID, parserUsed, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	return s.transitionItem(ctx, itemID, func(tx pgx.Tx, batchID uuid.UUID) error {
		_, err := tx.Exec(ctx,
			`UPDATE batch_item
			    SET status = $1, parser_used = $2, error_message = $3, updated_at = now()
			  WHERE id = $4 AND status <> $5`,
			string(constants.ItemFailed), parserUsed, message, itemID, string(constants.ItemSuccess))
		return err
	})
}

func (s *PostgresStore) ResetFailedItems(ctx context.Context, batchID uuid.UUID) ([]entity.BatchItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, position, document_ref, file_name, content_type, status, advice_id, parser_used, error_message, updated_at
		   FROM batch_item WHERE batch_id = $1 AND status = $2 ORDER BY position FOR UPDATE`,
		batchID, string(constants.ItemFailed))
	if err != nil {
		return nil, err
	}
	var items []entity.BatchItem
	for rows.Next() {
		item, err := scanPGItem(rows, batchID)
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

	_, err = tx.Exec(ctx,
		`UPDATE batch_item
		    SET status = $1, error_message = '', parser_used = '', advice_id = NULL, updated_at = now()
		  WHERE batch_id = $2 AND status = $3`,
		string(constants.ItemPending), batchID, string(constants.ItemFailed))
	if err != nil {
		return nil, err
	}
	if err := s.recomputeBatch(ctx, tx, batchID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
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

func (s *PostgresStore) transitionItem(ctx context.Context, itemID uuid.UUID, update func(tx pgx.Tx, batchID uuid.UUID) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var batchID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT batch_id FROM batch_item WHERE id = $1 FOR UPDATE`, itemID).Scan(&batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: batch item %s", common.ErrNotFound, itemID)
	}
	if err != nil {
		return err
	}
	if err := update(tx, batchID); err != nil {
		return err
	}
	if err := s.recomputeBatch(ctx, tx, batchID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) recomputeBatch(ctx context.Context, tx pgx.Tx, batchID uuid.UUID) error {
	var total, started, succeeded, failed int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status <> 'PENDING' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0)
		   FROM batch_item WHERE batch_id = $1`, batchID).
		Scan(&total, &started, &succeeded, &failed)
	if err != nil {
		return err
	}
	status := reduceCounts(total, started, succeeded, failed)
	_, err = tx.Exec(ctx,
		`UPDATE batch_job SET status = $1, processed = $2, succeeded = $3, failed = $4, updated_at = now() WHERE id = $5`,
		string(status), succeeded+failed, succeeded, failed, batchID)
	return err
}

func scanPGItem(rows pgx.Rows, batchID uuid.UUID) (entity.BatchItem, error) {
	var item entity.BatchItem
	var status string
	var adviceID *uuid.UUID
	err := rows.Scan(&item.ID, &item.Position, &item.DocumentRef, &item.FileName,
		&item.ContentType, &status, &adviceID, &item.ParserUsed, &item.ErrorMessage, &item.UpdatedAt)
	if err != nil {
		return item, err
	}
	item.BatchID = batchID
	item.Status = constants.ItemStatus(status)
	item.AdviceID = adviceID
	return item, nil
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
