package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ntrivedi/adviceparser/internal/normalize"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// Service reads from the store and produces XLSX bytes for advice and
// batch exports.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// AdvicesXLSX returns a workbook of parsed advices, optionally filtered by
// customer. Amounts are written as decimal strings to preserve precision.
func (s *Service) AdvicesXLSX(ctx context.Context, customer string, limit int) ([]byte, error) {
	start := time.Now()

	advs, err := s.store.ListAdvices(ctx, customer, limit)
	if err != nil {
		return nil, fmt.Errorf("query advices: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Payment Advices"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Advice ID",
		"Customer",
		"Payment Doc No",
		"Payment Date",
		"Bank Reference",
		"UTR/RRN",
		"Amount",
		"Currency",
		"Parser",
		"Created At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, a := range advs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, a.ID.String())
		write(2, a.CustomerName)
		write(3, a.PaymentDocumentNo)
		if a.PaymentDate != nil {
			write(4, normalize.FormatDate(*a.PaymentDate))
		} else {
			write(4, "")
		}
		write(5, a.BankReferenceNo)
		write(6, a.UTRRRNNo)
		write(7, a.PaymentAmount.StringFixed(2))
		write(8, a.Currency)
		write(9, a.ParserUsed)
		write(10, a.CreatedAt.UTC().Format(time.RFC3339))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "C", 24)
	_ = f.SetColWidth(sheet, "D", "D", 12)
	_ = f.SetColWidth(sheet, "E", "F", 22)
	_ = f.SetColWidth(sheet, "G", "H", 14)
	_ = f.SetColWidth(sheet, "I", "J", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.advices.ok",
		"customer", customer,
		"rows", len(advs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// BatchResultsXLSX returns a workbook with one row per batch item,
// including the advice it produced or the failure message.
func (s *Service) BatchResultsXLSX(ctx context.Context, batchID uuid.UUID) ([]byte, error) {
	start := time.Now()

	job, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Batch Results"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Position",
		"File",
		"Status",
		"Parser",
		"Advice ID",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, item := range job.Items {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, item.Position+1)
		name := item.FileName
		if name == "" {
			name = item.DocumentRef
		}
		write(2, name)
		write(3, string(item.Status))
		write(4, item.ParserUsed)
		if item.AdviceID != nil {
			write(5, item.AdviceID.String())
		} else {
			write(5, "")
		}
		write(6, truncate(item.ErrorMessage, 140))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 10)
	_ = f.SetColWidth(sheet, "B", "B", 40)
	_ = f.SetColWidth(sheet, "C", "D", 16)
	_ = f.SetColWidth(sheet, "E", "E", 38)
	_ = f.SetColWidth(sheet, "F", "F", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.batch.ok",
		"batch_id", batchID.String(),
		"rows", len(job.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
