package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// ReportHeader is the column set of the reconciliation export.
var ReportHeader = []string{"id", "phone_number", "amount", "status", "checkout_request_id", "created_at", "updated_at"}

// ReportWriter persists one reconciliation snapshot and returns where it went.
type ReportWriter interface {
	WriteReport(ctx context.Context, rows []*domain.PaymentTransaction, at time.Time) (string, error)
}

// CSVReportWriter writes reconciliation_report_<timestamp>.csv files into a directory.
type CSVReportWriter struct {
	dir    string
	logger *slog.Logger
}

func NewCSVReportWriter(dir string, logger *slog.Logger) *CSVReportWriter {
	if dir == "" {
		dir = "./reports"
		logger.Warn("Reconciliation export directory not configured, using default", "path", dir)
	}
	return &CSVReportWriter{dir: dir, logger: logger.With("component", "csv_report_writer")}
}

func (w *CSVReportWriter) WriteReport(ctx context.Context, rows []*domain.PaymentTransaction, at time.Time) (path string, err error) {
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return "", fmt.Errorf("could not create export directory: %w", err)
	}
	fileName := fmt.Sprintf("reconciliation_report_%s.csv", at.UTC().Format("20060102T150405Z"))
	fullPath := filepath.Join(w.dir, fileName)

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("creating CSV file failed: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(fullPath)
			path = ""
		}
	}()

	if err := WriteReportCSV(file, rows); err != nil {
		return "", err
	}
	w.logger.InfoContext(ctx, "Reconciliation report written", "file_path", fullPath, "num_records", len(rows))
	return fullPath, nil
}

// WriteReportCSV writes the header and one row per transaction.
func WriteReportCSV(out io.Writer, rows []*domain.PaymentTransaction) error {
	writer := csv.NewWriter(out)
	if err := writer.Write(ReportHeader); err != nil {
		return fmt.Errorf("writing CSV header failed: %w", err)
	}
	for _, tx := range rows {
		record := []string{
			tx.ID.String(),
			tx.PhoneNumber,
			tx.Amount.StringFixed(2),
			string(tx.Status),
			tx.CheckoutID(),
			tx.CreatedAt.UTC().Format(time.RFC3339Nano),
			tx.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing CSV row for %s failed: %w", tx.ID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("csv writer error: %w", err)
	}
	return nil
}
