// Package export writes recognized invoice records to XLSX workbooks.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/haoyun/invoice-ocr/internal/extract"
)

const sheet = "Invoices"

var headers = []string{
	"Invoice Number",
	"Issue Date",
	"Seller",
	"Buyer",
	"Total",
	"Tax",
	"Status",
	"Missing Fields",
	"Method",
	"Processed At",
	"Source File",
}

// Row pairs a record with the path it came from, for the source-file column.
type Row struct {
	Record extract.InvoiceRecord
	Path   string
}

type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// WriteXLSX renders the rows into a workbook and returns its bytes.
func (e *Exporter) WriteXLSX(rows []Row) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		e.logger.Warn("export.xlsx.delete_default_sheet", "error", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for n, row := range rows {
		rec := row.Record
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, n+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, rec.InvoiceNumber)
		write(2, rec.IssueDate)
		write(3, rec.SellerName)
		write(4, rec.BuyerName)
		if rec.Total != nil {
			write(5, rec.Total.String())
		}
		if rec.Tax != nil {
			write(6, rec.Tax.String())
		}
		write(7, string(rec.Status))
		if len(rec.Missing) > 0 {
			write(8, strings.Join(rec.Missing, ", "))
		}
		write(9, string(rec.Method))
		if !rec.ProcessedAt.IsZero() {
			write(10, rec.ProcessedAt.Format("2006-01-02 15:04:05"))
		}
		write(11, row.Path)
	}

	_ = f.SetColWidth(sheet, "A", "A", 16)
	_ = f.SetColWidth(sheet, "B", "B", 12)
	_ = f.SetColWidth(sheet, "C", "D", 28)
	_ = f.SetColWidth(sheet, "E", "F", 12)
	_ = f.SetColWidth(sheet, "G", "I", 14)
	_ = f.SetColWidth(sheet, "J", "J", 20)
	_ = f.SetColWidth(sheet, "K", "K", 52)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// SaveXLSX writes the workbook to path.
func (e *Exporter) SaveXLSX(path string, rows []Row) error {
	data, err := e.WriteXLSX(rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing workbook %q: %w", path, err)
	}
	return nil
}
