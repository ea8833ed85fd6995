package service

import (
	"bytes"
	"fmt"
	"time"

	"doc-queue/internal/models"

	"github.com/xuri/excelize/v2"
)

const deadLetterSheet = "Dead Letters"

// ExportDeadLettersXLSX renders dead letter records as an XLSX workbook
func ExportDeadLettersXLSX(records []*models.DeadLetterRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(deadLetterSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headers := []string{
		"Record ID",
		"Job ID",
		"Document ID",
		"Filename",
		"Storage Key",
		"Attempts",
		"Max Attempts",
		"Failure Reason",
		"Dead-Lettered At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(deadLetterSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, r := range records {
		row := i + 2
		values := []interface{}{
			r.ID,
			r.JobID,
			r.Payload.DocumentID,
			r.Payload.Filename,
			r.Payload.StorageKey,
			r.AttemptsMade,
			r.MaxAttempts,
			r.FailureReason,
			r.DeadLetteredAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(deadLetterSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	_ = f.SetColWidth(deadLetterSheet, "A", "D", 40)
	_ = f.SetColWidth(deadLetterSheet, "E", "E", 60)
	_ = f.SetColWidth(deadLetterSheet, "H", "H", 60)
	_ = f.SetColWidth(deadLetterSheet, "I", "I", 22)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	return buf.Bytes(), nil
}
