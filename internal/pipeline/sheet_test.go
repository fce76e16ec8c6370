package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, cells := range rows {
		for j, value := range cells {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName() error = %v", err)
			}
			if err := f.SetCellValue("Sheet1", cell, value); err != nil {
				t.Fatalf("SetCellValue() error = %v", err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "invoices.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
	return path
}

func TestExcelParserRows(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, [][]string{
		{"Document_Number", "PO_Number", "Amount"},
		{"DOC-1", "PO-1", "100.10"},
		{"", "", ""},
		{"DOC-2", "PO-2", "49.90"},
	})

	rows, err := NewExcelParser().Rows(context.Background(), path)
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (empty row skipped)", len(rows))
	}
	if rows[0]["document_number"] != "DOC-1" || rows[0]["po_number"] != "PO-1" {
		t.Fatalf("row 0 = %v", rows[0])
	}
	if rows[1]["amount"] != "49.90" {
		t.Fatalf("row 1 amount = %q, want 49.90", rows[1]["amount"])
	}
}

func TestExcelParserMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewExcelParser().Rows(context.Background(), filepath.Join(t.TempDir(), "absent.xlsx"))
	if err == nil {
		t.Fatal("expected error for missing workbook")
	}
}

func TestExcelParserCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExcelParser().Rows(ctx, "irrelevant.xlsx")
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}
