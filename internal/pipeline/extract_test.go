package pipeline

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
)

func billableRow(doc, po, amount string) map[string]string {
	return map[string]string{
		colDocumentNumber: doc,
		colParentKey:      po,
		colOrigin:         "erp",
		colAmount:         amount,
		colIssueDate:      "2026-07-01",
		colCustomer:       "ACME",
		colDocumentType:   "invoice",
	}
}

func TestExtractRecordsFiltersAndValidates(t *testing.T) {
	t.Parallel()

	creditNote := billableRow("DOC-2", "PO-1", "50.00")
	creditNote[colDocumentType] = "credit_note"

	badAmount := billableRow("DOC-3", "PO-1", "not-a-number")

	missingCustomer := billableRow("DOC-4", "PO-1", "10.00")
	missingCustomer[colCustomer] = ""

	rows := []map[string]string{
		billableRow("DOC-1", "PO-1", "100.10"),
		creditNote,
		badAmount,
		missingCustomer,
		billableRow("DOC-5", "PO-2", "49.90"),
	}

	got := extractRecords(rows, billableTypeSet(nil), zap.NewNop())

	if len(got.records) != 2 {
		t.Fatalf("records = %d, want 2", len(got.records))
	}
	if got.discarded != 1 {
		t.Fatalf("discarded = %d, want 1", got.discarded)
	}
	if got.dropped != 2 {
		t.Fatalf("dropped = %d, want 2", got.dropped)
	}
	if got.records[0].ID != "DOC-1" || got.records[1].ID != "DOC-5" {
		t.Fatalf("record ids = %s, %s", got.records[0].ID, got.records[1].ID)
	}
}

func TestExtractRecordsCaseInsensitiveDocumentType(t *testing.T) {
	t.Parallel()

	row := billableRow("DOC-1", "PO-1", "10.00")
	row[colDocumentType] = " Debit_Note "

	got := extractRecords([]map[string]string{row}, billableTypeSet(nil), zap.NewNop())

	if len(got.records) != 1 || got.discarded != 0 {
		t.Fatalf("records = %d discarded = %d, want 1 and 0", len(got.records), got.discarded)
	}
}

func TestGroupRecordsIsDeterministicAndAggregates(t *testing.T) {
	t.Parallel()

	records := []domain.Record{
		mustParseRecord(t, billableRow("DOC-1", "PO-2", "10.50")),
		mustParseRecord(t, billableRow("DOC-2", "PO-1", "4.25")),
		mustParseRecord(t, billableRow("DOC-3", "PO-2", "0.25")),
	}

	groups := groupRecords(records, "batch-1")

	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].ParentKey != "PO-1" || groups[1].ParentKey != "PO-2" {
		t.Fatalf("group order = %s, %s, want PO-1 then PO-2", groups[0].ParentKey, groups[1].ParentKey)
	}
	if groups[1].RecordCount() != 2 {
		t.Fatalf("PO-2 record count = %d, want 2", groups[1].RecordCount())
	}
	if !groups[1].TotalAmount.Equal(decimal.RequireFromString("10.75")) {
		t.Fatalf("PO-2 total = %s, want 10.75", groups[1].TotalAmount)
	}
	for _, g := range groups {
		if g.Status != domain.GroupPending {
			t.Fatalf("group %s status = %s, want PENDING", g.ParentKey, g.Status)
		}
		if err := g.Validate(); err != nil {
			t.Fatalf("group %s invalid: %v", g.ParentKey, err)
		}
	}
}

func mustParseRecord(t *testing.T, row map[string]string) domain.Record {
	t.Helper()

	record, err := parseRecord(row)
	if err != nil {
		t.Fatalf("parseRecord() error = %v", err)
	}
	return record
}
