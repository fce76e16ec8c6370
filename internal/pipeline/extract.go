package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Spreadsheet column names expected from the parsing collaborator.
const (
	colDocumentNumber = "document_number"
	colParentKey      = "po_number"
	colOrigin         = "origin"
	colAmount         = "amount"
	colIssueDate      = "issue_date"
	colCustomer       = "customer"
	colDocumentType   = "document_type"
)

const issueDateLayout = "2006-01-02"

// defaultBillableTypes is the document-type whitelist applied during
// extraction. Rows of any other type are discarded, not failed.
var defaultBillableTypes = []string{"invoice", "debit_note"}

type extraction struct {
	records   []domain.Record
	discarded int
	dropped   int
}

// extractRecords applies the billable filter and the per-record field
// validation. Invalid records are dropped and logged; nothing here is
// fatal to the file.
func extractRecords(rows []map[string]string, billable map[string]bool, logger *zap.Logger) extraction {
	out := extraction{records: make([]domain.Record, 0, len(rows))}

	for i, row := range rows {
		docType := strings.ToLower(strings.TrimSpace(row[colDocumentType]))
		if !billable[docType] {
			out.discarded++
			continue
		}

		record, err := parseRecord(row)
		if err != nil {
			out.dropped++
			logger.Warn("dropping invalid record row",
				zap.Int("rowIndex", i),
				zap.String("documentNumber", row[colDocumentNumber]),
				zap.Error(err),
			)
			continue
		}

		out.records = append(out.records, record)
	}

	return out
}

func parseRecord(row map[string]string) (domain.Record, error) {
	amountRaw := strings.TrimSpace(row[colAmount])
	if amountRaw == "" {
		return domain.Record{}, fmt.Errorf("%w: amount is required", domain.ErrValidation)
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: invalid amount %q", domain.ErrValidation, amountRaw)
	}

	var issueDate time.Time
	if raw := strings.TrimSpace(row[colIssueDate]); raw != "" {
		issueDate, err = time.Parse(issueDateLayout, raw)
		if err != nil {
			return domain.Record{}, fmt.Errorf("%w: invalid issue date %q", domain.ErrValidation, raw)
		}
	}

	record := domain.Record{
		ID:          strings.TrimSpace(row[colDocumentNumber]),
		ParentKey:   strings.TrimSpace(row[colParentKey]),
		Origin:      strings.TrimSpace(row[colOrigin]),
		Amount:      amount,
		IssueDate:   issueDate,
		CustomerRef: strings.TrimSpace(row[colCustomer]),
		Status:      domain.GroupPending,
	}

	if err := record.Validate(); err != nil {
		return domain.Record{}, err
	}

	return record, nil
}

// groupRecords assembles groups by parent key, in deterministic key
// order. Groups that would be empty never come into existence here, so
// the zero-member invariant holds by construction.
func groupRecords(records []domain.Record, batchID string) []*domain.Group {
	byKey := make(map[string]*domain.Group)
	for _, r := range records {
		g, ok := byKey[r.ParentKey]
		if !ok {
			g = domain.NewGroup(r.ParentKey, batchID)
			byKey[r.ParentKey] = g
		}
		g.Add(r)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]*domain.Group, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, byKey[key])
	}
	return groups
}

func billableTypeSet(types []string) map[string]bool {
	if len(types) == 0 {
		types = defaultBillableTypes
	}

	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}
