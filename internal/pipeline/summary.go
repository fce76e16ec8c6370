package pipeline

import (
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/kursadbilgin/invoice-pipeline/internal/observability"
	"github.com/shopspring/decimal"
)

// GroupOutcome is the terminal (or last reached) status of one group.
type GroupOutcome struct {
	ParentKey   string
	Status      domain.GroupStatus
	RecordCount int
	TotalAmount decimal.Decimal
}

// RunSummary is the structured completion report of one batch. It is the
// only output of a run: failures live here as data, never as a returned
// error.
type RunSummary struct {
	BatchID   string
	SourceRef string

	FilesIngested  int
	FilesFailed    int
	RowsDiscarded  int
	RecordsDropped int

	GroupsTotal           int
	GroupsUploaded        int
	GroupsFailed          int
	TotalRecordsProcessed int
	TotalAmountUploaded   decimal.Decimal

	Groups  []GroupOutcome
	Metrics observability.Summary
}
