package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is a single billable line item extracted from a source file,
// identified by its external document number.
type Record struct {
	ID          string
	ParentKey   string
	Origin      string
	Amount      decimal.Decimal
	IssueDate   time.Time
	CustomerRef string
	Status      GroupStatus
}

// Validate enforces the required-field contract applied during extraction.
// Failing records are dropped from the run, never fatal to their file.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: document number is required", ErrValidation)
	}
	if strings.TrimSpace(r.ParentKey) == "" {
		return fmt.Errorf("%w: parent key is required", ErrValidation)
	}
	if strings.TrimSpace(r.Origin) == "" {
		return fmt.Errorf("%w: origin is required", ErrValidation)
	}
	if strings.TrimSpace(r.CustomerRef) == "" {
		return fmt.Errorf("%w: customer reference is required", ErrValidation)
	}
	if r.IssueDate.IsZero() {
		return fmt.Errorf("%w: issue date is required", ErrValidation)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be non-negative (got %s)", ErrValidation, r.Amount)
	}
	return nil
}
