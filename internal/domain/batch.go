package domain

import (
	"fmt"
	"strings"
	"time"
)

// StateStatus represents the ingestion lifecycle state of one source file.
type StateStatus string

const (
	StatePending          StateStatus = "PENDING"
	StateProcessing       StateStatus = "PROCESSING"
	StateCompleted        StateStatus = "COMPLETED"
	StateFailedExtraction StateStatus = "FAILED_EXTRACTION"
	StateFailedGeneration StateStatus = "FAILED_GENERATION"
	StateFailedMonitoring StateStatus = "FAILED_MONITORING"
	StateFailedDownload   StateStatus = "FAILED_DOWNLOAD"
	StateFailedUpload     StateStatus = "FAILED_UPLOAD"
)

func (s StateStatus) String() string { return string(s) }

func (s StateStatus) IsValid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted,
		StateFailedExtraction, StateFailedGeneration, StateFailedMonitoring,
		StateFailedDownload, StateFailedUpload:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the file's lifecycle.
func (s StateStatus) IsTerminal() bool {
	return s == StateCompleted || s.IsFailure()
}

func (s StateStatus) IsFailure() bool {
	return strings.HasPrefix(string(s), "FAILED_")
}

func ParseStateStatusFromString(raw string) (StateStatus, error) {
	st := StateStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid state status %q", ErrValidation, raw)
	}
	return st, nil
}

// Batch identifies one pipeline run. Its id is derived from the run start
// timestamp and is referenced by every state and group produced in the run.
type Batch struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	SourceRef string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
}

// NewBatch allocates a batch whose id encodes the run start instant.
func NewBatch(sourceRef string, now time.Time) Batch {
	return Batch{
		ID:        fmt.Sprintf("batch-%s", now.UTC().Format("20060102T150405.000000000")),
		SourceRef: sourceRef,
		CreatedAt: now.UTC(),
	}
}

// ProcessingState tracks one ingested source file through the pipeline.
// Rows are never deleted; failures keep their last error message for audit.
type ProcessingState struct {
	ID             string      `gorm:"type:varchar(128);primaryKey"`
	BatchID        string      `gorm:"type:varchar(64);not null"`
	SourceFilename string      `gorm:"type:varchar(255);not null"`
	Status         StateStatus `gorm:"type:varchar(20);not null"`
	RecordCount    int         `gorm:"not null;default:0"`
	ErrorMessage   *string     `gorm:"type:text"`
	RetryCount     int         `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusHistory is one append-only audit entry per status write.
type StatusHistory struct {
	ID           string      `gorm:"type:uuid;primaryKey"`
	StateID      string      `gorm:"type:varchar(128);not null"`
	Status       StateStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage *string     `gorm:"type:text"`
	CreatedAt    time.Time
}
