package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// GroupModel is the persistence model for invoice_groups. Record ids are
// stored as a JSON array; membership is immutable once the structure
// stage has persisted the group.
type GroupModel struct {
	ParentKey   string             `gorm:"type:varchar(64);primaryKey"`
	BatchID     string             `gorm:"type:varchar(64);primaryKey"`
	Status      domain.GroupStatus `gorm:"type:varchar(20);not null"`
	TotalAmount decimal.Decimal    `gorm:"type:numeric(18,2);not null"`
	RecordCount int                `gorm:"not null"`
	RecordIDs   string             `gorm:"type:text;not null"`
	PeriodStart time.Time          `gorm:"type:date"`
	PeriodEnd   time.Time          `gorm:"type:date"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (GroupModel) TableName() string {
	return "invoice_groups"
}

// CallAttemptModel is the persistence model for call_attempts, the
// append-only audit of automation service call attempts.
type CallAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	Endpoint      string  `gorm:"type:varchar(32);not null"`
	AttemptNumber int     `gorm:"not null"`
	Success       bool    `gorm:"not null"`
	ErrorMessage  *string `gorm:"type:text"`
	ElapsedMillis int64   `gorm:"not null"`
	CreatedAt     time.Time
}

func (CallAttemptModel) TableName() string {
	return "call_attempts"
}

func groupModelFromDomain(g *domain.Group) (*GroupModel, error) {
	if g == nil {
		return nil, nil
	}

	encodedIDs, err := json.Marshal(g.RecordIDs)
	if err != nil {
		return nil, err
	}

	return &GroupModel{
		ParentKey:   g.ParentKey,
		BatchID:     g.BatchID,
		Status:      g.Status,
		TotalAmount: g.TotalAmount,
		RecordCount: g.RecordCount(),
		RecordIDs:   string(encodedIDs),
		PeriodStart: g.PeriodStart,
		PeriodEnd:   g.PeriodEnd,
	}, nil
}

// GroupRow is the read model for persisted groups.
type GroupRow struct {
	ParentKey   string
	BatchID     string
	Status      domain.GroupStatus
	TotalAmount decimal.Decimal
	RecordCount int
	RecordIDs   []string
	PeriodStart time.Time
	PeriodEnd   time.Time
	UpdatedAt   time.Time
}

func groupModelToRow(m *GroupModel) GroupRow {
	var ids []string
	_ = json.Unmarshal([]byte(m.RecordIDs), &ids)

	return GroupRow{
		ParentKey:   m.ParentKey,
		BatchID:     m.BatchID,
		Status:      m.Status,
		TotalAmount: m.TotalAmount,
		RecordCount: m.RecordCount,
		RecordIDs:   ids,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		UpdatedAt:   m.UpdatedAt,
	}
}
