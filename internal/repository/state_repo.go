package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateRepository is the single source of truth for per-file processing
// status. Every status write is durable before the call returns and is
// mirrored into the append-only history table.
type StateRepository interface {
	CreateBatch(ctx context.Context, b *domain.Batch) error
	CreateState(ctx context.Context, batchID string, sourceFilename string) (string, error)
	Get(ctx context.Context, stateID string) (*domain.ProcessingState, error)
	UpdateStatus(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error
	SetRecordCount(ctx context.Context, stateID string, recordCount int) error
	IncrementRetry(ctx context.Context, stateID string) (int, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.ProcessingState, error)
	History(ctx context.Context, stateID string) ([]domain.StatusHistory, error)
}

const stateIDPrefix = "ps"

type GormStateRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStateRepo(db *gorm.DB) *GormStateRepo {
	return &GormStateRepo{db: db, now: time.Now}
}

func (r *GormStateRepo) CreateBatch(ctx context.Context, b *domain.Batch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

// CreateState allocates a PENDING state with a deterministic id built from
// the batch id and a monotonic timestamp.
func (r *GormStateRepo) CreateState(ctx context.Context, batchID string, sourceFilename string) (string, error) {
	now := r.now().UTC()
	state := &domain.ProcessingState{
		ID:             fmt.Sprintf("%s-%s-%d", stateIDPrefix, batchID, now.UnixNano()),
		BatchID:        batchID,
		SourceFilename: sourceFilename,
		Status:         domain.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(state).Error; err != nil {
			return err
		}
		return tx.Create(historyEntry(state.ID, domain.StatePending, nil, now)).Error
	})
	if err != nil {
		return "", err
	}

	return state.ID, nil
}

func (r *GormStateRepo) Get(ctx context.Context, stateID string) (*domain.ProcessingState, error) {
	var state domain.ProcessingState
	err := r.db.WithContext(ctx).First(&state, "id = ?", stateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateStatus writes the new status without validating transition
// legality; legality is the orchestrator's responsibility.
func (r *GormStateRepo) UpdateStatus(ctx context.Context, stateID string, status domain.StateStatus, errorMessage *string) error {
	now := r.now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.ProcessingState{}).
			Where("id = ?", stateID).
			Updates(map[string]any{
				"status":        status,
				"error_message": errorMessage,
				"updated_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		return tx.Create(historyEntry(stateID, status, errorMessage, now)).Error
	})
}

func (r *GormStateRepo) SetRecordCount(ctx context.Context, stateID string, recordCount int) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ProcessingState{}).
		Where("id = ?", stateID).
		Updates(map[string]any{
			"record_count": recordCount,
			"updated_at":   r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementRetry is a read-modify-write under a row lock so concurrent
// increments on the same state never lose an update.
func (r *GormStateRepo) IncrementRetry(ctx context.Context, stateID string) (int, error) {
	var newCount int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state domain.ProcessingState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&state, "id = ?", stateID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		newCount = state.RetryCount + 1
		return tx.Model(&state).
			Updates(map[string]any{
				"retry_count": newCount,
				"updated_at":  r.now().UTC(),
			}).Error
	})
	if err != nil {
		return 0, err
	}

	return newCount, nil
}

func (r *GormStateRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.ProcessingState, error) {
	var states []domain.ProcessingState
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (r *GormStateRepo) History(ctx context.Context, stateID string) ([]domain.StatusHistory, error) {
	var entries []domain.StatusHistory
	err := r.db.WithContext(ctx).
		Where("state_id = ?", stateID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func historyEntry(stateID string, status domain.StateStatus, errorMessage *string, now time.Time) *domain.StatusHistory {
	return &domain.StatusHistory{
		ID:           uuid.NewString(),
		StateID:      stateID,
		Status:       status,
		ErrorMessage: errorMessage,
		CreatedAt:    now,
	}
}
