package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-pipeline/internal/automation"
	"gorm.io/gorm"
)

// GormAttemptRepo persists automation call attempts. It satisfies
// automation.AttemptSink.
type GormAttemptRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db, now: time.Now}
}

func (r *GormAttemptRepo) RecordCallAttempt(ctx context.Context, attempt automation.CallAttempt) error {
	var errorMessage *string
	if msg := strings.TrimSpace(attempt.ErrorMessage); msg != "" {
		errorMessage = &msg
	}

	model := &CallAttemptModel{
		ID:            uuid.NewString(),
		Endpoint:      attempt.Endpoint,
		AttemptNumber: attempt.AttemptNumber,
		Success:       attempt.Success,
		ErrorMessage:  errorMessage,
		ElapsedMillis: attempt.ElapsedMillis,
		CreatedAt:     r.now().UTC(),
	}

	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormAttemptRepo) ListByEndpoint(ctx context.Context, endpoint string) ([]CallAttemptModel, error) {
	var models []CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return models, nil
}
