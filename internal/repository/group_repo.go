package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"gorm.io/gorm"
)

// GroupRepository persists groups and their lifecycle status, keyed by
// (batch_id, parent_key).
type GroupRepository interface {
	CreateGroups(ctx context.Context, groups []*domain.Group) error
	UpdateStatus(ctx context.Context, batchID string, parentKey string, status domain.GroupStatus) error
	GetByKey(ctx context.Context, batchID string, parentKey string) (*GroupRow, error)
	ListByBatch(ctx context.Context, batchID string) ([]GroupRow, error)
}

type GormGroupRepo struct {
	db *gorm.DB
}

func NewGormGroupRepo(db *gorm.DB) *GormGroupRepo {
	return &GormGroupRepo{db: db}
}

func (r *GormGroupRepo) CreateGroups(ctx context.Context, groups []*domain.Group) error {
	models := make([]GroupModel, 0, len(groups))
	for _, g := range groups {
		model, err := groupModelFromDomain(g)
		if err != nil {
			return err
		}
		if model != nil {
			models = append(models, *model)
		}
	}

	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, 100).Error
}

func (r *GormGroupRepo) UpdateStatus(ctx context.Context, batchID string, parentKey string, status domain.GroupStatus) error {
	result := r.db.WithContext(ctx).
		Model(&GroupModel{}).
		Where("batch_id = ? AND parent_key = ?", batchID, parentKey).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormGroupRepo) GetByKey(ctx context.Context, batchID string, parentKey string) (*GroupRow, error) {
	var model GroupModel
	err := r.db.WithContext(ctx).
		First(&model, "batch_id = ? AND parent_key = ?", batchID, parentKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	row := groupModelToRow(&model)
	return &row, nil
}

func (r *GormGroupRepo) ListByBatch(ctx context.Context, batchID string) ([]GroupRow, error) {
	var models []GroupModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("parent_key ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rows := make([]GroupRow, 0, len(models))
	for i := range models {
		rows = append(rows, groupModelToRow(&models[i]))
	}
	return rows, nil
}
