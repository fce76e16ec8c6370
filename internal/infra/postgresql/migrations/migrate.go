package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invoice-pipeline/internal/domain"
	"github.com/kursadbilgin/invoice-pipeline/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_batches",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Batch{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Batch{})
			},
		},
		{
			ID: "000002_create_processing_states",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.ProcessingState{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_processing_states_batch_id ON processing_states (batch_id)`,
					`CREATE INDEX IF NOT EXISTS idx_processing_states_status ON processing_states (status, updated_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.ProcessingState{})
			},
		},
		{
			ID: "000003_create_status_history",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.StatusHistory{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_status_history_state_id ON status_histories (state_id, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.StatusHistory{})
			},
		},
		{
			ID: "000004_create_invoice_groups",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.GroupModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_invoice_groups_batch_status ON invoice_groups (batch_id, status)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.GroupModel{})
			},
		},
		{
			ID: "000005_create_call_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CallAttemptModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_call_attempts_endpoint ON call_attempts (endpoint, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CallAttemptModel{})
			},
		},
	})

	return m.Migrate()
}
