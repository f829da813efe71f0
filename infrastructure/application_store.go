package infrastructure

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cv-recommender/domain"
)

// ApplicationStore keeps the local copy of submitted applications.
type ApplicationStore struct {
	db *gorm.DB
}

func NewApplicationStore(db *gorm.DB) *ApplicationStore {
	return &ApplicationStore{db: db}
}

// Upsert inserts app or overwrites every field of the row with the same application id.
func (s *ApplicationStore) Upsert(ctx context.Context, app *domain.Application) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "application_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"job_id", "cv_id", "apply_status", "applied_at"}),
		}).
		Create(app).Error
	if err != nil {
		return fmt.Errorf("upsert application %s: %w", app.ApplicationID, err)
	}
	return nil
}

// UpdateStatus sets apply_status and reports how many rows changed.
func (s *ApplicationStore) UpdateStatus(ctx context.Context, applicationID, status string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Application{}).
		Where("application_id = ?", applicationID).
		Update("apply_status", status)
	if res.Error != nil {
		return 0, fmt.Errorf("update application %s status: %w", applicationID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *ApplicationStore) Delete(ctx context.Context, applicationID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Delete(&domain.Application{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete application %s: %w", applicationID, res.Error)
	}
	return res.RowsAffected, nil
}
