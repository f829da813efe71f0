package domain

import "time"

// Application mirrors a submitted application owned by the recruit service.
type Application struct {
	ApplicationID string    `gorm:"column:application_id;primaryKey;size:64"`
	JobID         string    `gorm:"column:job_id;size:64;not null;index"`
	CVID          string    `gorm:"column:cv_id;size:64;not null;index"`
	ApplyStatus   string    `gorm:"column:apply_status;size:32;not null"`
	AppliedAt     time.Time `gorm:"column:applied_at;not null"`
}

func (Application) TableName() string { return "applications" }
