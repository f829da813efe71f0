package domain

import (
	"encoding/json"
	"time"
)

// RecommendBatch is one immutable matching run.
type RecommendBatch struct {
	BatchID   string    `gorm:"column:batch_id;primaryKey;size:64" json:"batch_id"`
	JobID     string    `gorm:"column:job_id;size:64;not null;index" json:"job_id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (RecommendBatch) TableName() string { return "recommend_batches" }

// RecommendResult belongs to exactly one batch.
type RecommendResult struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID       string    `gorm:"column:batch_id;size:64;not null;index"`
	ApplicationID string    `gorm:"column:application_id;size:64;not null"`
	CVID          string    `gorm:"column:cv_id;size:64"`
	Score         *float64  `gorm:"column:score"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (RecommendResult) TableName() string { return "recommend_results" }

// RankedApplication is one row produced by the ranking query.
type RankedApplication struct {
	ApplicationID string    `json:"application_id"`
	CVID          string    `json:"cv_id"`
	ApplyStatus   string    `json:"apply_status"`
	AppliedAt     time.Time `json:"applied_at"`
	Score         *float64  `json:"score"`
}

// Profile is the recruit service's denormalised CV payload, passed through untouched.
type Profile = json.RawMessage

// RankedCandidate is a ranked application enriched with its candidate profile.
type RankedCandidate struct {
	RankedApplication
	CV Profile `json:"cv"`
}

// MatchOutcome is what a matching run returns. BatchID is nil when the run was not recorded.
type MatchOutcome struct {
	BatchID   *string           `json:"batch_id"`
	JobID     string            `json:"job_id"`
	UserID    string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	Results   []RankedCandidate `json:"results"`
}

// BatchDetail is a stored batch with its enriched results.
type BatchDetail struct {
	RecommendBatch
	Results []BatchResultView `json:"results"`
}

type BatchResultView struct {
	ApplicationID string    `json:"application_id"`
	CVID          string    `json:"cv_id"`
	Score         *float64  `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
	CV            Profile   `json:"cv"`
}

// Requester identifies who asks for batch history.
type Requester struct {
	UserID   string
	Elevated bool
}
