package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// EntityKind selects which embedding table an entity lives in.
type EntityKind string

const (
	KindResume EntityKind = "resume"
	KindJob    EntityKind = "job"
)

// Table returns the physical table holding embeddings of this kind.
func (k EntityKind) Table() string {
	switch k {
	case KindResume:
		return "embedding_cv"
	case KindJob:
		return "embedding_jd"
	default:
		return ""
	}
}

// IDField is the payload field carrying the entity id for this kind.
func (k EntityKind) IDField() string {
	switch k {
	case KindResume:
		return "cv_id"
	case KindJob:
		return "job_id"
	default:
		return ""
	}
}

func (k EntityKind) Valid() bool { return k == KindResume || k == KindJob }

// Embedding status values reported to the recruit service.
const (
	StatusEmbedded = "embedded"
	StatusFailed   = "failed"
)

// EmbeddingRecord is one row of embedding_cv or embedding_jd. The table is chosen per call
// with gorm's Table(), so the struct carries no TableName.
type EmbeddingRecord struct {
	EntityID        string           `gorm:"column:entity_id;primaryKey;size:64"`
	OriginText      string           `gorm:"column:origin_text;type:text"`
	RawText         *string          `gorm:"column:raw_text;type:text"`
	EmbeddingVector *pgvector.Vector `gorm:"column:embedding_vector;type:vector"`
	CreatedAt       time.Time        `gorm:"column:created_at;not null"`
}

// Vector returns the stored embedding as a slice, nil when absent.
func (r *EmbeddingRecord) Vector() []float32 {
	if r == nil || r.EmbeddingVector == nil {
		return nil
	}
	return r.EmbeddingVector.Slice()
}

func (r *EmbeddingRecord) Text() string {
	if r == nil || r.RawText == nil {
		return ""
	}
	return *r.RawText
}

// TextCandidate is the part of an embedding row the near-duplicate scan reads.
type TextCandidate struct {
	EntityID string `gorm:"column:entity_id"`
	RawText  string `gorm:"column:raw_text"`
}
