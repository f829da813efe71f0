package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cv-recommender/domain"
)

// BatchStore persists recommend batches and their results.
type BatchStore struct {
	db *gorm.DB
}

func NewBatchStore(db *gorm.DB) *BatchStore {
	return &BatchStore{db: db}
}

// CreateWithResults writes the batch row and every result row in one transaction.
// Either all rows become visible or none do.
func (s *BatchStore) CreateWithResults(ctx context.Context, batch *domain.RecommendBatch, results []domain.RecommendResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("insert batch %s: %w", batch.BatchID, err)
		}
		for i := range results {
			results[i].BatchID = batch.BatchID
			if err := tx.Create(&results[i]).Error; err != nil {
				return fmt.Errorf("insert result %d of batch %s: %w", i, batch.BatchID, err)
			}
		}
		return nil
	})
}

// List returns batches for jobID, newest first. An empty userID lists every requester's batches.
func (s *BatchStore) List(ctx context.Context, jobID, userID string, limit int) ([]domain.RecommendBatch, error) {
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []domain.RecommendBatch
	if err := q.Order("created_at DESC").Order("batch_id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list batches for job %s: %w", jobID, err)
	}
	return out, nil
}

// Get returns the batch, or nil when it does not exist.
func (s *BatchStore) Get(ctx context.Context, batchID string) (*domain.RecommendBatch, error) {
	var batch domain.RecommendBatch
	err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Take(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return &batch, nil
}

// Results returns a batch's results by descending score, unscored rows last.
func (s *BatchStore) Results(ctx context.Context, batchID string) ([]domain.RecommendResult, error) {
	var out []domain.RecommendResult
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("score IS NULL").
		Order("score DESC").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load results of batch %s: %w", batchID, err)
	}
	return out, nil
}
