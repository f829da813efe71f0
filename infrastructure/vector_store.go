package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cv-recommender/domain"
)

// Ranking strategies for VectorStore.RankApplications.
const (
	RankingSQL    = "sql"
	RankingMemory = "memory"
)

// VectorStore reads and writes the embedding tables.
type VectorStore struct {
	db       *gorm.DB
	strategy string
	logger   *zap.Logger
}

func NewVectorStore(db *gorm.DB, strategy string, logger *zap.Logger) *VectorStore {
	if strategy != RankingMemory {
		strategy = RankingSQL
	}
	return &VectorStore{db: db, strategy: strategy, logger: logger.Named("vector_store")}
}

// Get returns the record for id, or nil when none exists.
func (s *VectorStore) Get(ctx context.Context, kind domain.EntityKind, id string) (*domain.EmbeddingRecord, error) {
	var rec domain.EmbeddingRecord
	err := s.db.WithContext(ctx).Table(kind.Table()).Where("entity_id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind.Table(), id, err)
	}
	return &rec, nil
}

// Candidates lists the other rows of kind that carry source text, in entity id order.
func (s *VectorStore) Candidates(ctx context.Context, kind domain.EntityKind, excludeID string) ([]domain.TextCandidate, error) {
	var rows []domain.TextCandidate
	err := s.db.WithContext(ctx).
		Table(kind.Table()).
		Select("entity_id, raw_text").
		Where("raw_text IS NOT NULL AND entity_id <> ?", excludeID).
		Order("entity_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("scan %s candidates: %w", kind.Table(), err)
	}
	return rows, nil
}

// Upsert inserts rec or replaces every column of the existing row with the same id.
func (s *VectorStore) Upsert(ctx context.Context, kind domain.EntityKind, rec *domain.EmbeddingRecord) error {
	err := s.db.WithContext(ctx).
		Table(kind.Table()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"origin_text", "raw_text", "embedding_vector", "created_at"}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind.Table(), rec.EntityID, err)
	}
	return nil
}

// Delete removes the row for id. A missing row is not an error.
func (s *VectorStore) Delete(ctx context.Context, kind domain.EntityKind, id string) (int64, error) {
	res := s.db.WithContext(ctx).Table(kind.Table()).Where("entity_id = ?", id).Delete(&domain.EmbeddingRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s %s: %w", kind.Table(), id, res.Error)
	}
	return res.RowsAffected, nil
}

type rankRow struct {
	ApplicationID   string           `gorm:"column:application_id"`
	CVID            string           `gorm:"column:cv_id"`
	ApplyStatus     string           `gorm:"column:apply_status"`
	AppliedAt       time.Time        `gorm:"column:applied_at"`
	Score           *float64         `gorm:"column:score"`
	EmbeddingVector *pgvector.Vector `gorm:"column:embedding_vector"`
}

// RankApplications ranks the applications submitted to jobID by cosine similarity between
// their resume embedding and jobVector, best first, at most limit rows.
func (s *VectorStore) RankApplications(ctx context.Context, jobID string, jobVector []float32, limit int) ([]domain.RankedApplication, error) {
	if limit <= 0 {
		return []domain.RankedApplication{}, nil
	}
	var (
		rows []rankRow
		err  error
	)
	if s.strategy == RankingSQL {
		rows, err = s.rankInDatabase(ctx, jobID, jobVector, limit)
	} else {
		rows, err = s.rankInMemory(ctx, jobID, jobVector, limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.RankedApplication, 0, len(rows))
	for _, r := range rows {
		score := r.Score
		if score != nil && (math.IsNaN(*score) || math.IsInf(*score, 0)) {
			score = nil
		}
		out = append(out, domain.RankedApplication{
			ApplicationID: r.ApplicationID,
			CVID:          r.CVID,
			ApplyStatus:   r.ApplyStatus,
			AppliedAt:     r.AppliedAt,
			Score:         score,
		})
	}
	return out, nil
}

func (s *VectorStore) rankInDatabase(ctx context.Context, jobID string, jobVector []float32, limit int) ([]rankRow, error) {
	vec := pgvector.NewVector(jobVector)
	var rows []rankRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT a.application_id, a.cv_id, a.apply_status, a.applied_at,
		       1 - (e.embedding_vector <=> ?) AS score
		FROM applications a
		JOIN embedding_cv e ON e.entity_id = a.cv_id
		WHERE a.job_id = ?
		ORDER BY e.embedding_vector <=> ?
		LIMIT ?`, vec, jobID, vec, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rank applications for job %s: %w", jobID, err)
	}
	return rows, nil
}

func (s *VectorStore) rankInMemory(ctx context.Context, jobID string, jobVector []float32, limit int) ([]rankRow, error) {
	var rows []rankRow
	err := s.db.WithContext(ctx).
		Table("applications AS a").
		Select("a.application_id, a.cv_id, a.apply_status, a.applied_at, e.embedding_vector").
		Joins("JOIN embedding_cv AS e ON e.entity_id = a.cv_id").
		Where("a.job_id = ?", jobID).
		Order("a.application_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load applications for job %s: %w", jobID, err)
	}

	for i := range rows {
		if rows[i].EmbeddingVector == nil {
			continue
		}
		if score, ok := CosineSimilarity(jobVector, rows[i].EmbeddingVector.Slice()); ok {
			rows[i].Score = &score
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := rows[i].Score, rows[j].Score
		if si == nil || sj == nil {
			return si != nil && sj == nil
		}
		return *si > *sj
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. ok is false when the
// lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
