package usecase

import (
	"context"
	"encoding/json"

	"cv-recommender/domain"
)

// EmbeddingStore reads and writes embedding rows of either kind.
type EmbeddingStore interface {
	Get(ctx context.Context, kind domain.EntityKind, id string) (*domain.EmbeddingRecord, error)
	Candidates(ctx context.Context, kind domain.EntityKind, excludeID string) ([]domain.TextCandidate, error)
	Upsert(ctx context.Context, kind domain.EntityKind, rec *domain.EmbeddingRecord) error
	Delete(ctx context.Context, kind domain.EntityKind, id string) (int64, error)
}

type ApplicationStore interface {
	Upsert(ctx context.Context, app *domain.Application) error
	UpdateStatus(ctx context.Context, applicationID, status string) (int64, error)
	Delete(ctx context.Context, applicationID string) (int64, error)
}

// VectorIndex is what matching needs from the embedding store.
type VectorIndex interface {
	Get(ctx context.Context, kind domain.EntityKind, id string) (*domain.EmbeddingRecord, error)
	RankApplications(ctx context.Context, jobID string, jobVector []float32, limit int) ([]domain.RankedApplication, error)
}

type BatchStore interface {
	CreateWithResults(ctx context.Context, batch *domain.RecommendBatch, results []domain.RecommendResult) error
	List(ctx context.Context, jobID, userID string, limit int) ([]domain.RecommendBatch, error)
	Get(ctx context.Context, batchID string) (*domain.RecommendBatch, error)
	Results(ctx context.Context, batchID string) ([]domain.RecommendResult, error)
}

// Producer summarises text and embeds summaries.
type Producer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentReader turns a stored document reference into plain text.
type DocumentReader interface {
	ReadText(ctx context.Context, ref string) (string, error)
}

// StatusNotifier reports embedding status to the recruit service.
type StatusNotifier interface {
	SetStatus(ctx context.Context, kind domain.EntityKind, entityID, status string) error
}

// ProfileSource resolves candidate profiles in one batched call. Unknown ids are absent.
type ProfileSource interface {
	BatchFetch(ctx context.Context, ids []string) (map[string]json.RawMessage, error)
}
