package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cv-recommender/domain"
)

// MatchingConfig bounds top_k and history page sizes.
type MatchingConfig struct {
	DefaultTopK  int
	MaxTopK      int
	DefaultLimit int
	MaxLimit     int
}

func (c MatchingConfig) withDefaults() MatchingConfig {
	if c.MaxTopK <= 0 {
		c.MaxTopK = 50
	}
	if c.DefaultTopK <= 0 || c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = min(20, c.MaxTopK)
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.DefaultLimit <= 0 || c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = min(20, c.MaxLimit)
	}
	return c
}

// Matcher ranks a job's applicants and records every run as a batch.
type Matcher struct {
	vectors  VectorIndex
	batches  BatchStore
	profiles ProfileSource
	cfg      MatchingConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() (uuid.UUID, error)
}

func NewMatcher(vectors VectorIndex, batches BatchStore, profiles ProfileSource, cfg MatchingConfig, logger *zap.Logger) *Matcher {
	return &Matcher{
		vectors:  vectors,
		batches:  batches,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("matcher"),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewV7,
	}
}

// ClampTopK maps a requested top_k into [1, MaxTopK]; zero or negative means the default.
func (m *Matcher) ClampTopK(topK int) int {
	if topK <= 0 {
		return m.cfg.DefaultTopK
	}
	return min(topK, m.cfg.MaxTopK)
}

func (m *Matcher) clampLimit(limit int) int {
	if limit <= 0 {
		return m.cfg.DefaultLimit
	}
	return min(limit, m.cfg.MaxLimit)
}

// Match ranks the applications submitted to jobID against the job's embedding and stores the
// run. A failure to store the run is logged and reported as a nil BatchID, not as an error.
func (m *Matcher) Match(ctx context.Context, jobID, userID string, topK int) (*domain.MatchOutcome, error) {
	limit := m.ClampTopK(topK)
	ctx, span := m.tracer.Start(ctx, "matching.match", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.Int("top_k", limit),
	))
	defer span.End()

	job, err := m.vectors.Get(ctx, domain.KindJob, jobID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.StoreFailure(domain.OpLoadJobEmbedding, err)
	}
	if job == nil || job.EmbeddingVector == nil {
		return nil, domain.NotFound(domain.OpLoadJobEmbedding, fmt.Errorf("job %s has no embedding", jobID))
	}

	ranked, err := m.vectors.RankApplications(ctx, jobID, job.Vector(), limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.StoreFailure(domain.OpRankCandidates, err)
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.CVID
	}
	profiles := m.enrich(ctx, ids)

	outcome := &domain.MatchOutcome{
		JobID:     jobID,
		UserID:    userID,
		CreatedAt: m.now().UTC(),
		Results:   make([]domain.RankedCandidate, 0, len(ranked)),
	}
	for _, r := range ranked {
		outcome.Results = append(outcome.Results, domain.RankedCandidate{
			RankedApplication: r,
			CV:                profiles[r.CVID],
		})
	}

	batchID, err := m.persist(ctx, outcome, ranked)
	if err != nil {
		m.logger.Error("match not recorded",
			zap.String("job_id", jobID),
			zap.String("user_id", userID),
			zap.Error(domain.StoreFailure(domain.OpPersistBatch, err)))
		span.AddEvent("batch not persisted")
	} else {
		outcome.BatchID = &batchID
	}
	span.SetAttributes(attribute.Int("results", len(outcome.Results)))

	m.logger.Info("match completed",
		zap.String("job_id", jobID),
		zap.String("user_id", userID),
		zap.Int("results", len(outcome.Results)),
		zap.Bool("recorded", outcome.BatchID != nil))
	return outcome, nil
}

func (m *Matcher) persist(ctx context.Context, outcome *domain.MatchOutcome, ranked []domain.RankedApplication) (string, error) {
	id, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	batch := &domain.RecommendBatch{
		BatchID:   id.String(),
		JobID:     outcome.JobID,
		UserID:    outcome.UserID,
		CreatedAt: outcome.CreatedAt,
	}
	results := make([]domain.RecommendResult, len(ranked))
	for i, r := range ranked {
		results[i] = domain.RecommendResult{
			ApplicationID: r.ApplicationID,
			CVID:          r.CVID,
			Score:         r.Score,
			CreatedAt:     outcome.CreatedAt,
		}
	}
	if err := m.batches.CreateWithResults(ctx, batch, results); err != nil {
		return "", err
	}
	return batch.BatchID, nil
}

// enrich fetches every distinct profile in one call. A failed lookup leaves all profiles empty.
func (m *Matcher) enrich(ctx context.Context, cvIDs []string) map[string]domain.Profile {
	seen := make(map[string]struct{}, len(cvIDs))
	distinct := make([]string, 0, len(cvIDs))
	for _, id := range cvIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	out := make(map[string]domain.Profile, len(distinct))
	if len(distinct) == 0 {
		return out
	}
	fetched, err := m.profiles.BatchFetch(ctx, distinct)
	if err != nil {
		m.logger.Warn("profile enrichment failed", zap.Int("ids", len(distinct)), zap.Error(err))
		return out
	}
	for id, p := range fetched {
		out[id] = p
	}
	return out
}

// ListBatches returns batch metadata for jobID, newest first. Requesters that are not elevated
// only see their own batches.
func (m *Matcher) ListBatches(ctx context.Context, requester domain.Requester, jobID string, limit int) ([]domain.RecommendBatch, error) {
	userID := requester.UserID
	if requester.Elevated {
		userID = ""
	}
	batches, err := m.batches.List(ctx, jobID, userID, m.clampLimit(limit))
	if err != nil {
		return nil, domain.StoreFailure(domain.OpListBatches, err)
	}
	if batches == nil {
		batches = []domain.RecommendBatch{}
	}
	return batches, nil
}

// GetBatchDetail loads a stored batch with its results by descending score and their profiles.
// Ownership checks are the caller's job.
func (m *Matcher) GetBatchDetail(ctx context.Context, batchID string) (*domain.BatchDetail, error) {
	batch, err := m.batches.Get(ctx, batchID)
	if err != nil {
		return nil, domain.StoreFailure(domain.OpLoadBatch, err)
	}
	if batch == nil {
		return nil, domain.NotFound(domain.OpLoadBatch, fmt.Errorf("batch %s does not exist", batchID))
	}

	results, err := m.batches.Results(ctx, batchID)
	if err != nil {
		return nil, domain.StoreFailure(domain.OpLoadBatchResults, err)
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.CVID
	}
	profiles := m.enrich(ctx, ids)

	detail := &domain.BatchDetail{
		RecommendBatch: *batch,
		Results:        make([]domain.BatchResultView, 0, len(results)),
	}
	for _, r := range results {
		detail.Results = append(detail.Results, domain.BatchResultView{
			ApplicationID: r.ApplicationID,
			CVID:          r.CVID,
			Score:         r.Score,
			CreatedAt:     r.CreatedAt,
			CV:            profiles[r.CVID],
		})
	}
	return detail, nil
}
