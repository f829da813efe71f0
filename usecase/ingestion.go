package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"cv-recommender/domain"
)

// IngestionConfig holds the similarity thresholds of the embedding handler.
type IngestionConfig struct {
	// SkipThreshold: an update this similar to the stored text is not re-embedded.
	SkipThreshold float64
	// ReuseThreshold: a new text this similar to another entity's text reuses its embedding.
	ReuseThreshold float64
}

// Ingestion applies one idempotent state transition per event.
type Ingestion struct {
	embeddings   EmbeddingStore
	applications ApplicationStore
	producer     Producer
	documents    DocumentReader
	status       StatusNotifier
	cfg          IngestionConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewIngestion(
	embeddings EmbeddingStore,
	applications ApplicationStore,
	producer Producer,
	documents DocumentReader,
	status StatusNotifier,
	cfg IngestionConfig,
	logger *zap.Logger,
) *Ingestion {
	return &Ingestion{
		embeddings:   embeddings,
		applications: applications,
		producer:     producer,
		documents:    documents,
		status:       status,
		cfg:          cfg,
		logger:       logger.Named("ingestion"),
		now:          time.Now,
	}
}

// HandleEmbedding (re)embeds the resume or job description named in body and reports the
// outcome to the recruit service. Events without an entity id are dropped.
func (s *Ingestion) HandleEmbedding(ctx context.Context, kind domain.EntityKind, body []byte) error {
	var ev domain.EmbeddingEvent
	if err := decodeEvent(body, &ev); err != nil {
		return err
	}
	id := strings.TrimSpace(ev.EntityID(kind))
	if id == "" {
		return domain.Dropped(domain.OpUpsertEmbedding, "missing "+kind.IDField())
	}

	log := s.logger.With(zap.String("kind", string(kind)), zap.String("entity_id", id))
	status := domain.StatusEmbedded
	err := s.embed(ctx, kind, id, ev, log)
	if err != nil {
		status = domain.StatusFailed
		log.Error("embedding failed", zap.Error(err))
	}
	s.reportStatus(ctx, kind, id, status)
	return err
}

func (s *Ingestion) embed(ctx context.Context, kind domain.EntityKind, id string, ev domain.EmbeddingEvent, log *zap.Logger) error {
	text, err := s.resolveText(ctx, ev)
	if err != nil {
		return err
	}

	existing, err := s.embeddings.Get(ctx, kind, id)
	if err != nil {
		return domain.StoreFailure(domain.OpLoadEmbedding, err)
	}
	if prev := existing.Text(); prev != "" {
		if ratio := domain.Similarity(text, prev); ratio >= s.cfg.SkipThreshold {
			log.Info("skip embedding, text unchanged", zap.Float64("ratio", ratio))
			return nil
		}
	}

	rec := &domain.EmbeddingRecord{
		EntityID:  id,
		RawText:   &text,
		CreatedAt: s.now().UTC(),
	}

	donor, ratio, err := s.nearDuplicate(ctx, kind, id, text)
	if err != nil {
		return err
	}
	if donor != nil {
		log.Info("reusing embedding of near-duplicate",
			zap.String("donor_id", donor.EntityID),
			zap.Float64("ratio", ratio))
		rec.OriginText = donor.OriginText
		if v := donor.Vector(); v != nil {
			copied := pgvector.NewVector(append([]float32(nil), v...))
			rec.EmbeddingVector = &copied
		}
	} else {
		summary, err := s.producer.Summarize(ctx, text)
		if err != nil {
			return domain.RemoteFailure(domain.OpSummarize, err)
		}
		vec, err := s.producer.Embed(ctx, summary)
		if err != nil {
			return domain.RemoteFailure(domain.OpEmbed, err)
		}
		v := pgvector.NewVector(vec)
		rec.OriginText = summary
		rec.EmbeddingVector = &v
	}

	if err := s.embeddings.Upsert(ctx, kind, rec); err != nil {
		return domain.StoreFailure(domain.OpUpsertEmbedding, err)
	}
	log.Info("embedding stored", zap.Int("dimensions", len(rec.Vector())))
	return nil
}

// resolveText prefers the referenced document over inline text.
func (s *Ingestion) resolveText(ctx context.Context, ev domain.EmbeddingEvent) (string, error) {
	if ref := strings.TrimSpace(ev.FileURL); ref != "" {
		text, err := s.documents.ReadText(ctx, ref)
		if err != nil {
			return "", domain.RemoteFailure(domain.OpResolveText, err)
		}
		if strings.TrimSpace(text) == "" {
			return "", domain.RemoteFailure(domain.OpResolveText, fmt.Errorf("document %s has no text", ref))
		}
		return text, nil
	}
	if strings.TrimSpace(ev.RawText) == "" {
		return "", domain.Dropped(domain.OpResolveText, "neither file_url nor raw_text present")
	}
	return ev.RawText, nil
}

// nearDuplicate returns the stored entity of the same kind whose text is most similar to text,
// provided the ratio reaches ReuseThreshold. Candidates are scanned in id order and the first
// one reaching the highest ratio wins.
func (s *Ingestion) nearDuplicate(ctx context.Context, kind domain.EntityKind, id, text string) (*domain.EmbeddingRecord, float64, error) {
	candidates, err := s.embeddings.Candidates(ctx, kind, id)
	if err != nil {
		return nil, 0, domain.StoreFailure(domain.OpScanCandidates, err)
	}

	var (
		bestID    string
		bestRatio float64
	)
	for _, c := range candidates {
		if ratio := domain.Similarity(text, c.RawText); ratio > bestRatio {
			bestID, bestRatio = c.EntityID, ratio
		}
	}
	if bestID == "" || bestRatio < s.cfg.ReuseThreshold {
		return nil, bestRatio, nil
	}

	donor, err := s.embeddings.Get(ctx, kind, bestID)
	if err != nil {
		return nil, 0, domain.StoreFailure(domain.OpScanCandidates, err)
	}
	if donor == nil || donor.EmbeddingVector == nil {
		// removed or never embedded since the scan
		return nil, bestRatio, nil
	}
	return donor, bestRatio, nil
}

// reportStatus notifies the recruit service and only logs when that fails.
func (s *Ingestion) reportStatus(ctx context.Context, kind domain.EntityKind, id, status string) {
	if err := s.status.SetStatus(ctx, kind, id, status); err != nil {
		s.logger.Warn("embedding status notification failed",
			zap.String("kind", string(kind)),
			zap.String("entity_id", id),
			zap.String("status", status),
			zap.Error(err))
	}
}

// SyncApplication inserts or overwrites an application. All four fields are required.
func (s *Ingestion) SyncApplication(ctx context.Context, body []byte) error {
	var ev domain.ApplicationEvent
	if err := decodeEvent(body, &ev); err != nil {
		return err
	}
	if missing := missingFields(map[string]string{
		"application_id": ev.ApplicationID,
		"job_id":         ev.JobID,
		"cv_id":          ev.CVID,
		"apply_status":   ev.ApplyStatus,
	}); missing != "" {
		return domain.Dropped(domain.OpSyncApplication, "missing "+missing)
	}

	app := &domain.Application{
		ApplicationID: strings.TrimSpace(ev.ApplicationID),
		JobID:         strings.TrimSpace(ev.JobID),
		CVID:          strings.TrimSpace(ev.CVID),
		ApplyStatus:   strings.TrimSpace(ev.ApplyStatus),
		AppliedAt:     s.now().UTC(),
	}
	if err := s.applications.Upsert(ctx, app); err != nil {
		return domain.StoreFailure(domain.OpSyncApplication, err)
	}
	s.logger.Info("application synced",
		zap.String("application_id", app.ApplicationID),
		zap.String("job_id", app.JobID),
		zap.String("cv_id", app.CVID))
	return nil
}

// UpdateApplicationStatus changes only apply_status. An unknown application is not an error.
func (s *Ingestion) UpdateApplicationStatus(ctx context.Context, body []byte) error {
	var ev domain.ApplicationEvent
	if err := decodeEvent(body, &ev); err != nil {
		return err
	}
	if missing := missingFields(map[string]string{
		"application_id": ev.ApplicationID,
		"apply_status":   ev.ApplyStatus,
	}); missing != "" {
		return domain.Dropped(domain.OpApplicationStatus, "missing "+missing)
	}

	id := strings.TrimSpace(ev.ApplicationID)
	n, err := s.applications.UpdateStatus(ctx, id, strings.TrimSpace(ev.ApplyStatus))
	if err != nil {
		return domain.StoreFailure(domain.OpApplicationStatus, err)
	}
	s.logger.Info("application status updated",
		zap.String("application_id", id),
		zap.String("apply_status", ev.ApplyStatus),
		zap.Int64("rows", n))
	return nil
}

func (s *Ingestion) DeleteApplication(ctx context.Context, body []byte) error {
	var ev domain.ApplicationEvent
	if err := decodeEvent(body, &ev); err != nil {
		return err
	}
	id := strings.TrimSpace(ev.ApplicationID)
	if id == "" {
		return domain.Dropped(domain.OpDeleteApplication, "missing application_id")
	}
	n, err := s.applications.Delete(ctx, id)
	if err != nil {
		return domain.StoreFailure(domain.OpDeleteApplication, err)
	}
	s.logger.Info("application deleted", zap.String("application_id", id), zap.Int64("rows", n))
	return nil
}

// DeleteEmbedding removes the embedding named by target. Deleting a missing row is fine.
func (s *Ingestion) DeleteEmbedding(ctx context.Context, target domain.DeleteTarget) error {
	switch target.Source {
	case domain.DeleteByRoutingKey, domain.DeleteByPayload:
	default:
		return domain.Dropped(domain.OpDeleteEmbedding, "neither routing key nor payload names a table")
	}
	if !target.Kind.Valid() {
		return domain.Dropped(domain.OpDeleteEmbedding, "unknown embedding kind")
	}
	id := strings.TrimSpace(target.EntityID)
	if id == "" {
		return domain.Dropped(domain.OpDeleteEmbedding, "missing "+target.Kind.IDField())
	}

	n, err := s.embeddings.Delete(ctx, target.Kind, id)
	if err != nil {
		return domain.StoreFailure(domain.OpDeleteEmbedding, err)
	}
	s.logger.Info("embedding deleted",
		zap.String("table", target.Kind.Table()),
		zap.String("entity_id", id),
		zap.Stringer("decided_by", target.Source),
		zap.Int64("rows", n))
	return nil
}

// missingFields lists the empty fields in a stable order, or "" when none are empty.
func missingFields(fields map[string]string) string {
	order := []string{"application_id", "job_id", "cv_id", "apply_status"}
	var missing []string
	for _, name := range order {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ", ")
}
