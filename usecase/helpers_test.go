package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cv-recommender/domain"
	"cv-recommender/infrastructure"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, infrastructure.Migrate(db))
	return db
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	return n
}

func seedEmbedding(t *testing.T, store *infrastructure.VectorStore, kind domain.EntityKind, id, text string, vec []float32) {
	t.Helper()
	rec := &domain.EmbeddingRecord{EntityID: id, OriginText: "summary of " + id}
	if text != "" {
		rec.RawText = &text
	}
	if vec != nil {
		v := pgvector.NewVector(vec)
		rec.EmbeddingVector = &v
	}
	require.NoError(t, store.Upsert(context.Background(), kind, rec))
}

type fakeProducer struct {
	mu           sync.Mutex
	summarized   []string
	embedded     []string
	vector       []float32
	summarizeErr error
	embedErr     error
}

func (p *fakeProducer) Summarize(_ context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summarized = append(p.summarized, text)
	if p.summarizeErr != nil {
		return "", p.summarizeErr
	}
	return "summary: " + text, nil
}

func (p *fakeProducer) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedded = append(p.embedded, text)
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	return append([]float32(nil), p.vector...), nil
}

func (p *fakeProducer) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.summarized)
}

type fakeDocuments struct {
	texts map[string]string
	err   error
	refs  []string
}

func (d *fakeDocuments) ReadText(_ context.Context, ref string) (string, error) {
	d.refs = append(d.refs, ref)
	if d.err != nil {
		return "", d.err
	}
	return d.texts[ref], nil
}

type statusCall struct {
	kind   domain.EntityKind
	id     string
	status string
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (s *fakeStatus) SetStatus(_ context.Context, kind domain.EntityKind, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{kind: kind, id: id, status: status})
	return s.err
}

func (s *fakeStatus) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.status
	}
	return out
}

type fakeProfiles struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (p *fakeProfiles) BatchFetch(_ context.Context, ids []string) (map[string]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), ids...))
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		out[id] = json.RawMessage(fmt.Sprintf(`{"cvId":%q,"fullName":"Candidate %s"}`, id, id))
	}
	return out, nil
}

type ingestionFixture struct {
	db        *gorm.DB
	vectors   *infrastructure.VectorStore
	producer  *fakeProducer
	documents *fakeDocuments
	status    *fakeStatus
	ingestion *Ingestion
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	db := openTestDB(t)
	f := &ingestionFixture{
		db:        db,
		vectors:   infrastructure.NewVectorStore(db, infrastructure.RankingMemory, zap.NewNop()),
		producer:  &fakeProducer{vector: []float32{0.1, 0.2, 0.3}},
		documents: &fakeDocuments{texts: map[string]string{}},
		status:    &fakeStatus{},
	}
	f.ingestion = NewIngestion(
		f.vectors,
		infrastructure.NewApplicationStore(db),
		f.producer,
		f.documents,
		f.status,
		IngestionConfig{SkipThreshold: 0.95, ReuseThreshold: 0.90},
		zap.NewNop(),
	)
	return f
}

func (f *ingestionFixture) record(t *testing.T, kind domain.EntityKind, id string) *domain.EmbeddingRecord {
	t.Helper()
	rec, err := f.vectors.Get(context.Background(), kind, id)
	require.NoError(t, err)
	return rec
}
