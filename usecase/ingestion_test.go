package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-recommender/domain"
)

var resumeText = strings.Repeat("Experienced backend engineer building distributed systems in Go. ", 4)

func TestHandleEmbeddingStoresSummaryAndVector(t *testing.T) {
	f := newIngestionFixture(t)

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`"}`))
	require.NoError(t, err)

	rec := f.record(t, domain.KindResume, "cv-1")
	require.NotNil(t, rec)
	assert.Equal(t, resumeText, rec.Text())
	assert.Equal(t, "summary: "+resumeText, rec.OriginText)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, rec.Vector())
	assert.Equal(t, []string{"summary: " + resumeText}, f.producer.embedded)
	assert.Equal(t, []statusCall{{kind: domain.KindResume, id: "cv-1", status: domain.StatusEmbedded}}, f.status.calls)
}

func TestHandleEmbeddingRepeatedEventIsIdempotent(t *testing.T) {
	f := newIngestionFixture(t)
	body := []byte(`{"cv_id":"cv-1","raw_text":"` + resumeText + `"}`)

	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindResume, body))
	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindResume, body))

	assert.Equal(t, 1, f.producer.calls())
	assert.EqualValues(t, 1, countRows(t, f.db, "embedding_cv"))
	assert.Equal(t, []string{domain.StatusEmbedded, domain.StatusEmbedded}, f.status.statuses())
}

func TestHandleEmbeddingSkipsNearIdenticalUpdate(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`"}`)))
	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`!"}`)))

	assert.Equal(t, 1, f.producer.calls())
	assert.Equal(t, resumeText, f.record(t, domain.KindResume, "cv-1").Text())
	assert.Equal(t, []string{domain.StatusEmbedded, domain.StatusEmbedded}, f.status.statuses())
}

func TestHandleEmbeddingReembedsChangedText(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindJob,
		[]byte(`{"job_id":"job-1","raw_text":"Looking for a backend engineer"}`)))
	f.producer.vector = []float32{0.9, 0.8, 0.7}
	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindJob,
		[]byte(`{"job_id":"job-1","raw_text":"Hiring a data scientist with Python"}`)))

	assert.Equal(t, 2, f.producer.calls())
	rec := f.record(t, domain.KindJob, "job-1")
	assert.Equal(t, "Hiring a data scientist with Python", rec.Text())
	assert.Equal(t, []float32{0.9, 0.8, 0.7}, rec.Vector())
	assert.EqualValues(t, 1, countRows(t, f.db, "embedding_jd"))
}

func TestHandleEmbeddingReusesNearDuplicateVector(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`"}`)))
	f.producer.vector = []float32{9, 9, 9}

	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindResume,
		[]byte(`{"cv_id":"cv-2","raw_text":"`+resumeText+` Remote."}`)))

	assert.Equal(t, 1, f.producer.calls())
	donor := f.record(t, domain.KindResume, "cv-1")
	copied := f.record(t, domain.KindResume, "cv-2")
	require.NotNil(t, copied)
	assert.Equal(t, donor.Vector(), copied.Vector())
	assert.Equal(t, donor.OriginText, copied.OriginText)
	assert.Equal(t, resumeText+" Remote.", copied.Text())
}

func TestHandleEmbeddingReusesVectorBelowSkipThreshold(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	original := "Senior backend engineer with eight years of experience designing payment platforms. " +
		"Led a team of five building event-driven services in Go. " +
		"Migrated a monolith to Kubernetes and cut deploy time by 70%. " +
		"Skills: Go, PostgreSQL, RabbitMQ, Redis, gRPC, Terraform."
	edited := original + " Previously worked at a fintech startup."

	ratio := domain.Similarity(original, edited)
	require.GreaterOrEqual(t, ratio, 0.90)
	require.Less(t, ratio, 0.95)

	seedEmbedding(t, f.vectors, domain.KindResume, "cv-1", original, []float32{0.4, 0.5, 0.6})
	require.NoError(t, f.ingestion.HandleEmbedding(ctx, domain.KindResume,
		[]byte(`{"cv_id":"cv-2","raw_text":"`+edited+`"}`)))

	assert.Equal(t, 0, f.producer.calls())
	copied := f.record(t, domain.KindResume, "cv-2")
	require.NotNil(t, copied)
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, copied.Vector())
	assert.Equal(t, "summary of cv-1", copied.OriginText)
	assert.Equal(t, edited, copied.Text())
	assert.Equal(t, []string{domain.StatusEmbedded}, f.status.statuses())
}

func TestNearDuplicateTieGoesToLowestEntityID(t *testing.T) {
	f := newIngestionFixture(t)
	seedEmbedding(t, f.vectors, domain.KindResume, "cv-b", resumeText, []float32{0, 1, 0})
	seedEmbedding(t, f.vectors, domain.KindResume, "cv-a", resumeText, []float32{1, 0, 0})

	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-c","raw_text":"`+resumeText+`."}`)))

	assert.Equal(t, 0, f.producer.calls())
	assert.Equal(t, []float32{1, 0, 0}, f.record(t, domain.KindResume, "cv-c").Vector())
}

func TestNearDuplicateWithoutVectorFallsBackToProducer(t *testing.T) {
	f := newIngestionFixture(t)
	seedEmbedding(t, f.vectors, domain.KindResume, "cv-a", resumeText, nil)

	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-c","raw_text":"`+resumeText+`."}`)))

	assert.Equal(t, 1, f.producer.calls())
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, f.record(t, domain.KindResume, "cv-c").Vector())
}

func TestHandleEmbeddingPrefersDocumentOverRawText(t *testing.T) {
	f := newIngestionFixture(t)
	f.documents.texts["/files/cv-1.pdf"] = "Text extracted from the PDF"

	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-1","file_url":"/files/cv-1.pdf","raw_text":"inline text"}`)))

	assert.Equal(t, []string{"/files/cv-1.pdf"}, f.documents.refs)
	assert.Equal(t, "Text extracted from the PDF", f.record(t, domain.KindResume, "cv-1").Text())
}

func TestHandleEmbeddingEmptyDocumentFails(t *testing.T) {
	f := newIngestionFixture(t)
	f.documents.texts["/files/blank.pdf"] = "   "

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-1","file_url":"/files/blank.pdf","raw_text":"inline text"}`))

	assert.True(t, domain.IsKind(err, domain.KindRemoteFailure))
	assert.Nil(t, f.record(t, domain.KindResume, "cv-1"))
	assert.Equal(t, []string{domain.StatusFailed}, f.status.statuses())
}

func TestHandleEmbeddingDocumentDownloadFails(t *testing.T) {
	f := newIngestionFixture(t)
	f.documents.err = errors.New("404 not found")

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindJob,
		[]byte(`{"job_id":"job-1","file_url":"/files/jd.docx"}`))

	assert.True(t, domain.IsKind(err, domain.KindRemoteFailure))
	assert.Equal(t, 0, f.producer.calls())
	assert.Equal(t, []statusCall{{kind: domain.KindJob, id: "job-1", status: domain.StatusFailed}}, f.status.calls)
}

func TestHandleEmbeddingProducerFailureReportsFailed(t *testing.T) {
	f := newIngestionFixture(t)
	f.producer.embedErr = errors.New("quota exceeded")

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`"}`))

	assert.True(t, domain.IsKind(err, domain.KindRemoteFailure))
	assert.Nil(t, f.record(t, domain.KindResume, "cv-1"))
	assert.Equal(t, []string{domain.StatusFailed}, f.status.statuses())
}

func TestHandleEmbeddingSwallowsStatusFailure(t *testing.T) {
	f := newIngestionFixture(t)
	f.status.err = errors.New("recruit service down")

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"cv_id":"cv-1","raw_text":"`+resumeText+`"}`))

	require.NoError(t, err)
	assert.NotNil(t, f.record(t, domain.KindResume, "cv-1"))
	assert.Len(t, f.status.calls, 1)
}

func TestHandleEmbeddingDropsEventWithoutID(t *testing.T) {
	f := newIngestionFixture(t)

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume,
		[]byte(`{"job_id":"job-1","raw_text":"wrong id field for a resume"}`))

	assert.True(t, domain.IsKind(err, domain.KindValidationDropped))
	assert.Empty(t, f.status.calls)
	assert.Equal(t, 0, f.producer.calls())
}

func TestHandleEmbeddingWithoutTextReportsFailed(t *testing.T) {
	f := newIngestionFixture(t)

	err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume, []byte(`{"cv_id":"cv-1"}`))

	assert.True(t, domain.IsKind(err, domain.KindValidationDropped))
	assert.Equal(t, []string{domain.StatusFailed}, f.status.statuses())
}

func TestHandleEmbeddingDropsMalformedPayload(t *testing.T) {
	f := newIngestionFixture(t)

	for _, body := range []string{`not json`, `["cv-1"]`, `null`, `{"cv_id":{"nested":true}}`} {
		err := f.ingestion.HandleEmbedding(context.Background(), domain.KindResume, []byte(body))
		assert.True(t, domain.IsKind(err, domain.KindValidationDropped), "body %s", body)
	}
	assert.Empty(t, f.status.calls)
}

func TestHandleEmbeddingCoercesNumericIDs(t *testing.T) {
	f := newIngestionFixture(t)

	require.NoError(t, f.ingestion.HandleEmbedding(context.Background(), domain.KindJob,
		[]byte(`{"job_id":9007199254740993,"raw_text":"Platform engineer"}`)))

	assert.NotNil(t, f.record(t, domain.KindJob, "9007199254740993"))
	assert.Equal(t, "9007199254740993", f.status.calls[0].id)
}

func TestSyncApplicationUpsertsAllFields(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.SyncApplication(ctx,
		[]byte(`{"application_id":"app-1","job_id":"job-1","cv_id":"cv-1","apply_status":"PENDING"}`)))
	require.NoError(t, f.ingestion.SyncApplication(ctx,
		[]byte(`{"application_id":"app-1","job_id":"job-2","cv_id":"cv-9","apply_status":"REVIEWED"}`)))

	var apps []domain.Application
	require.NoError(t, f.db.Find(&apps).Error)
	require.Len(t, apps, 1)
	assert.Equal(t, "job-2", apps[0].JobID)
	assert.Equal(t, "cv-9", apps[0].CVID)
	assert.Equal(t, "REVIEWED", apps[0].ApplyStatus)
}

func TestSyncApplicationDropsIncompleteEvent(t *testing.T) {
	f := newIngestionFixture(t)

	err := f.ingestion.SyncApplication(context.Background(),
		[]byte(`{"application_id":"app-1","job_id":"job-1","apply_status":"PENDING"}`))

	assert.True(t, domain.IsKind(err, domain.KindValidationDropped))
	assert.Contains(t, err.Error(), "cv_id")
	assert.EqualValues(t, 0, countRows(t, f.db, "applications"))
}

func TestUpdateApplicationStatus(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.UpdateApplicationStatus(ctx,
		[]byte(`{"application_id":"missing","apply_status":"REJECTED"}`)))
	assert.EqualValues(t, 0, countRows(t, f.db, "applications"))

	require.NoError(t, f.ingestion.SyncApplication(ctx,
		[]byte(`{"application_id":"app-1","job_id":"job-1","cv_id":"cv-1","apply_status":"PENDING"}`)))
	require.NoError(t, f.ingestion.UpdateApplicationStatus(ctx,
		[]byte(`{"application_id":"app-1","apply_status":"ACCEPTED"}`)))

	var app domain.Application
	require.NoError(t, f.db.Take(&app, "application_id = ?", "app-1").Error)
	assert.Equal(t, "ACCEPTED", app.ApplyStatus)
	assert.Equal(t, "job-1", app.JobID)
	assert.Equal(t, "cv-1", app.CVID)

	err := f.ingestion.UpdateApplicationStatus(ctx, []byte(`{"application_id":"app-1"}`))
	assert.True(t, domain.IsKind(err, domain.KindValidationDropped))
}

func TestDeleteApplicationIsIdempotent(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ingestion.SyncApplication(ctx,
		[]byte(`{"application_id":"app-1","job_id":"job-1","cv_id":"cv-1","apply_status":"PENDING"}`)))
	require.NoError(t, f.ingestion.DeleteApplication(ctx, []byte(`{"application_id":"app-1"}`)))
	require.NoError(t, f.ingestion.DeleteApplication(ctx, []byte(`{"application_id":"app-1"}`)))

	assert.EqualValues(t, 0, countRows(t, f.db, "applications"))
	assert.True(t, domain.IsKind(f.ingestion.DeleteApplication(ctx, []byte(`{}`)), domain.KindValidationDropped))
}

func TestDeleteEmbedding(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	seedEmbedding(t, f.vectors, domain.KindJob, "job-1", "jd text", []float32{1, 2})
	seedEmbedding(t, f.vectors, domain.KindResume, "job-1", "same id, other table", []float32{3, 4})

	target := domain.DeleteTarget{Source: domain.DeleteByRoutingKey, Kind: domain.KindJob, EntityID: "job-1"}
	require.NoError(t, f.ingestion.DeleteEmbedding(ctx, target))
	require.NoError(t, f.ingestion.DeleteEmbedding(ctx, target))

	assert.Nil(t, f.record(t, domain.KindJob, "job-1"))
	assert.NotNil(t, f.record(t, domain.KindResume, "job-1"))
}

func TestDeleteEmbeddingDropsUndecidedTarget(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	cases := []domain.DeleteTarget{
		{Source: domain.DeleteUndetermined},
		{Source: domain.DeleteByPayload, Kind: "unknown", EntityID: "x"},
		{Source: domain.DeleteByRoutingKey, Kind: domain.KindResume},
	}
	for _, target := range cases {
		err := f.ingestion.DeleteEmbedding(ctx, target)
		assert.True(t, domain.IsKind(err, domain.KindValidationDropped), "target %+v", target)
	}
}
