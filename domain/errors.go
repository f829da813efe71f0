package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes the core reports.
type ErrorKind string

const (
	KindValidationDropped ErrorKind = "validation_dropped"
	KindRemoteFailure     ErrorKind = "remote_failure"
	KindNotFound          ErrorKind = "not_found"
	KindStoreFailure      ErrorKind = "store_failure"
)

// Error carries a kind and the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind, so errors.Is(err, ErrJobNotFound) holds
// for any not-found error raised while loading a job embedding.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op string, err error) error      { return NewError(KindNotFound, op, err) }
func StoreFailure(op string, err error) error  { return NewError(KindStoreFailure, op, err) }
func RemoteFailure(op string, err error) error { return NewError(KindRemoteFailure, op, err) }
func Dropped(op string, reason string) error {
	return NewError(KindValidationDropped, op, errors.New(reason))
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrJobNotFound   = &Error{Kind: KindNotFound, Op: OpLoadJobEmbedding}
	ErrBatchNotFound = &Error{Kind: KindNotFound, Op: OpLoadBatch}
)

const (
	OpDecodeEvent       = "ingest.decode_event"
	OpRoute             = "ingest.route"
	OpResolveText       = "ingest.resolve_text"
	OpLoadEmbedding     = "ingest.load_embedding"
	OpScanCandidates    = "ingest.scan_candidates"
	OpSummarize         = "ingest.summarize"
	OpEmbed             = "ingest.embed"
	OpUpsertEmbedding   = "ingest.upsert_embedding"
	OpDeleteEmbedding   = "ingest.delete_embedding"
	OpSyncApplication   = "ingest.sync_application"
	OpApplicationStatus = "ingest.application_status"
	OpDeleteApplication = "ingest.delete_application"
	OpLoadJobEmbedding  = "matching.load_job_embedding"
	OpRankCandidates    = "matching.rank_candidates"
	OpPersistBatch      = "matching.persist_batch"
	OpLoadBatch         = "batches.load"
	OpLoadBatchResults  = "batches.load_results"
	OpListBatches       = "batches.list"
)
