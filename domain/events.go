package domain

// EventKind is the logical type a delivery is classified into.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventResumeEmbedding
	EventJobEmbedding
	EventApplicationSync
	EventApplicationStatus
	EventApplicationDelete
	EventEmbeddingDelete
)

func (k EventKind) String() string {
	switch k {
	case EventResumeEmbedding:
		return "resume_embedding"
	case EventJobEmbedding:
		return "job_embedding"
	case EventApplicationSync:
		return "application_sync"
	case EventApplicationStatus:
		return "application_status"
	case EventApplicationDelete:
		return "application_delete"
	case EventEmbeddingDelete:
		return "embedding_delete"
	default:
		return "unknown"
	}
}

// EmbeddingEvent asks for a resume or job description to be (re)embedded.
// FileURL, when set, takes precedence over RawText.
type EmbeddingEvent struct {
	CVID    string `mapstructure:"cv_id"`
	JobID   string `mapstructure:"job_id"`
	FileURL string `mapstructure:"file_url"`
	RawText string `mapstructure:"raw_text"`
}

// EntityID returns the id field matching kind.
func (e EmbeddingEvent) EntityID(kind EntityKind) string {
	if kind == KindJob {
		return e.JobID
	}
	return e.CVID
}

type ApplicationEvent struct {
	ApplicationID string `mapstructure:"application_id"`
	JobID         string `mapstructure:"job_id"`
	CVID          string `mapstructure:"cv_id"`
	ApplyStatus   string `mapstructure:"apply_status"`
}

// DeleteSource records how an embedding-delete event's table was decided.
type DeleteSource int

const (
	DeleteUndetermined DeleteSource = iota
	DeleteByRoutingKey
	DeleteByPayload
)

func (s DeleteSource) String() string {
	switch s {
	case DeleteByRoutingKey:
		return "routing_key"
	case DeleteByPayload:
		return "payload"
	default:
		return "undetermined"
	}
}

// DeleteTarget is the outcome of classifying an embedding-delete event.
type DeleteTarget struct {
	Source   DeleteSource
	Kind     EntityKind
	EntityID string
}

// Message is one delivery as the router sees it.
type Message struct {
	Queue      string
	RoutingKey string
	Body       []byte
}
