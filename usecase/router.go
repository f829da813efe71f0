package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cv-recommender/domain"
)

const tracerName = "cv-recommender/usecase"

// Routes maps broker routing keys to event kinds. DeleteQueue is the queue whose unrecognised
// routing keys still carry embedding-delete events.
type Routes struct {
	ResumeEmbedding   string
	JobEmbedding      string
	ApplicationSync   string
	ApplicationStatus string
	ApplicationDelete string
	DeleteResume      string
	DeleteJob         string
	DeleteQueue       string
}

// EventHandlers is the set of handlers a Router dispatches to.
type EventHandlers interface {
	HandleEmbedding(ctx context.Context, kind domain.EntityKind, body []byte) error
	SyncApplication(ctx context.Context, body []byte) error
	UpdateApplicationStatus(ctx context.Context, body []byte) error
	DeleteApplication(ctx context.Context, body []byte) error
	DeleteEmbedding(ctx context.Context, target domain.DeleteTarget) error
}

// Router sends each message to exactly one handler.
type Router struct {
	handlers EventHandlers
	routes   Routes
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewRouter(handlers EventHandlers, routes Routes, logger *zap.Logger) *Router {
	return &Router{
		handlers: handlers,
		routes:   routes,
		logger:   logger.Named("router"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Classify resolves the event kind of a message from its routing key, falling back to the
// embedding-delete handler for unknown keys on the delete queue.
func (r *Router) Classify(msg domain.Message) domain.EventKind {
	switch msg.RoutingKey {
	case r.routes.ResumeEmbedding:
		return domain.EventResumeEmbedding
	case r.routes.JobEmbedding:
		return domain.EventJobEmbedding
	case r.routes.ApplicationSync:
		return domain.EventApplicationSync
	case r.routes.ApplicationStatus:
		return domain.EventApplicationStatus
	case r.routes.ApplicationDelete:
		return domain.EventApplicationDelete
	case r.routes.DeleteResume, r.routes.DeleteJob:
		return domain.EventEmbeddingDelete
	}
	if msg.Queue != "" && msg.Queue == r.routes.DeleteQueue {
		return domain.EventEmbeddingDelete
	}
	return domain.EventUnknown
}

// Dispatch handles one message. Unknown routing keys come back as a dropped-event error.
func (r *Router) Dispatch(ctx context.Context, msg domain.Message) error {
	kind := r.Classify(msg)
	ctx, span := r.tracer.Start(ctx, "ingest."+kind.String(), trace.WithAttributes(
		attribute.String("messaging.destination", msg.Queue),
		attribute.String("messaging.routing_key", msg.RoutingKey),
	))
	defer span.End()

	r.logger.Debug("dispatching event",
		zap.String("queue", msg.Queue),
		zap.String("routing_key", msg.RoutingKey),
		zap.Stringer("event", kind))

	err := r.dispatch(ctx, kind, msg)
	if err != nil && !domain.IsKind(err, domain.KindValidationDropped) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, kind domain.EventKind, msg domain.Message) error {
	switch kind {
	case domain.EventResumeEmbedding:
		return r.handlers.HandleEmbedding(ctx, domain.KindResume, msg.Body)
	case domain.EventJobEmbedding:
		return r.handlers.HandleEmbedding(ctx, domain.KindJob, msg.Body)
	case domain.EventApplicationSync:
		return r.handlers.SyncApplication(ctx, msg.Body)
	case domain.EventApplicationStatus:
		return r.handlers.UpdateApplicationStatus(ctx, msg.Body)
	case domain.EventApplicationDelete:
		return r.handlers.DeleteApplication(ctx, msg.Body)
	case domain.EventEmbeddingDelete:
		target, err := r.DeleteTarget(msg)
		if err != nil {
			return err
		}
		return r.handlers.DeleteEmbedding(ctx, target)
	default:
		return domain.Dropped(domain.OpRoute, "unrecognised routing key "+msg.RoutingKey)
	}
}

// DeleteTarget decides which embedding table a delete event addresses. The routing key decides
// when it names a table; otherwise the payload field that is present does, cv_id first.
func (r *Router) DeleteTarget(msg domain.Message) (domain.DeleteTarget, error) {
	payload, err := decodePayload(msg.Body)
	if err != nil {
		return domain.DeleteTarget{}, err
	}
	var ev domain.EmbeddingEvent
	if err := decodeInto(payload, &ev); err != nil {
		return domain.DeleteTarget{}, err
	}

	switch msg.RoutingKey {
	case r.routes.DeleteResume:
		return domain.DeleteTarget{Source: domain.DeleteByRoutingKey, Kind: domain.KindResume, EntityID: ev.CVID}, nil
	case r.routes.DeleteJob:
		return domain.DeleteTarget{Source: domain.DeleteByRoutingKey, Kind: domain.KindJob, EntityID: ev.JobID}, nil
	}
	if _, ok := payload[domain.KindResume.IDField()]; ok {
		return domain.DeleteTarget{Source: domain.DeleteByPayload, Kind: domain.KindResume, EntityID: ev.CVID}, nil
	}
	if _, ok := payload[domain.KindJob.IDField()]; ok {
		return domain.DeleteTarget{Source: domain.DeleteByPayload, Kind: domain.KindJob, EntityID: ev.JobID}, nil
	}
	return domain.DeleteTarget{Source: domain.DeleteUndetermined}, nil
}
