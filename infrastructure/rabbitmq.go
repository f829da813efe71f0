package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"cv-recommender/domain"
)

// MessageDispatcher handles one delivery. Returned errors are logged; the delivery is acked
// either way.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg domain.Message) error
}

// Binding ties a queue to one routing key on the exchange.
type Binding struct {
	Queue      string
	RoutingKey string
}

// Queues lists the consumed queues in declaration order.
func (c BrokerConfig) Queues() []string {
	return []string{c.CVQueue, c.JDQueue, c.ApplicationQueue, c.DeleteQueue}
}

func (c BrokerConfig) Bindings() []Binding {
	return []Binding{
		{Queue: c.CVQueue, RoutingKey: c.CVRoutingKey},
		{Queue: c.JDQueue, RoutingKey: c.JDRoutingKey},
		{Queue: c.ApplicationQueue, RoutingKey: c.ApplicationRoutingKey},
		{Queue: c.ApplicationQueue, RoutingKey: c.ApplicationStatusRoutingKey},
		{Queue: c.ApplicationQueue, RoutingKey: c.ApplicationDeleteRoutingKey},
		{Queue: c.DeleteQueue, RoutingKey: c.DeleteCVRoutingKey},
		{Queue: c.DeleteQueue, RoutingKey: c.DeleteJDRoutingKey},
	}
}

type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// RabbitMQ owns the broker connection used by the ingestion worker and the publish command.
type RabbitMQ struct {
	cfg    BrokerConfig
	logger *zap.Logger

	dial  func(url string) (*amqp.Connection, error)
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(cfg BrokerConfig, logger *zap.Logger) *RabbitMQ {
	return &RabbitMQ{
		cfg:    cfg,
		logger: logger.Named("rabbitmq"),
		dial:   amqp.Dial,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect dials the broker, retrying every RetryInterval until MaxWait has elapsed, then opens a
// channel and declares the topology. It is a no-op while a connection is open.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}

	conn, err := r.connectWithRetry(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := DeclareTopology(ch, r.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	r.conn = conn
	r.channel = ch
	r.logger.Info("connected to rabbitmq and declared topology",
		zap.String("exchange", r.cfg.Exchange),
		zap.Strings("queues", r.cfg.Queues()))
	return nil
}

func (r *RabbitMQ) connectWithRetry(ctx context.Context) (*amqp.Connection, error) {
	var waited time.Duration
	for attempt := 1; ; attempt++ {
		conn, err := r.dial(r.cfg.URL)
		if err == nil {
			return conn, nil
		}
		if waited >= r.cfg.MaxWait {
			return nil, fmt.Errorf("rabbitmq unreachable after %s (%d attempts): %w", waited, attempt, err)
		}
		r.logger.Warn("rabbitmq connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", r.cfg.RetryInterval),
			zap.Error(err))
		if err := r.sleep(ctx, r.cfg.RetryInterval); err != nil {
			return nil, err
		}
		waited += r.cfg.RetryInterval
	}
}

// DeclareTopology declares the direct exchange, the durable queues and their bindings.
// Redeclaring identical entities is a no-op on the broker.
func DeclareTopology(ch topologyDeclarer, cfg BrokerConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	for _, q := range cfg.Queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}
	for _, b := range cfg.Bindings() {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", b.Queue, b.RoutingKey, err)
		}
	}
	return nil
}

// Publish sends a JSON body to the exchange with the given routing key.
func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	ch := r.channel
	r.mu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(
		pubCtx,
		r.cfg.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

type queuedDelivery struct {
	queue    string
	delivery amqp.Delivery
}

// Consume runs until ctx is cancelled, dispatching deliveries from every queue with at most
// Prefetch handlers in flight. A lost connection is re-established with the same retry budget as
// the initial connect; exhausting it returns an error the caller must treat as fatal.
func (r *RabbitMQ) Consume(ctx context.Context, dispatcher MessageDispatcher) error {
	sem := semaphore.NewWeighted(int64(r.cfg.Prefetch))
	handlerCtx := context.WithoutCancel(ctx)

	for {
		if err := r.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rabbitmq connection lost for good: %w", err)
		}

		err := r.consumeSession(ctx, handlerCtx, dispatcher, sem)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("rabbitmq session ended, reconnecting", zap.Error(err))
		r.dropConnection()
	}
}

func (r *RabbitMQ) consumeSession(ctx, handlerCtx context.Context, dispatcher MessageDispatcher, sem *semaphore.Weighted) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer drainThenClose(sem, int64(r.cfg.Prefetch), ch)

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	done := make(chan struct{})
	defer close(done)
	deliveries := make(chan queuedDelivery)

	for _, queue := range r.cfg.Queues() {
		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to register consumer on %s: %w", queue, err)
		}
		go func(queue string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case deliveries <- queuedDelivery{queue: queue, delivery: d}:
				case <-done:
					return
				}
			}
		}(queue, msgs)
	}
	r.logger.Info("consuming", zap.Strings("queues", r.cfg.Queues()), zap.Int("prefetch", r.cfg.Prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case qd := <-deliveries:
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go func() {
				defer sem.Release(1)
				r.process(handlerCtx, qd.queue, qd.delivery, dispatcher)
			}()
		}
	}
}

// drainThenClose waits for every in-flight handler before closing the channel their
// deliveries must be acked on.
func drainThenClose(sem *semaphore.Weighted, size int64, ch io.Closer) {
	_ = sem.Acquire(context.Background(), size)
	sem.Release(size)
	_ = ch.Close()
}

// process dispatches one delivery and always acks it, even when the handler panics.
func (r *RabbitMQ) process(ctx context.Context, queue string, d amqp.Delivery, dispatcher MessageDispatcher) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				zap.String("queue", queue),
				zap.String("routing_key", d.RoutingKey),
				zap.Any("panic", rec))
		}
		if err := d.Ack(false); err != nil {
			r.logger.Warn("failed to ack delivery", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
		}
	}()

	msg := domain.Message{Queue: queue, RoutingKey: d.RoutingKey, Body: d.Body}
	if err := dispatcher.Dispatch(ctx, msg); err != nil {
		fields := []zap.Field{
			zap.String("queue", queue),
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		}
		if domain.IsKind(err, domain.KindValidationDropped) {
			fields = append(fields, zap.String("body", TruncateForLog(string(d.Body), 300)))
			r.logger.Warn("event dropped", fields...)
			return
		}
		r.logger.Error("event handling failed", fields...)
	}
}

func (r *RabbitMQ) dropConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
		r.channel = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *RabbitMQ) Close() error {
	r.dropConnection()
	return nil
}
