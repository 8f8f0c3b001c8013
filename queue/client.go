package queue

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/finch-technologies/qluent/log"
	"github.com/finch-technologies/qluent/metrics"
	"github.com/finch-technologies/qluent/queue/poison"
	"github.com/finch-technologies/qluent/queue/serializer"
	"github.com/finch-technologies/qluent/queue/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finch-technologies/qluent/queue"

// Message is a decoded message together with the lease that delivered it.
// Pass it to Client.Delete to acknowledge.
type Message[T any] struct {
	ID           string
	Receipt      string
	DequeueCount int
	InsertedAt   time.Time
	Value        T
}

// Client reads and writes messages of type T on one source queue.
//
// The client holds no mutable state after construction and may be shared.
// Batch operations run their remote calls one after another.
type Client[T any] struct {
	mq        IMessageQueue
	config    Config
	policy    *poison.Policy
	codec     codec[T]
	logger    log.LoggerInterface
	logWriter io.Writer
	metrics   metrics.Collector
	tracer    trace.Tracer
}

type Option[T any] func(*Client[T])

// WithStringSerializer replaces the default JSON serializer.
func WithStringSerializer[T any](s serializer.StringSerializer[T]) Option[T] {
	return func(c *Client[T]) {
		c.codec.text = s
	}
}

// WithBinarySerializer switches the client to binary payloads. It takes
// precedence over any string serializer.
func WithBinarySerializer[T any](s serializer.BinarySerializer[T]) Option[T] {
	return func(c *Client[T]) {
		c.codec.binary = s
	}
}

func WithLogger[T any](logger log.LoggerInterface) Option[T] {
	return func(c *Client[T]) {
		c.logger = logger
	}
}

// WithLogWriter copies every entry of the default logger to w. It has no
// effect when WithLogger is also given.
func WithLogWriter[T any](w io.Writer) Option[T] {
	return func(c *Client[T]) {
		c.logWriter = w
	}
}

// WithMetrics records client activity. The collector should have
// metrics.QueueMetrics registered.
func WithMetrics[T any](collector metrics.Collector) Option[T] {
	return func(c *Client[T]) {
		c.metrics = collector
	}
}

func WithTracerProvider[T any](tp trace.TracerProvider) Option[T] {
	return func(c *Client[T]) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New validates config and creates the source queue, plus the quarantine
// queue when the poison policy names one.
func New[T any](ctx context.Context, mq IMessageQueue, config Config, opts ...Option[T]) (*Client[T], error) {
	if mq == nil {
		return nil, fmt.Errorf("no queue driver provided")
	}

	config = getConfig(config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	c := &Client[T]{
		mq:     mq,
		config: config,
		policy: config.PoisonPolicy(),
		codec:  codec[T]{text: serializer.JSON[T]{}},
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		fields := struct{ Queue string }{config.QueueName}
		if c.logWriter != nil {
			c.logger = log.NewWithWriter(ctx, fields, c.logWriter)
		} else {
			c.logger = log.New(ctx, fields)
		}
	}

	if err := mq.CreateIfNotExists(ctx, config.QueueName); err != nil {
		return nil, c.remoteError(ctx, "create", err)
	}

	if c.policy.Quarantines() {
		if err := mq.CreateIfNotExists(ctx, c.policy.QuarantineQueue); err != nil {
			return nil, c.remoteError(ctx, "create quarantine", err)
		}
	}

	c.logger.DebugFields("queue client ready", map[string]any{
		"queue":    config.QueueName,
		"encoding": c.codec.encoding().String(),
		"poison":   c.policy != nil,
	})

	return c, nil
}

func (c *Client[T]) Config() Config {
	return c.config
}

// Push encodes message and enqueues it with the configured time to live and
// initial visibility delay.
func (c *Client[T]) Push(ctx context.Context, message T) (err error) {
	ctx, done := c.start(ctx, "push")
	defer func() { done(err) }()

	return c.enqueue(ctx, message)
}

// PushMany enqueues messages one at a time, in order. It is not atomic: on
// failure the earlier messages stay enqueued and the later ones are not
// attempted.
func (c *Client[T]) PushMany(ctx context.Context, messages []T) (err error) {
	ctx, done := c.start(ctx, "push_many", attribute.Int("batch.size", len(messages)))
	defer func() { done(err) }()

	for i, message := range messages {
		if err := c.enqueue(ctx, message); err != nil {
			c.logger.DebugFields("push batch stopped", map[string]any{"queue": c.config.QueueName, "index": i, "error": err.Error()})
			return err
		}
	}
	return nil
}

// Peek returns the head message without leasing it. Peeking never removes
// or quarantines anything; an undecodable head follows the poison disposition.
func (c *Client[T]) Peek(ctx context.Context) (value T, ok bool, err error) {
	ctx, done := c.start(ctx, "peek")
	defer func() { done(err) }()

	envelopes, err := c.mq.Peek(ctx, c.config.QueueName, 1)
	if err != nil {
		return value, false, c.remoteError(ctx, "peek", err)
	}
	if len(envelopes) == 0 {
		return value, false, nil
	}

	return c.decode(ctx, envelopes[0])
}

// PeekMany returns up to count visible messages without leasing them.
// Undecodable entries are always skipped.
func (c *Client[T]) PeekMany(ctx context.Context, count int) (values []T, err error) {
	ctx, done := c.start(ctx, "peek_many", attribute.Int("batch.size", count))
	defer func() { done(err) }()

	if count <= 0 {
		return nil, nil
	}

	envelopes, err := c.mq.Peek(ctx, c.config.QueueName, count)
	if err != nil {
		return nil, c.remoteError(ctx, "peek", err)
	}

	for _, envelope := range envelopes {
		// decode only fails with a DecodeError here, which peeks skip
		if value, ok, err := c.decode(ctx, envelope); err == nil && ok {
			values = append(values, value)
		}
	}
	return values, nil
}

// Pop leases one message and deletes it before returning, so a returned
// value is no longer on the source queue. Undecodable messages are not
// deleted here; the poison policy decides their fate.
func (c *Client[T]) Pop(ctx context.Context) (value T, ok bool, err error) {
	ctx, done := c.start(ctx, "pop")
	defer func() { done(err) }()

	envelopes, err := c.lease(ctx, 1)
	if err != nil || len(envelopes) == 0 {
		return value, false, err
	}

	envelope := envelopes[0]
	value, ok, err = c.decode(ctx, envelope)
	if err != nil || !ok {
		return value, false, err
	}

	if err := c.delete(ctx, envelope.ID, envelope.Receipt); err != nil {
		var zero T
		return zero, false, err
	}

	return value, true, nil
}

// PopMany leases up to count messages, decodes all of them, then deletes the
// ones that decoded. A lease can expire between the two passes; the delete
// then fails with a StaleReceiptError and the message will be redelivered.
// On a delete failure the values already deleted are returned with the error.
func (c *Client[T]) PopMany(ctx context.Context, count int) (values []T, err error) {
	ctx, done := c.start(ctx, "pop_many", attribute.Int("batch.size", count))
	defer func() { done(err) }()

	if count <= 0 {
		return nil, nil
	}

	envelopes, err := c.lease(ctx, count)
	if err != nil {
		return nil, err
	}

	decoded := make([]T, 0, len(envelopes))
	toDelete := make([]types.Envelope, 0, len(envelopes))

	for _, envelope := range envelopes {
		value, ok, err := c.decode(ctx, envelope)
		if err != nil {
			return nil, err
		}
		if ok {
			decoded = append(decoded, value)
			toDelete = append(toDelete, envelope)
		}
	}

	for i, envelope := range toDelete {
		if err := c.delete(ctx, envelope.ID, envelope.Receipt); err != nil {
			return decoded[:i], err
		}
	}

	return decoded, nil
}

// Get leases one message without deleting it. The caller acknowledges with
// Delete before the visibility timeout runs out. Returns nil when the queue
// has nothing visible.
func (c *Client[T]) Get(ctx context.Context) (message *Message[T], err error) {
	ctx, done := c.start(ctx, "get")
	defer func() { done(err) }()

	envelopes, err := c.lease(ctx, 1)
	if err != nil || len(envelopes) == 0 {
		return nil, err
	}

	envelope := envelopes[0]
	value, ok, err := c.decode(ctx, envelope)
	if err != nil || !ok {
		return nil, err
	}

	m := toMessage(envelope, value)
	return &m, nil
}

// GetMany leases up to count messages and returns the ones that decoded.
func (c *Client[T]) GetMany(ctx context.Context, count int) (messages []Message[T], err error) {
	ctx, done := c.start(ctx, "get_many", attribute.Int("batch.size", count))
	defer func() { done(err) }()

	if count <= 0 {
		return nil, nil
	}

	envelopes, err := c.lease(ctx, count)
	if err != nil {
		return nil, err
	}

	for _, envelope := range envelopes {
		value, ok, err := c.decode(ctx, envelope)
		if err != nil {
			return nil, err
		}
		if ok {
			messages = append(messages, toMessage(envelope, value))
		}
	}
	return messages, nil
}

// Delete acknowledges a message obtained from Get. It fails with a
// StaleReceiptError when the lease has expired or the message is gone.
func (c *Client[T]) Delete(ctx context.Context, message Message[T]) (err error) {
	ctx, done := c.start(ctx, "delete", attribute.String("message.id", message.ID))
	defer func() { done(err) }()

	return c.delete(ctx, message.ID, message.Receipt)
}

// Purge removes every message from the source queue.
func (c *Client[T]) Purge(ctx context.Context) (err error) {
	ctx, done := c.start(ctx, "purge")
	defer func() { done(err) }()

	if err := c.mq.Clear(ctx, c.config.QueueName); err != nil {
		return c.remoteError(ctx, "purge", err)
	}
	c.logger.InfoFields("queue purged", map[string]any{"queue": c.config.QueueName})
	return nil
}

// Count returns the approximate number of messages. ok is false when the
// service cannot provide an estimate.
func (c *Client[T]) Count(ctx context.Context) (count int, ok bool, err error) {
	ctx, done := c.start(ctx, "count")
	defer func() { done(err) }()

	n, err := c.mq.Count(ctx, c.config.QueueName)
	if err != nil {
		if isCountUnknown(err) {
			return 0, false, nil
		}
		return 0, false, c.remoteError(ctx, "count", err)
	}

	if c.metrics != nil {
		c.metrics.SetGauge(ctx, metrics.QueueDepth, c.labels(), float64(n))
	}
	return n, true, nil
}

func (c *Client[T]) enqueue(ctx context.Context, message T) error {
	body, err := c.codec.encode(message)
	if err != nil {
		return &EncodeError{Queue: c.config.QueueName, Err: err}
	}

	_, err = c.mq.Enqueue(ctx, c.config.QueueName, body, types.EnqueueOptions{
		TimeToLive:             c.config.TimeToLive,
		InitialVisibilityDelay: c.config.InitialVisibilityDelay,
		Encoding:               c.codec.encoding(),
	})
	if err != nil {
		return c.remoteError(ctx, "enqueue", err)
	}

	c.increment(ctx, metrics.MessagesPushed, 1)
	return nil
}

func (c *Client[T]) lease(ctx context.Context, count int) ([]types.Envelope, error) {
	envelopes, err := c.mq.Lease(ctx, c.config.QueueName, count, c.config.VisibilityTimeout)
	if err != nil {
		return nil, c.remoteError(ctx, "lease", err)
	}
	if len(envelopes) > 0 {
		c.increment(ctx, metrics.MessagesLeased, float64(len(envelopes)))
	}
	return envelopes, nil
}

func (c *Client[T]) delete(ctx context.Context, id, receipt string) error {
	if err := c.mq.Delete(ctx, c.config.QueueName, id, receipt); err != nil {
		return c.deleteError(ctx, id, err)
	}
	c.increment(ctx, metrics.MessagesDeleted, 1)
	return nil
}

func toMessage[T any](envelope types.Envelope, value T) Message[T] {
	return Message[T]{
		ID:           envelope.ID,
		Receipt:      envelope.Receipt,
		DequeueCount: envelope.DequeueCount,
		InsertedAt:   envelope.InsertedAt,
		Value:        value,
	}
}

func (c *Client[T]) labels(extra ...string) map[string]string {
	labels := map[string]string{"queue": c.config.QueueName}
	for i := 0; i+1 < len(extra); i += 2 {
		labels[extra[i]] = extra[i+1]
	}
	return labels
}

func (c *Client[T]) increment(ctx context.Context, name string, value float64, extraLabels ...string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrementCounter(ctx, name, c.labels(extraLabels...), value)
}

// start opens a span for op and returns the function that closes it.
func (c *Client[T]) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	started := time.Now()

	attrs = append(attrs,
		attribute.String("messaging.destination.name", c.config.QueueName),
		attribute.String("messaging.operation", op),
	)
	ctx, span := c.tracer.Start(ctx, "queue."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if c.metrics != nil {
			c.metrics.ObserveHistogram(ctx, metrics.OperationDuration, c.labels("operation", op), time.Since(started).Seconds())
		}
	}
}
