// Package consumer runs a handler over messages received from a queue
// client, pacing empty polls with a polling.Policy.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	channels "github.com/finch-technologies/qluent/channel"
	"github.com/finch-technologies/qluent/log"
	"github.com/finch-technologies/qluent/metrics"
	"github.com/finch-technologies/qluent/queue"
	"github.com/finch-technologies/qluent/queue/polling"
	"github.com/finch-technologies/qluent/utils"
)

// Receiver is satisfied by *queue.Client.
type Receiver[T any] interface {
	Get(ctx context.Context) (*queue.Message[T], error)
	Delete(ctx context.Context, message queue.Message[T]) error
	Config() queue.Config
}

// Handler processes one message. Returning nil acknowledges it; an error or
// a panic leaves it on the queue to be redelivered after its lease expires.
type Handler[T any] func(ctx context.Context, message queue.Message[T]) error

type Consumer[T any] struct {
	receiver    Receiver[T]
	handler     Handler[T]
	policy      polling.Policy
	concurrency int
	logger      log.LoggerInterface
	metrics     metrics.Collector
	onError     func(error)
}

type Option[T any] func(*Consumer[T])

// WithPolling replaces the default exponential policy.
func WithPolling[T any](policy polling.Policy) Option[T] {
	return func(c *Consumer[T]) {
		c.policy = policy
	}
}

// WithConcurrency runs n handlers in parallel. Messages are still received
// one at a time.
func WithConcurrency[T any](n int) Option[T] {
	return func(c *Consumer[T]) {
		c.concurrency = n
	}
}

func WithLogger[T any](logger log.LoggerInterface) Option[T] {
	return func(c *Consumer[T]) {
		c.logger = logger
	}
}

func WithMetrics[T any](collector metrics.Collector) Option[T] {
	return func(c *Consumer[T]) {
		c.metrics = collector
	}
}

// WithErrorHandler is called with receive, handler and acknowledge errors.
func WithErrorHandler[T any](fn func(error)) Option[T] {
	return func(c *Consumer[T]) {
		c.onError = fn
	}
}

func New[T any](receiver Receiver[T], handler Handler[T], opts ...Option[T]) *Consumer[T] {
	c := &Consumer[T]{
		receiver:    receiver,
		handler:     handler,
		concurrency: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.policy == nil {
		c.policy = polling.NewExponential()
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.logger == nil {
		c.logger = log.New(context.Background(), struct {
			Queue     string
			Component string
		}{receiver.Config().QueueName, "consumer"})
	}

	return c
}

// Run polls until ctx is done and returns nil on a clean shutdown. A Consumer
// must not be run twice at the same time since its polling policy is stateful.
func (c *Consumer[T]) Run(ctx context.Context) error {
	c.policy.Reset()

	queueName := c.receiver.Config().QueueName
	c.logger.InfoFields("consumer started", map[string]any{"queue": queueName, "concurrency": c.concurrency})

	work := channels.New[queue.Message[T]](ctx)
	var wg sync.WaitGroup

	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for message := range work.Read() {
				c.process(ctx, message)
			}
		}()
	}

	for ctx.Err() == nil {
		found := c.poll(ctx, work)
		utils.Sleep(ctx, c.policy.NextDelay(found))
	}

	work.Close()
	wg.Wait()

	c.logger.InfoFields("consumer stopped", map[string]any{"queue": queueName})
	return nil
}

// poll receives one message and hands it to a worker. It reports whether a
// message was found.
func (c *Consumer[T]) poll(ctx context.Context, work *channels.SafeChannel[queue.Message[T]]) bool {
	message, err := c.receiver.Get(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(ctx, fmt.Errorf("receive: %w", err))
		}
		return false
	}
	if message == nil {
		return false
	}

	if err := work.Write(*message); err != nil {
		// shutting down; the lease runs out and the message is redelivered
		return false
	}
	return true
}

func (c *Consumer[T]) process(ctx context.Context, message queue.Message[T]) {
	var err error

	utils.TryCatch(func() {
		err = c.handler(ctx, message)
	}, func(e error, stackTrace string) {
		c.logger.ErrorStack(stackTrace, "handler panicked on message %s: %v", message.ID, e)
		err = fmt.Errorf("handler panic: %w", e)
	})

	if err != nil {
		c.increment(ctx, metrics.HandlerFailures)
		c.fail(ctx, &HandlerError{MessageID: message.ID, DequeueCount: message.DequeueCount, Err: err})
		return
	}

	if err := c.receiver.Delete(ctx, message); err != nil {
		c.fail(ctx, fmt.Errorf("acknowledge message %s: %w", message.ID, err))
	}
}

func (c *Consumer[T]) fail(ctx context.Context, err error) {
	c.logger.WarningFields("consumer error", map[string]any{
		"queue": c.receiver.Config().QueueName,
		"error": err.Error(),
	})
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Consumer[T]) increment(ctx context.Context, name string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrementCounter(ctx, name, map[string]string{"queue": c.receiver.Config().QueueName}, 1)
}

// HandlerError is a message the handler rejected or panicked on.
type HandlerError struct {
	MessageID    string
	DequeueCount int
	Err          error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed on message %s (dequeue count %d): %v", e.MessageID, e.DequeueCount, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsHandlerError reports whether err came from the handler.
func IsHandlerError(err error) bool {
	var handlerErr *HandlerError
	return errors.As(err, &handlerErr)
}
