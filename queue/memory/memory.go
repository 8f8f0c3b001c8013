// Package memory is an in-process queue driver with the same lease semantics
// as the remote drivers. It is meant for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finch-technologies/qluent/queue/types"
	"github.com/google/uuid"
)

type message struct {
	id           string
	body         []byte
	encoding     types.Encoding
	insertedAt   time.Time
	visibleAt    time.Time
	expiresAt    time.Time
	receipt      string
	dequeueCount int
}

func (m *message) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && !now.Before(m.expiresAt)
}

func (m *message) visible(now time.Time) bool {
	return !now.Before(m.visibleAt)
}

func (m *message) envelope(receipt string) types.Envelope {
	body := make([]byte, len(m.body))
	copy(body, m.body)
	return types.Envelope{
		ID:           m.id,
		Receipt:      receipt,
		DequeueCount: m.dequeueCount,
		Body:         body,
		Encoding:     m.encoding,
		InsertedAt:   m.insertedAt,
	}
}

type MemoryConfig struct {
	// Now replaces the wall clock, mainly for tests.
	Now func() time.Time
	// DefaultTimeToLive applies when an enqueue does not set one. Zero keeps
	// messages until they are deleted.
	DefaultTimeToLive time.Duration
}

// MemoryMessageQueue is safe for concurrent use.
type MemoryMessageQueue struct {
	mu     sync.Mutex
	queues map[string][]*message
	config MemoryConfig
}

func New(config ...MemoryConfig) *MemoryMessageQueue {
	cfg := MemoryConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryMessageQueue{
		queues: make(map[string][]*message),
		config: cfg,
	}
}

// queue returns the live messages of name, dropping expired ones. Callers hold mu.
func (q *MemoryMessageQueue) queue(name string, now time.Time) ([]*message, error) {
	messages, ok := q.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrQueueNotFound, name)
	}

	live := messages[:0]
	for _, m := range messages {
		if !m.expired(now) {
			live = append(live, m)
		}
	}
	q.queues[name] = live
	return live, nil
}

func (q *MemoryMessageQueue) CreateIfNotExists(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[name]; !ok {
		q.queues[name] = nil
	}
	return nil
}

func (q *MemoryMessageQueue) Enqueue(ctx context.Context, name string, payload []byte, options ...types.EnqueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := types.GetEnqueueOptions(options)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.Now()
	if _, err := q.queue(name, now); err != nil {
		return "", err
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	m := &message{
		id:         uuid.New().String(),
		body:       body,
		encoding:   opts.Encoding,
		insertedAt: now,
		visibleAt:  now.Add(opts.InitialVisibilityDelay),
	}

	ttl := opts.TimeToLive
	if ttl == 0 {
		ttl = q.config.DefaultTimeToLive
	}
	if ttl > 0 {
		m.expiresAt = now.Add(ttl)
	}

	q.queues[name] = append(q.queues[name], m)
	return m.id, nil
}

func (q *MemoryMessageQueue) Peek(ctx context.Context, name string, count int) ([]types.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.Now()
	messages, err := q.queue(name, now)
	if err != nil {
		return nil, err
	}

	var out []types.Envelope
	for _, m := range messages {
		if len(out) >= count {
			break
		}
		if m.visible(now) {
			out = append(out, m.envelope(""))
		}
	}
	return out, nil
}

func (q *MemoryMessageQueue) Lease(ctx context.Context, name string, count int, visibility time.Duration) ([]types.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.Now()
	messages, err := q.queue(name, now)
	if err != nil {
		return nil, err
	}

	var out []types.Envelope
	for _, m := range messages {
		if len(out) >= count {
			break
		}
		if !m.visible(now) {
			continue
		}
		m.receipt = uuid.New().String()
		m.dequeueCount++
		m.visibleAt = now.Add(visibility)
		out = append(out, m.envelope(m.receipt))
	}
	return out, nil
}

// Delete requires the receipt of the current, unexpired lease.
func (q *MemoryMessageQueue) Delete(ctx context.Context, name string, id string, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.Now()
	messages, err := q.queue(name, now)
	if err != nil {
		return err
	}

	for i, m := range messages {
		if m.id != id {
			continue
		}
		if receipt == "" || m.receipt != receipt || m.visible(now) {
			return fmt.Errorf("%w: message %s", types.ErrStaleReceipt, id)
		}
		q.queues[name] = append(messages[:i:i], messages[i+1:]...)
		return nil
	}

	return fmt.Errorf("%w: message %s not found", types.ErrStaleReceipt, id)
}

func (q *MemoryMessageQueue) Clear(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[name]; !ok {
		return fmt.Errorf("%w: %s", types.ErrQueueNotFound, name)
	}
	q.queues[name] = nil
	return nil
}

// Count is exact for this driver; it includes leased messages.
func (q *MemoryMessageQueue) Count(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	messages, err := q.queue(name, q.config.Now())
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

// Contains reports whether a message with id is still stored, leased or not.
func (q *MemoryMessageQueue) Contains(name, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	messages, err := q.queue(name, q.config.Now())
	if err != nil {
		return false
	}
	for _, m := range messages {
		if m.id == id {
			return true
		}
	}
	return false
}

// Bodies returns the raw payloads stored in name, in enqueue order.
func (q *MemoryMessageQueue) Bodies(name string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	messages, err := q.queue(name, q.config.Now())
	if err != nil {
		return nil
	}
	out := make([][]byte, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.envelope("").Body)
	}
	return out
}
