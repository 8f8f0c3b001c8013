package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finch-technologies/qluent/log"
	"github.com/finch-technologies/qluent/queue"
	"github.com/finch-technologies/qluent/queue/memory"
	"github.com/finch-technologies/qluent/queue/polling"
)

type job struct {
	N int `json:"n"`
}

func newClient(t *testing.T, mq *memory.MemoryMessageQueue) *queue.Client[job] {
	t.Helper()
	client, err := queue.New[job](context.Background(), mq, queue.Config{
		QueueName:         "jobs",
		VisibilityTimeout: time.Minute,
	}, queue.WithLogger[job](log.Nop()))
	if err != nil {
		t.Fatalf("queue.New() error: %v", err)
	}
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumer_HandlesAndAcknowledges(t *testing.T) {
	mq := memory.New()
	client := newClient(t, mq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.PushMany(ctx, []job{{1}, {2}, {3}}); err != nil {
		t.Fatalf("PushMany() error: %v", err)
	}

	var (
		mu   sync.Mutex
		seen []int
	)
	c := New(client, func(ctx context.Context, message queue.Message[job]) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, message.Value.N)
		return nil
	}, WithPolling[job](polling.NewFixed(time.Millisecond)), WithLogger[job](log.Nop()))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "queue to drain", func() bool {
		count, _ := mq.Count(context.Background(), "jobs")
		return count == 0
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("expected jobs 1..3 in order, got %v", seen)
	}
}

func TestConsumer_FailuresLeaveMessage(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler[job]
	}{
		{"error", func(ctx context.Context, message queue.Message[job]) error {
			return errors.New("downstream unavailable")
		}},
		{"panic", func(ctx context.Context, message queue.Message[job]) error {
			panic("boom")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := memory.New()
			client := newClient(t, mq)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client.Push(ctx, job{N: 7})

			errs := make(chan error, 10)
			c := New(client, tt.handler,
				WithPolling[job](polling.NewFixed(time.Millisecond)),
				WithLogger[job](log.Nop()),
				WithErrorHandler[job](func(err error) { errs <- err }),
			)

			done := make(chan error, 1)
			go func() { done <- c.Run(ctx) }()

			select {
			case err := <-errs:
				if !IsHandlerError(err) {
					t.Errorf("expected a HandlerError, got %v", err)
				}
				var handlerErr *HandlerError
				errors.As(err, &handlerErr)
				if handlerErr.DequeueCount != 1 {
					t.Errorf("expected dequeue count 1, got %d", handlerErr.DequeueCount)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("handler failure was not reported")
			}

			cancel()
			<-done

			count, _ := mq.Count(context.Background(), "jobs")
			if count != 1 {
				t.Errorf("expected the failed message to stay on the queue, got count %d", count)
			}
		})
	}
}

type recordingPolicy struct {
	mu      sync.Mutex
	resets  int
	results []bool
}

func (p *recordingPolicy) NextDelay(found bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, found)
	return time.Millisecond
}

func (p *recordingPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *recordingPolicy) snapshot() (int, []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets, append([]bool(nil), p.results...)
}

func TestConsumer_PollingPolicy(t *testing.T) {
	mq := memory.New()
	client := newClient(t, mq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Push(ctx, job{N: 1})

	policy := &recordingPolicy{}
	c := New(client, func(ctx context.Context, message queue.Message[job]) error { return nil },
		WithPolling[job](policy), WithLogger[job](log.Nop()))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "an empty poll", func() bool {
		_, results := policy.snapshot()
		return len(results) >= 2
	})
	cancel()
	<-done

	resets, results := policy.snapshot()
	if resets != 1 {
		t.Errorf("expected one reset on start, got %d", resets)
	}
	if !results[0] || results[1] {
		t.Errorf("expected a found poll then an empty one, got %v", results)
	}
}

func TestConsumer_ConcurrentHandlers(t *testing.T) {
	mq := memory.New()
	client := newClient(t, mq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make([]job, 20)
	for i := range jobs {
		jobs[i] = job{N: i}
	}
	client.PushMany(ctx, jobs)

	var (
		mu      sync.Mutex
		handled = map[int]bool{}
	)
	c := New(client, func(ctx context.Context, message queue.Message[job]) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		handled[message.Value.N] = true
		mu.Unlock()
		return nil
	}, WithConcurrency[job](4), WithPolling[job](polling.NewFixed(0)), WithLogger[job](log.Nop()))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "queue to drain", func() bool {
		count, _ := mq.Count(context.Background(), "jobs")
		return count == 0
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 20 {
		t.Errorf("expected 20 handled jobs, got %d", len(handled))
	}
}
