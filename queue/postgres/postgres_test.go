package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/finch-technologies/qluent/env"
	"github.com/finch-technologies/qluent/queue/types"
	"github.com/google/uuid"
)

func TestToInterval(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0.000000s"},
		{1500 * time.Millisecond, "1.500000s"},
		{30 * time.Second, "30.000000s"},
		{-time.Second, "0.000000s"},
	}

	for _, tt := range tests {
		if got := toInterval(tt.in); got != tt.want {
			t.Errorf("toInterval(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestQueue(t *testing.T) (*PostgresMessageQueue, string) {
	t.Helper()

	env.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	q, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	name := "test-" + uuid.New().String()
	if err := q.CreateIfNotExists(ctx, name); err != nil {
		t.Fatalf("CreateIfNotExists() error: %v", err)
	}

	t.Cleanup(func() {
		q.pool.Exec(context.Background(), `DELETE FROM qluent_queues WHERE name = $1`, name)
		q.Close()
	})

	return q, name
}

func TestPostgresQueue_LeaseLifecycle(t *testing.T) {
	q, name := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, name, []byte("first"))
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if _, err := q.Enqueue(ctx, name, []byte{0x00, 0x01}, types.EnqueueOptions{Encoding: types.EncodingBinary}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	peeked, err := q.Peek(ctx, name, 1)
	if err != nil || len(peeked) != 1 || peeked[0].ID != first || peeked[0].DequeueCount != 0 {
		t.Fatalf("Peek() = %+v, %v", peeked, err)
	}

	leased, err := q.Lease(ctx, name, 5, time.Minute)
	if err != nil || len(leased) != 2 {
		t.Fatalf("Lease() = %+v, %v", leased, err)
	}
	if leased[0].ID != first || leased[0].DequeueCount != 1 || leased[0].Receipt == "" {
		t.Errorf("unexpected first lease %+v", leased[0])
	}
	if leased[1].Encoding != types.EncodingBinary {
		t.Errorf("expected binary encoding, got %v", leased[1].Encoding)
	}

	if err := q.Delete(ctx, name, first, uuid.New().String()); !errors.Is(err, types.ErrStaleReceipt) {
		t.Errorf("expected ErrStaleReceipt for a foreign receipt, got %v", err)
	}
	if err := q.Delete(ctx, name, first, "not-a-uuid"); !errors.Is(err, types.ErrStaleReceipt) {
		t.Errorf("expected ErrStaleReceipt for a malformed receipt, got %v", err)
	}
	if err := q.Delete(ctx, name, first, leased[0].Receipt); err != nil {
		t.Errorf("Delete() error: %v", err)
	}

	count, err := q.Count(ctx, name)
	if err != nil || count != 1 {
		t.Errorf("Count() = %d, %v; want 1", count, err)
	}

	if err := q.Clear(ctx, name); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	count, _ = q.Count(ctx, name)
	if count != 0 {
		t.Errorf("expected 0 after clear, got %d", count)
	}
}

func TestPostgresQueue_UnknownQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	missing := "missing-" + uuid.New().String()
	if _, err := q.Enqueue(ctx, missing, []byte("x")); !errors.Is(err, types.ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound on enqueue, got %v", err)
	}
	if err := q.Clear(ctx, missing); !errors.Is(err, types.ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound on clear, got %v", err)
	}
}

func TestPostgresQueue_ExpiredMessages(t *testing.T) {
	q, name := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, name, []byte("short"), types.EnqueueOptions{TimeToLive: 50 * time.Millisecond}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	leased, err := q.Lease(ctx, name, 1, time.Minute)
	if err != nil || len(leased) != 0 {
		t.Errorf("expected expired message to be skipped, got %+v, %v", leased, err)
	}

	removed, err := q.Sweep(ctx)
	if err != nil || removed < 1 {
		t.Errorf("Sweep() = %d, %v", removed, err)
	}
}
