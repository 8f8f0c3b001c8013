package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finch-technologies/qluent/queue/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const foreignKeyViolation = "23503"

const (
	sqlSchema = `
CREATE TABLE IF NOT EXISTS qluent_queues (
  name       text PRIMARY KEY,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS qluent_messages (
  seq           bigserial,
  id            uuid PRIMARY KEY,
  queue         text NOT NULL REFERENCES qluent_queues (name) ON DELETE CASCADE,
  body          bytea NOT NULL,
  encoding      smallint NOT NULL DEFAULT 0,
  enqueued_at   timestamptz NOT NULL DEFAULT now(),
  visible_at    timestamptz NOT NULL,
  expires_at    timestamptz,
  receipt       uuid,
  dequeue_count integer NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS qluent_messages_visible ON qluent_messages (queue, visible_at, seq);`

	sqlCreateQueue = `INSERT INTO qluent_queues (name) VALUES ($1) ON CONFLICT (name) DO NOTHING;`

	sqlQueueExists = `SELECT EXISTS (SELECT 1 FROM qluent_queues WHERE name = $1);`

	sqlEnqueue = `
INSERT INTO qluent_messages (id, queue, body, encoding, visible_at, expires_at)
VALUES ($1::uuid, $2, $3, $4, now() + $5::interval,
        CASE WHEN $6::interval > interval '0' THEN now() + $6::interval END);`

	sqlPeek = `
SELECT id::text, dequeue_count, body, encoding, enqueued_at
FROM qluent_messages
WHERE queue = $1
  AND visible_at <= now()
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY visible_at, seq
LIMIT $2;`

	// pick -> update -> return rows in queue order
	sqlLease = `
WITH picked AS (
  SELECT id
  FROM qluent_messages
  WHERE queue = $1
    AND visible_at <= now()
    AND (expires_at IS NULL OR expires_at > now())
  ORDER BY visible_at, seq
  FOR UPDATE SKIP LOCKED
  LIMIT $2
),
updated AS (
  UPDATE qluent_messages m
  SET visible_at    = now() + $3::interval,
      dequeue_count = m.dequeue_count + 1,
      receipt       = gen_random_uuid()
  FROM picked
  WHERE m.id = picked.id
  RETURNING m.seq, m.id, m.receipt, m.dequeue_count, m.body, m.encoding, m.enqueued_at
)
SELECT id::text, receipt::text, dequeue_count, body, encoding, enqueued_at
FROM updated
ORDER BY seq;`

	sqlDelete = `
DELETE FROM qluent_messages
WHERE queue = $1 AND id = $2::uuid AND receipt = $3::uuid AND visible_at > now();`

	sqlClear = `DELETE FROM qluent_messages WHERE queue = $1;`

	sqlCount = `
SELECT count(*)
FROM qluent_messages
WHERE queue = $1 AND (expires_at IS NULL OR expires_at > now());`

	sqlSweepExpired = `DELETE FROM qluent_messages WHERE expires_at IS NOT NULL AND expires_at <= now();`
)

// PostgresMessageQueue stores every queue in one table and leases rows with
// FOR UPDATE SKIP LOCKED, so concurrent consumers never share a lease.
type PostgresMessageQueue struct {
	pool *pgxpool.Pool

	schemaMu    sync.Mutex
	schemaReady bool
}

func New(pool *pgxpool.Pool) *PostgresMessageQueue {
	return &PostgresMessageQueue{pool: pool}
}

// Connect opens a pool for dsn and checks that the database answers.
func Connect(ctx context.Context, dsn string) (*PostgresMessageQueue, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return New(pool), nil
}

func (p *PostgresMessageQueue) Close() {
	p.pool.Close()
}

// toInterval converts a Go duration to a Postgres interval literal like "12.500000s".
func toInterval(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%fs", d.Seconds())
}

func (p *PostgresMessageQueue) ensureSchema(ctx context.Context) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()

	if p.schemaReady {
		return nil
	}
	if _, err := p.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("failed to create queue schema: %w", err)
	}
	p.schemaReady = true
	return nil
}

func (p *PostgresMessageQueue) CreateIfNotExists(ctx context.Context, queue string) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, sqlCreateQueue, queue); err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	return nil
}

func (p *PostgresMessageQueue) Enqueue(ctx context.Context, queue string, payload []byte, options ...types.EnqueueOptions) (string, error) {
	opts := types.GetEnqueueOptions(options)
	id := uuid.New().String()

	_, err := p.pool.Exec(ctx, sqlEnqueue,
		id,
		queue,
		payload,
		int16(opts.Encoding),
		toInterval(opts.InitialVisibilityDelay),
		toInterval(opts.TimeToLive),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return "", fmt.Errorf("%w: %s", types.ErrQueueNotFound, queue)
		}
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return id, nil
}

func (p *PostgresMessageQueue) Peek(ctx context.Context, queue string, count int) ([]types.Envelope, error) {
	if count <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, sqlPeek, queue, count)
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	defer rows.Close()

	var out []types.Envelope
	for rows.Next() {
		var (
			e        types.Envelope
			encoding int16
		)
		if err := rows.Scan(&e.ID, &e.DequeueCount, &e.Body, &encoding, &e.InsertedAt); err != nil {
			return nil, err
		}
		e.Encoding = types.Encoding(encoding)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresMessageQueue) Lease(ctx context.Context, queue string, count int, visibility time.Duration) ([]types.Envelope, error) {
	if count <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, sqlLease, queue, count, toInterval(visibility))
	if err != nil {
		return nil, fmt.Errorf("failed to lease messages: %w", err)
	}
	defer rows.Close()

	var out []types.Envelope
	for rows.Next() {
		var (
			e        types.Envelope
			encoding int16
		)
		// column order must match the final SELECT of sqlLease
		if err := rows.Scan(&e.ID, &e.Receipt, &e.DequeueCount, &e.Body, &encoding, &e.InsertedAt); err != nil {
			return nil, err
		}
		e.Encoding = types.Encoding(encoding)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresMessageQueue) Delete(ctx context.Context, queue string, id string, receipt string) error {
	if uuid.Validate(id) != nil || uuid.Validate(receipt) != nil {
		return fmt.Errorf("%w: message %s", types.ErrStaleReceipt, id)
	}

	tag, err := p.pool.Exec(ctx, sqlDelete, queue, id, receipt)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s", types.ErrStaleReceipt, id)
	}
	return nil
}

func (p *PostgresMessageQueue) Clear(ctx context.Context, queue string) error {
	if err := p.exists(ctx, queue); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, sqlClear, queue); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

func (p *PostgresMessageQueue) Count(ctx context.Context, queue string) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, sqlCount, queue).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// Sweep deletes messages whose time to live has passed and returns how many
// were removed. Expired rows are already invisible to every other operation.
func (p *PostgresMessageQueue) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, sqlSweepExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresMessageQueue) exists(ctx context.Context, queue string) error {
	var ok bool
	if err := p.pool.QueryRow(ctx, sqlQueueExists, queue).Scan(&ok); err != nil {
		return fmt.Errorf("failed to look up queue: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrQueueNotFound, queue)
	}
	return nil
}
