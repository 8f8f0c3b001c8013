package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/finch-technologies/qluent/queue/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Keys of one queue share a hash tag so scripts stay within one slot.
//
//	qluent:{name}:meta        exists once the queue is created
//	qluent:{name}:visible     sorted set of message ids scored by the unix ms they become visible
//	qluent:{name}:msg:<id>    hash with body, encoding, inserted, count and receipt
const keyPrefix = "qluent:"

func metaKey(queue string) string    { return keyPrefix + "{" + queue + "}:meta" }
func visibleKey(queue string) string { return keyPrefix + "{" + queue + "}:visible" }
func messagePrefix(queue string) string {
	return keyPrefix + "{" + queue + "}:msg:"
}

// All scripts read the clock with TIME so visibility does not depend on
// client clocks.
const nowLua = `
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
`

var enqueueScript = redis.NewScript(nowLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local key = ARGV[6] .. ARGV[1]
redis.call('HSET', key, 'body', ARGV[2], 'encoding', ARGV[3], 'inserted', now, 'count', 0, 'receipt', '')
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
redis.call('ZADD', KEYS[2], now + tonumber(ARGV[4]), ARGV[1])
return ARGV[1]
`)

var peekScript = redis.NewScript(nowLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local out = {}
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, tonumber(ARGV[1]))
for _, id in ipairs(ids) do
  local f = redis.call('HMGET', ARGV[2] .. id, 'body', 'encoding', 'inserted', 'count')
  if f[1] then
    out[#out + 1] = {id, '', f[4], f[1], f[2], f[3]}
  end
end
return out
`)

// ARGV[4..] are fresh receipts, one per message that may be leased. A
// message leased with no visibility stays in range, so seen ids are skipped.
var leaseScript = redis.NewScript(nowLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local count = tonumber(ARGV[1])
local visibility = tonumber(ARGV[2])
local prefix = ARGV[3]
local out = {}
local seen = {}
local skip = 0
while #out < count do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, count - #out + skip)
  local progressed = false
  for _, id in ipairs(ids) do
    local key = prefix .. id
    if seen[id] then
    elseif redis.call('EXISTS', key) == 0 then
      redis.call('ZREM', KEYS[2], id)
      progressed = true
    elseif #out < count then
      local receipt = ARGV[4 + #out]
      seen[id] = true
      skip = skip + 1
      redis.call('ZADD', KEYS[2], now + visibility, id)
      local dequeued = redis.call('HINCRBY', key, 'count', 1)
      redis.call('HSET', key, 'receipt', receipt)
      local f = redis.call('HMGET', key, 'body', 'encoding', 'inserted')
      out[#out + 1] = {id, receipt, tostring(dequeued), f[1], f[2], f[3]}
      progressed = true
    end
  end
  if not progressed then
    break
  end
end
return out
`)

var deleteScript = redis.NewScript(nowLua + `
local receipt = redis.call('HGET', KEYS[2], 'receipt')
if not receipt or receipt == '' or receipt ~= ARGV[2] then
  return 0
end
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) <= now then
  return 0
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

var clearScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[2])
return #ids
`)

// RedisMessageQueue keeps each queue as a visibility sorted set plus one
// hash per message. Leases and deletes run as scripts and are atomic.
type RedisMessageQueue struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *RedisMessageQueue {
	return &RedisMessageQueue{rdb: rdb}
}

func (q *RedisMessageQueue) CreateIfNotExists(ctx context.Context, queue string) error {
	if err := q.rdb.SetNX(ctx, metaKey(queue), time.Now().UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	return nil
}

func (q *RedisMessageQueue) Enqueue(ctx context.Context, queue string, payload []byte, options ...types.EnqueueOptions) (string, error) {
	opts := types.GetEnqueueOptions(options)
	id := uuid.New().String()

	_, err := enqueueScript.Run(ctx, q.rdb,
		[]string{metaKey(queue), visibleKey(queue)},
		id, payload, int(opts.Encoding), opts.InitialVisibilityDelay.Milliseconds(), opts.TimeToLive.Milliseconds(), messagePrefix(queue),
	).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("%w: %s", types.ErrQueueNotFound, queue)
	}
	if err != nil {
		return "", fmt.Errorf("failed to push to the queue: %w", err)
	}
	return id, nil
}

func (q *RedisMessageQueue) Peek(ctx context.Context, queue string, count int) ([]types.Envelope, error) {
	if count <= 0 {
		return nil, nil
	}

	result, err := peekScript.Run(ctx, q.rdb,
		[]string{metaKey(queue), visibleKey(queue)},
		count, messagePrefix(queue),
	).Result()

	return q.envelopes(queue, "peek", result, err)
}

func (q *RedisMessageQueue) Lease(ctx context.Context, queue string, count int, visibility time.Duration) ([]types.Envelope, error) {
	if count <= 0 {
		return nil, nil
	}

	args := []any{count, visibility.Milliseconds(), messagePrefix(queue)}
	for i := 0; i < count; i++ {
		args = append(args, uuid.New().String())
	}

	result, err := leaseScript.Run(ctx, q.rdb,
		[]string{metaKey(queue), visibleKey(queue)},
		args...,
	).Result()

	return q.envelopes(queue, "lease", result, err)
}

func (q *RedisMessageQueue) Delete(ctx context.Context, queue string, id string, receipt string) error {
	deleted, err := deleteScript.Run(ctx, q.rdb,
		[]string{visibleKey(queue), messagePrefix(queue) + id},
		id, receipt,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: message %s", types.ErrStaleReceipt, id)
	}
	return nil
}

func (q *RedisMessageQueue) Clear(ctx context.Context, queue string) error {
	err := clearScript.Run(ctx, q.rdb,
		[]string{metaKey(queue), visibleKey(queue)},
		messagePrefix(queue),
	).Err()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", types.ErrQueueNotFound, queue)
	}
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Count may include messages whose time to live ran out but that no lease
// has reaped yet.
func (q *RedisMessageQueue) Count(ctx context.Context, queue string) (int, error) {
	count, err := q.rdb.ZCard(ctx, visibleKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(count), nil
}

func (q *RedisMessageQueue) envelopes(queue, op string, result any, err error) ([]types.Envelope, error) {
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", types.ErrQueueNotFound, queue)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s queue: %w", op, err)
	}

	rows, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected %s reply %T", op, result)
	}

	envelopes := make([]types.Envelope, 0, len(rows))
	for _, row := range rows {
		envelope, err := parseEnvelope(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s reply: %w", op, err)
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// parseEnvelope reads {id, receipt, count, body, encoding, inserted}.
func parseEnvelope(row any) (types.Envelope, error) {
	fields, ok := row.([]any)
	if !ok || len(fields) != 6 {
		return types.Envelope{}, fmt.Errorf("unexpected row %v", row)
	}

	str := func(v any) string {
		switch s := v.(type) {
		case string:
			return s
		case int64:
			return strconv.FormatInt(s, 10)
		default:
			return ""
		}
	}

	count, _ := strconv.Atoi(str(fields[2]))
	encoding, _ := strconv.Atoi(str(fields[4]))
	inserted, _ := strconv.ParseInt(str(fields[5]), 10, 64)

	return types.Envelope{
		ID:           str(fields[0]),
		Receipt:      str(fields[1]),
		DequeueCount: count,
		Body:         []byte(str(fields[3])),
		Encoding:     types.Encoding(encoding),
		InsertedAt:   time.UnixMilli(inserted),
	}, nil
}
