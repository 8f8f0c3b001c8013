// Package queue is a typed, receipt-aware client over a remote message queue.
//
// Messages are leased with a visibility timeout and acknowledged by delete,
// which gives at-least-once delivery. Payloads that keep failing to decode are
// handled by a poison.Policy, which can copy them to a quarantine queue and
// remove them from the source queue.
package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/finch-technologies/qluent/adapters"
	"github.com/finch-technologies/qluent/queue/memory"
	"github.com/finch-technologies/qluent/queue/postgres"
	"github.com/finch-technologies/qluent/queue/redis"
	"github.com/finch-technologies/qluent/queue/sqs"
	"github.com/finch-technologies/qluent/queue/types"
	"github.com/finch-technologies/qluent/utils"
)

// IMessageQueue is the remote queue primitive. One instance can serve several
// named queues. Single-message peek and lease are the count == 1 case.
type IMessageQueue interface {
	CreateIfNotExists(ctx context.Context, queue string) error
	Enqueue(ctx context.Context, queue string, payload []byte, options ...types.EnqueueOptions) (string, error)
	// Peek returns up to count visible messages without leasing them or
	// incrementing their dequeue count.
	Peek(ctx context.Context, queue string, count int) ([]types.Envelope, error)
	// Lease hides up to count messages for visibility and returns them with a
	// fresh receipt and an incremented dequeue count.
	Lease(ctx context.Context, queue string, count int, visibility time.Duration) ([]types.Envelope, error)
	// Delete fails with types.ErrStaleReceipt when the receipt no longer holds the lease.
	Delete(ctx context.Context, queue string, id string, receipt string) error
	Clear(ctx context.Context, queue string) error
	// Count is approximate. types.ErrCountUnknown means no estimate is available.
	Count(ctx context.Context, queue string) (int, error)
}

type QueueDriver string

const (
	QueueDriverMemory   QueueDriver = "memory"
	QueueDriverRedis    QueueDriver = "redis"
	QueueDriverSQS      QueueDriver = "sqs"
	QueueDriverPostgres QueueDriver = "postgres"
)

type QueueConfig struct {
	Driver  QueueDriver
	RedisDb *int
	Redis   adapters.RedisConfig
	Region  string
	BaseUrl string
	// DatabaseUrl is the postgres connection string.
	DatabaseUrl string
}

// Open connects to the configured driver.
func Open(ctx context.Context, config ...QueueConfig) (IMessageQueue, error) {

	if len(config) == 0 {
		return nil, fmt.Errorf("no queue config provided")
	}

	cfg := config[0]

	switch cfg.Driver {
	case QueueDriverMemory:
		return memory.New(), nil
	case QueueDriverRedis:
		redisCfg := cfg.Redis
		if cfg.RedisDb != nil {
			redisCfg.DB = *cfg.RedisDb
		}
		return redis.New(adapters.GetRedisClient(redisCfg)), nil
	case QueueDriverSQS:
		region := utils.StringOrDefault(cfg.Region, utils.StringOrDefault(os.Getenv("AWS_REGION"), "af-south-1"))
		mq, err := sqs.New(ctx, sqs.SQSConfig{
			Region:     region,
			SQSBaseUrl: cfg.BaseUrl,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqs queue: %w", err)
		}
		return mq, nil
	case QueueDriverPostgres:
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("postgres database url is required")
		}
		mq, err := postgres.Connect(ctx, cfg.DatabaseUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres queue: %w", err)
		}
		return mq, nil
	default:
		return nil, fmt.Errorf("no valid queue driver specified: %q", cfg.Driver)
	}
}
