package queue

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/finch-technologies/qluent/adapters"
	"github.com/finch-technologies/qluent/env"
	"github.com/finch-technologies/qluent/queue/poison"
	"github.com/finch-technologies/qluent/utils"
	"github.com/hashicorp/go-multierror"
)

const DefaultVisibilityTimeout = 30 * time.Second

// Config is the per-client configuration. It is immutable once the client
// is built.
type Config struct {
	QueueName string

	// PoisonThreshold of zero disables poison handling entirely.
	PoisonThreshold int
	PoisonQueueName string
	OnPoison        poison.Behavior

	// VisibilityTimeout is how long a leased message stays hidden.
	VisibilityTimeout time.Duration
	// InitialVisibilityDelay hides newly pushed messages for this long.
	InitialVisibilityDelay time.Duration
	// TimeToLive of zero keeps the service default.
	TimeToLive time.Duration
}

func getConfig(config Config) Config {
	utils.MergeObjects(&config, Config{
		VisibilityTimeout: DefaultVisibilityTimeout,
	})
	return config
}

// PoisonPolicy returns nil when poison handling is disabled.
func (c Config) PoisonPolicy() *poison.Policy {
	if c.PoisonThreshold == 0 && c.PoisonQueueName == "" {
		return nil
	}
	return &poison.Policy{
		Threshold:       c.PoisonThreshold,
		QuarantineQueue: c.PoisonQueueName,
		OnPoison:        c.OnPoison,
	}
}

var (
	ErrQueueNameRequired        = errors.New("queue name is required")
	ErrOnPoisonWithoutThreshold = errors.New("on-poison set without a threshold")
)

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.QueueName == "" {
		result = multierror.Append(result, ErrQueueNameRequired)
	}
	if c.PoisonThreshold < 0 {
		result = multierror.Append(result, fmt.Errorf("poison threshold must not be negative, got %d", c.PoisonThreshold))
	}
	if policy := c.PoisonPolicy(); policy != nil {
		if err := policy.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.OnPoison != poison.Rethrow && c.PoisonThreshold == 0 {
		result = multierror.Append(result, ErrOnPoisonWithoutThreshold)
	}
	if c.PoisonQueueName != "" && c.PoisonQueueName == c.QueueName {
		result = multierror.Append(result, fmt.Errorf("poison queue must differ from source queue %q", c.QueueName))
	}
	if c.VisibilityTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("visibility timeout must not be negative, got %v", c.VisibilityTimeout))
	}
	if c.InitialVisibilityDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("initial visibility delay must not be negative, got %v", c.InitialVisibilityDelay))
	}
	if c.TimeToLive < 0 {
		result = multierror.Append(result, fmt.Errorf("time to live must not be negative, got %v", c.TimeToLive))
	}

	return result.ErrorOrNil()
}

// LoadConfig reads the client configuration from the environment (and .env).
// Values that are set but do not parse are reported rather than defaulted.
func LoadConfig() (Config, error) {
	env.Load()

	var errs *multierror.Error

	onPoison, err := poison.ParseBehavior(os.Getenv("QUEUE_ON_POISON"))
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	threshold, _, err := env.Int("QUEUE_POISON_THRESHOLD")
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	duration := func(key string, defaultValue time.Duration) time.Duration {
		d, set, err := env.Duration(key)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if !set || err != nil {
			return defaultValue
		}
		return d
	}

	cfg := getConfig(Config{
		QueueName:              os.Getenv("QUEUE_NAME"),
		PoisonThreshold:        threshold,
		PoisonQueueName:        os.Getenv("QUEUE_POISON_QUEUE"),
		OnPoison:               onPoison,
		VisibilityTimeout:      duration("QUEUE_VISIBILITY_TIMEOUT", DefaultVisibilityTimeout),
		InitialVisibilityDelay: duration("QUEUE_INITIAL_VISIBILITY_DELAY", 0),
		TimeToLive:             duration("QUEUE_TTL", 0),
	})

	if err := cfg.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return cfg, errs.ErrorOrNil()
}

// LoadQueueConfig reads the driver configuration from the environment (and .env).
func LoadQueueConfig() (QueueConfig, error) {
	env.Load()

	db, set, err := env.Int("REDIS_DB")
	if err != nil {
		return QueueConfig{}, err
	}
	if !set {
		db = 4
	}

	cfg := QueueConfig{
		Driver:      QueueDriver(env.GetOrDefault("QUEUE_DRIVER", string(QueueDriverMemory))),
		Region:      env.GetOrDefault("AWS_REGION", "af-south-1"),
		BaseUrl:     os.Getenv("AWS_SQS_BASE_URL"),
		DatabaseUrl: os.Getenv("DATABASE_URL"),
		Redis: adapters.RedisConfig{
			Host:     env.GetOrDefault("REDIS_HOST", "localhost"),
			Port:     env.GetOrDefault("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
			TLS:      os.Getenv("REDIS_SCHEME") == "tls",
		},
	}

	switch cfg.Driver {
	case QueueDriverMemory, QueueDriverRedis, QueueDriverSQS:
	case QueueDriverPostgres:
		if cfg.DatabaseUrl == "" {
			return cfg, fmt.Errorf("postgres database url is required")
		}
	default:
		return cfg, fmt.Errorf("no valid queue driver specified: %q", cfg.Driver)
	}

	return cfg, nil
}
