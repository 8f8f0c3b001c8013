package queue

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/finch-technologies/qluent/queue/poison"
	"github.com/hashicorp/go-multierror"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantErrs int
	}{
		{"valid", Config{QueueName: "orders"}, 0},
		{"valid poison", Config{QueueName: "orders", PoisonThreshold: 3, PoisonQueueName: "dlq"}, 0},
		{"missing name", Config{}, 1},
		{"quarantine without threshold", Config{QueueName: "orders", PoisonQueueName: "dlq"}, 1},
		{"swallow without threshold", Config{QueueName: "orders", OnPoison: poison.Swallow}, 1},
		{"quarantine is source", Config{QueueName: "orders", PoisonThreshold: 1, PoisonQueueName: "orders"}, 1},
		{"negative everything", Config{
			QueueName:              "orders",
			PoisonThreshold:        -1,
			VisibilityTimeout:      -time.Second,
			InitialVisibilityDelay: -time.Second,
			TimeToLive:             -time.Second,
		}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErrs == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			var merr *multierror.Error
			if !errors.As(err, &merr) {
				t.Fatalf("expected a multierror, got %v", err)
			}
			if len(merr.Errors) != tt.wantErrs {
				t.Errorf("expected %d errors, got %d: %v", tt.wantErrs, len(merr.Errors), err)
			}
		})
	}
}

func TestConfig_PoisonPolicy(t *testing.T) {
	if (Config{QueueName: "orders"}).PoisonPolicy() != nil {
		t.Error("expected no policy without threshold or quarantine queue")
	}

	policy := Config{QueueName: "orders", PoisonThreshold: 2, OnPoison: poison.Swallow}.PoisonPolicy()
	if policy == nil || policy.Threshold != 2 || policy.OnPoison != poison.Swallow || policy.Quarantines() {
		t.Errorf("unexpected policy %+v", policy)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("QUEUE_NAME", "orders")
	t.Setenv("QUEUE_POISON_THRESHOLD", "4")
	t.Setenv("QUEUE_POISON_QUEUE", "orders-poison")
	t.Setenv("QUEUE_ON_POISON", "swallow")
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "45s")
	t.Setenv("QUEUE_INITIAL_VISIBILITY_DELAY", "2")
	t.Setenv("QUEUE_TTL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	want := Config{
		QueueName:              "orders",
		PoisonThreshold:        4,
		PoisonQueueName:        "orders-poison",
		OnPoison:               poison.Swallow,
		VisibilityTimeout:      45 * time.Second,
		InitialVisibilityDelay: 2 * time.Second,
	}
	if cfg != want {
		t.Errorf("LoadConfig() = %+v, want %+v", cfg, want)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("QUEUE_NAME", "")
	t.Setenv("QUEUE_ON_POISON", "explode")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected errors for a missing name and unknown behavior")
	}
}

func TestLoadConfig_MalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"threshold", "QUEUE_POISON_THRESHOLD", "three"},
		{"visibility timeout", "QUEUE_VISIBILITY_TIMEOUT", "soon"},
		{"initial delay", "QUEUE_INITIAL_VISIBILITY_DELAY", "later"},
		{"ttl", "QUEUE_TTL", "forever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("QUEUE_NAME", "orders")
			t.Setenv("QUEUE_POISON_THRESHOLD", "2")
			t.Setenv("QUEUE_POISON_QUEUE", "")
			t.Setenv("QUEUE_ON_POISON", "swallow")
			t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "")
			t.Setenv("QUEUE_INITIAL_VISIBILITY_DELAY", "")
			t.Setenv("QUEUE_TTL", "")
			t.Setenv(tt.key, tt.val)

			_, err := LoadConfig()
			if err == nil {
				t.Fatalf("expected an error for %s=%q", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestLoadConfig_MalformedThresholdWithSwallow(t *testing.T) {
	t.Setenv("QUEUE_NAME", "orders")
	t.Setenv("QUEUE_POISON_THRESHOLD", "three")
	t.Setenv("QUEUE_POISON_QUEUE", "")
	t.Setenv("QUEUE_ON_POISON", "swallow")

	_, err := LoadConfig()

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected a multierror, got %v", err)
	}
	if !errors.Is(err, ErrOnPoisonWithoutThreshold) {
		t.Errorf("expected the swallow-without-threshold error as well, got %v", err)
	}
}

func TestLoadQueueConfig_MalformedRedisDB(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "redis")
	t.Setenv("REDIS_DB", "four")

	if _, err := LoadQueueConfig(); err == nil {
		t.Error("expected an error for a malformed redis db")
	}
}

func TestLoadQueueConfig(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "redis")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_SCHEME", "tls")

	cfg, err := LoadQueueConfig()
	if err != nil {
		t.Fatalf("LoadQueueConfig() error: %v", err)
	}
	if cfg.Driver != QueueDriverRedis || cfg.Redis.Addr() != "cache:6380" || cfg.Redis.DB != 2 || !cfg.Redis.TLS {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv("QUEUE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadQueueConfig(); err == nil {
		t.Error("expected an error for postgres without a database url")
	}

	t.Setenv("QUEUE_DRIVER", "kafka")
	if _, err := LoadQueueConfig(); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
