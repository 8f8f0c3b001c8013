package adapters

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	TLS      bool
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

var (
	redisClientMap = make(map[RedisConfig]*redis.Client)
	redisClientMu  sync.Mutex
)

// GetRedisClient returns a shared client per distinct configuration.
func GetRedisClient(cfg RedisConfig) *redis.Client {
	redisClientMu.Lock()
	defer redisClientMu.Unlock()

	redisClient := redisClientMap[cfg]

	if redisClient == nil {
		options := &redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}

		if cfg.TLS {
			options.TLSConfig = &tls.Config{}
		}

		redisClient = redis.NewClient(options)
		redisClientMap[cfg] = redisClient
	}

	return redisClient
}
