package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	once sync.Once
	mgr  *Manager
)

type Manager struct {
	client *redis.Client
}

// Config for the fast-counter / lock Redis. Timeouts are kept tight:
// a slow cache answer is worse than an error here, because the caller
// falls back to the durable store anyway.
type Config struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// Init builds the singleton client and pings the server once.
func Init(c Config) error {
	var initErr error
	once.Do(func() {
		dial := c.DialTimeout
		if dial <= 0 {
			dial = 2 * time.Second
		}
		cmd := c.CommandTimeout
		if cmd <= 0 {
			cmd = time.Second
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:         c.Addr,
			Password:     c.Password,
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			DialTimeout:  dial,
			ReadTimeout:  cmd,
			WriteTimeout: cmd,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			initErr = err
			return
		}

		mgr = &Manager{client: rdb}
	})
	return initErr
}

func GetRedis() *redis.Client {
	if mgr == nil {
		panic("Redis not initialized, call Init first")
	}
	return mgr.client
}

func Close() error {
	if mgr != nil && mgr.client != nil {
		return mgr.client.Close()
	}
	return nil
}
