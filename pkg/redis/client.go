package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 요청 경로(검색 캐시, 요청 제한)에서 쓰이므로 짧게 끊고 실패 시 우회한다
const (
	defaultDialTimeout = 2 * time.Second
	defaultIOTimeout   = 500 * time.Millisecond
	defaultPoolSize    = 20
)

// Config Redis 연결 설정
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Addr host:port
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// options go-redis 옵션. 비어 있는 값은 기본값으로 채운다
func (c Config) options() *redis.Options {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &redis.Options{
		Addr:                  c.Addr(),
		Password:              c.Password,
		DB:                    c.DB,
		PoolSize:              poolSize,
		DialTimeout:           defaultDialTimeout,
		ReadTimeout:           defaultIOTimeout,
		WriteTimeout:          defaultIOTimeout,
		ContextTimeoutEnabled: true,
	}
}

// NewClient Redis 클라이언트 생성 후 연결 확인
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return client, nil
}
