package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // 캐시 키 축약용
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL 상수 정의
const (
	TTLNearby  = 30 * time.Second // 위치 검색 결과 (자주 갱신)
	TTLListing = 1 * time.Minute  // 상품 상세
	TTLDefault = 5 * time.Minute  // 기본값
)

// 캐시 키 접두사
const (
	PrefixNearby  = "groupbuy:nearby:"
	PrefixListing = "groupbuy:listing:"
)

// ErrMiss 캐시 미스
var ErrMiss = errors.New("cache miss")

// Service Redis 캐시 서비스 인터페이스
type Service interface {
	// 기본 캐시 연산
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// 위치 검색 캐시
	GetNearby(ctx context.Context, query interface{}, dest interface{}) error
	SetNearby(ctx context.Context, query interface{}, data interface{}, ttl time.Duration) error
	InvalidateNearby(ctx context.Context) error

	// 유틸리티
	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache Redis 기반 캐시 구현
type redisCache struct {
	client *redis.Client
}

// NewService 새로운 캐시 서비스 생성. client 가 nil 이면 항상 미스
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

// IsAvailable Redis 연결 가능 여부
func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

// Ping Redis 연결 테스트
func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

// Get 캐시에서 값 조회. 없으면 ErrMiss
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set 캐시에 값 저장
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Redis 없으면 무시
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete 캐시 삭제
func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// ========================================
// 위치 검색 캐시
// ========================================

// NearbyKey 검색 조건을 직렬화해 만든 캐시 키
func NearbyKey(query interface{}) (string, error) {
	raw, err := json.Marshal(query)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw) //nolint:gosec
	return PrefixNearby + hex.EncodeToString(sum[:]), nil
}

func (c *redisCache) GetNearby(ctx context.Context, query interface{}, dest interface{}) error {
	key, err := NearbyKey(query)
	if err != nil {
		return err
	}
	return c.Get(ctx, key, dest)
}

func (c *redisCache) SetNearby(ctx context.Context, query interface{}, data interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLNearby
	}
	key, err := NearbyKey(query)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// InvalidateNearby 상품 변경 시 검색 캐시 전체 삭제
func (c *redisCache) InvalidateNearby(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.deleteByPattern(ctx, PrefixNearby+"*")
}

func (c *redisCache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
