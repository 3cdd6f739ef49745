package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LogSink 알림을 구조화 로그로 남긴다
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink 생성자
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name 싱크 이름
func (s *LogSink) Name() string { return "log" }

// Deliver 로그 기록
func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info().
		Str("kind", string(n.Kind)).
		Uint64("listing_id", n.ListingID).
		Uint64("record_id", n.RecordID).
		Strs("recipients", n.Recipients).
		Interface("payload", n.Payload).
		Msg("notification")
	return nil
}

// Publisher Redis PUBLISH 추상화
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink 외부 푸시 시스템이 구독하는 Redis 채널로 발행
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink 생성자
func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Name 싱크 이름
func (s *RedisSink) Name() string { return "redis" }

// Deliver JSON 으로 직렬화해 PUBLISH
func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}
