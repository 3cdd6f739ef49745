package notify

import (
	"context"
	"sync"
	"time"

	"github.com/damoang/angple-groupbuy/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultDeliveryTimeout 싱크 하나당 전달 제한 시간
const DefaultDeliveryTimeout = 5 * time.Second

// Bus 비동기 알림 버스. 싱크마다 패닉을 격리하고 한 번만 전달을 시도한다
type Bus struct {
	sinks   []Sink
	mu      sync.RWMutex
	wg      sync.WaitGroup
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewBus 생성자
func NewBus(logger zerolog.Logger, sinks ...Sink) *Bus {
	return &Bus{
		sinks:   sinks,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: DefaultDeliveryTimeout,
		now:     time.Now,
	}
}

// Subscribe 싱크 추가
func (b *Bus) Subscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
	b.logger.Debug().Str("sink", sink.Name()).Msg("notification sink subscribed")
}

// Emit 알림 비동기 발행. 요청 컨텍스트가 끝나도 전달은 계속된다
func (b *Bus) Emit(ctx context.Context, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	if len(sinks) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, s := range sinks {
			b.deliver(detached, s, n)
		}
	}()
}

func (b *Bus) deliver(ctx context.Context, s Sink, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.Notifications.WithLabelValues(string(n.Kind), s.Name(), "panic").Inc()
			b.logger.Error().
				Str("sink", s.Name()).
				Str("kind", string(n.Kind)).
				Interface("panic", r).
				Msg("notification sink panicked")
		}
	}()

	if err := s.Deliver(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues(string(n.Kind), s.Name(), "error").Inc()
		b.logger.Warn().Err(err).
			Str("sink", s.Name()).
			Str("kind", string(n.Kind)).
			Uint64("listing_id", n.ListingID).
			Msg("notification delivery failed")
		return
	}
	metrics.Notifications.WithLabelValues(string(n.Kind), s.Name(), "ok").Inc()
}

// Close 진행 중인 전달이 끝날 때까지 대기 (ctx 만료 시 중단)
func (b *Bus) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
