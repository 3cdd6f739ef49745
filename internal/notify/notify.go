// Package notify 공동구매 이벤트 알림 발행
package notify

import (
	"context"
	"time"
)

// Kind 알림 종류
type Kind string

const (
	KindNewListingNearby Kind = "new_listing_nearby"
	KindPoolFilled       Kind = "pool_filled"
	KindPoolNearCapacity Kind = "pool_near_capacity"
	KindPickupReady      Kind = "pickup_ready"
)

// Notification 외부 푸시 시스템으로 넘길 알림
type Notification struct {
	Kind       Kind                   `json:"kind"`
	ListingID  uint64                 `json:"listing_id,omitempty"`
	RecordID   uint64                 `json:"record_id,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Emitter 알림 발행. 실패는 내부에서 기록만 하고 호출자에게 돌려주지 않는다
type Emitter interface {
	Emit(ctx context.Context, n Notification)
}

// Sink 알림 전달 대상
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Nop 아무것도 하지 않는 Emitter
type Nop struct{}

// Emit no-op
func (Nop) Emit(context.Context, Notification) {}
