package domain

import (
	"fmt"
	"time"
)

// PurchaseStatus 거래(픽업) 진행 상태
type PurchaseStatus string

const (
	PurchaseStatusPurchased         PurchaseStatus = "purchased"          // 구매 완료
	PurchaseStatusPreparing         PurchaseStatus = "preparing"          // 준비중
	PurchaseStatusReadyForPickup    PurchaseStatus = "ready_for_pickup"   // 픽업 가능
	PurchaseStatusPickedUp          PurchaseStatus = "picked_up"          // 픽업 완료 (종료)
	PurchaseStatusCancelledRefunded PurchaseStatus = "cancelled_refunded" // 취소/환불 (종료)
)

// IsTerminal 종료 상태 여부
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusPickedUp || s == PurchaseStatusCancelledRefunded
}

// purchaseSteps 정방향 진행 순서
var purchaseSteps = map[PurchaseStatus]PurchaseStatus{
	PurchaseStatusPurchased:      PurchaseStatusPreparing,
	PurchaseStatusPreparing:      PurchaseStatusReadyForPickup,
	PurchaseStatusReadyForPickup: PurchaseStatusPickedUp,
}

// Next 정방향 다음 상태
func (s PurchaseStatus) Next() (PurchaseStatus, bool) {
	next, ok := purchaseSteps[s]
	return next, ok
}

// PathTo 현재 상태에서 target 까지 거쳐야 하는 정방향 상태 목록 (target 포함).
// 취소는 비종료 상태에서 바로 도달한다
func (s PurchaseStatus) PathTo(target PurchaseStatus) ([]PurchaseStatus, bool) {
	if s.IsTerminal() {
		return nil, false
	}
	if target == PurchaseStatusCancelledRefunded {
		return []PurchaseStatus{target}, true
	}
	var path []PurchaseStatus
	cur := s
	for cur != target {
		next, ok := cur.Next()
		if !ok {
			return nil, false
		}
		path = append(path, next)
		cur = next
	}
	return path, len(path) > 0
}

// PurchaseRecord 구매/픽업 기록
type PurchaseRecord struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	ListingID uint64 `gorm:"column:listing_id;not null;index" json:"listing_id"`
	BuyerID   string `gorm:"column:buyer_id;size:64;not null;index" json:"buyer_id"`
	SellerID  string `gorm:"column:seller_id;size:64;not null;index" json:"seller_id"`
	ViaPool   bool   `gorm:"column:via_pool;not null;default:false" json:"via_pool"`

	// 구매 시점 상품 스냅샷
	Title     string  `gorm:"column:title;size:200" json:"title"`
	ListPrice float64 `gorm:"column:list_price;type:decimal(12,2);not null" json:"list_price"`
	Amount    float64 `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`

	PickupCode        string     `gorm:"column:pickup_code;size:16;not null;uniqueIndex" json:"pickup_code"`
	PickupAddress     string     `gorm:"column:pickup_address;size:255" json:"pickup_address"`
	PickupLongitude   float64    `gorm:"column:pickup_longitude" json:"pickup_longitude"`
	PickupLatitude    float64    `gorm:"column:pickup_latitude" json:"pickup_latitude"`
	PickupWindowStart *time.Time `gorm:"column:pickup_window_start" json:"pickup_window_start,omitempty"`
	PickupWindowEnd   *time.Time `gorm:"column:pickup_window_end" json:"pickup_window_end,omitempty"`

	Status       PurchaseStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	CancelReason string         `gorm:"column:cancel_reason;size:255" json:"cancel_reason,omitempty"`

	// 활성 기록 유일성 키. 취소되면 NULL
	ActiveKey *string `gorm:"column:active_key;size:128;uniqueIndex" json:"-"`

	PickedUpAt  *time.Time `gorm:"column:picked_up_at" json:"picked_up_at,omitempty"`
	CancelledAt *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName GORM 테이블명
func (PurchaseRecord) TableName() string {
	return "purchase_records"
}

// DirectActiveKey 직접 구매 활성 키 (상품당 하나)
func DirectActiveKey(listingID uint64) string {
	return fmt.Sprintf("listing:%d", listingID)
}

// PoolSlotActiveKey 공동구매 참여자 슬롯 활성 키 (참여자당 하나)
func PoolSlotActiveKey(listingID uint64, buyerID string) string {
	return fmt.Sprintf("listing:%d:buyer:%s", listingID, buyerID)
}

// IsParty 구매자 또는 판매자인지
func (r *PurchaseRecord) IsParty(userID string) bool {
	return userID != "" && (userID == r.BuyerID || userID == r.SellerID)
}

// PurchaseTransition 상태 전이 이력 (분쟁 조정용)
type PurchaseTransition struct {
	ID         uint64         `gorm:"primaryKey" json:"id"`
	RecordID   uint64         `gorm:"column:record_id;not null;index" json:"record_id"`
	ActorID    string         `gorm:"column:actor_id;size:64;not null" json:"actor_id"`
	FromStatus PurchaseStatus `gorm:"column:from_status;size:20" json:"from_status"`
	ToStatus   PurchaseStatus `gorm:"column:to_status;size:20;not null" json:"to_status"`
	Reason     string         `gorm:"column:reason;size:255" json:"reason,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (PurchaseTransition) TableName() string {
	return "purchase_transitions"
}

// PickupWindow 픽업 가능 시간대
type PickupWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AdvanceRequest 픽업 준비 완료 요청 (시간대는 선택)
type AdvanceRequest struct {
	Window *PickupWindow `json:"pickup_window"`
}

// CancelRequest 취소 요청
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}
