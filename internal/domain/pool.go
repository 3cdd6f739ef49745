package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
)

// PoolState 공동구매 풀 상태
type PoolState string

const (
	PoolStateOpen    PoolState = "open"    // 모집중
	PoolStateFilled  PoolState = "filled"  // 모집 완료 (정원 도달)
	PoolStateExpired PoolState = "expired" // 마감 (정원 미달)
)

// Participant 풀 참여자
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// GroupBuyPool 상품에 포함된 공동구매 풀
type GroupBuyPool struct {
	Enabled             bool          `gorm:"column:enabled;not null;default:false" json:"enabled"`
	MaxParticipants     int           `gorm:"column:max_participants;not null;default:0" json:"max_participants"`
	CurrentParticipants int           `gorm:"column:current_participants;not null;default:0" json:"current_participants"`
	DiscountPercent     float64       `gorm:"column:discount_percent;type:decimal(5,2);not null;default:0" json:"discount_percent"`
	EndTime             *time.Time    `gorm:"column:end_time;index" json:"end_time,omitempty"`
	State               PoolState     `gorm:"column:state;size:20;index" json:"state,omitempty"`
	Participants        []Participant `gorm:"column:participants;type:json;serializer:json" json:"participants"`
	FilledAt            *time.Time    `gorm:"column:filled_at" json:"filled_at,omitempty"`
}

// PoolConfig 공동구매 설정 요청
type PoolConfig struct {
	MaxParticipants int       `json:"max_participants" binding:"required"`
	DiscountPercent float64   `json:"discount_percent"`
	EndTime         time.Time `json:"end_time" binding:"required"`
}

// Validate 설정값 검증
func (c PoolConfig) Validate(now time.Time) error {
	if c.MaxParticipants < 1 {
		return fmt.Errorf("%w: max_participants must be >= 1", common.ErrInvalidPoolConfig)
	}
	if math.IsNaN(c.DiscountPercent) || c.DiscountPercent < 0 || c.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount_percent must be within 0-100", common.ErrInvalidPoolConfig)
	}
	if !c.EndTime.After(now) {
		return fmt.Errorf("%w: end_time must be in the future", common.ErrInvalidPoolConfig)
	}
	return nil
}

// Configure 풀 설정. 참여자가 묶여 있지 않을 때만 가능 (첫 참여 이후 end_time 고정)
// 정원 미달로 마감된 풀은 남은 참여자를 비우고 다시 연다
func (p *GroupBuyPool) Configure(c PoolConfig, now time.Time) error {
	if err := c.Validate(now); err != nil {
		return err
	}
	if p.Binding(now) {
		return fmt.Errorf("%w: pool already has participants", common.ErrListingNotEligible)
	}
	end := c.EndTime.UTC()
	p.Enabled = true
	p.MaxParticipants = c.MaxParticipants
	p.DiscountPercent = c.DiscountPercent
	p.EndTime = &end
	p.State = PoolStateOpen
	p.Participants = []Participant{}
	p.CurrentParticipants = 0
	p.FilledAt = nil
	return nil
}

// IsExpired now 기준 마감 여부
func (p *GroupBuyPool) IsExpired(now time.Time) bool {
	if p.State == PoolStateExpired {
		return true
	}
	return p.EndTime != nil && now.After(*p.EndTime)
}

// IsFilled 정원 도달 여부
func (p *GroupBuyPool) IsFilled() bool {
	return p.State == PoolStateFilled
}

// Binding 참여자가 상품을 붙잡고 있는지. 모집 완료 풀이거나, 마감 전 풀에 참여자가 있을 때
func (p *GroupBuyPool) Binding(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.IsFilled() {
		return true
	}
	return len(p.Participants) > 0 && !p.IsExpired(now)
}

// HasParticipant 참여 여부
func (p *GroupBuyPool) HasParticipant(userID string) bool {
	return p.indexOf(userID) >= 0
}

func (p *GroupBuyPool) indexOf(userID string) int {
	for i, pt := range p.Participants {
		if pt.UserID == userID {
			return i
		}
	}
	return -1
}

// Admit 참여 처리. 검사 순서: 풀 없음 → 마감 → 중복 → 정원
// 호출자는 같은 풀에 대한 다른 Admit/Remove 와 직렬화해야 한다
func (p *GroupBuyPool) Admit(userID, displayName string, now time.Time) (filled bool, err error) {
	if !p.Enabled {
		return false, common.ErrPoolNotFound
	}
	if p.IsExpired(now) {
		return false, common.ErrPoolExpired
	}
	if p.HasParticipant(userID) {
		return false, common.ErrAlreadyJoined
	}
	if p.IsFilled() || p.CurrentParticipants >= p.MaxParticipants {
		return false, common.ErrPoolFull
	}

	p.Participants = append(p.Participants, Participant{
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    now.UTC(),
	})
	p.CurrentParticipants = len(p.Participants)

	if p.CurrentParticipants == p.MaxParticipants {
		p.State = PoolStateFilled
		filledAt := now.UTC()
		p.FilledAt = &filledAt
		return true, nil
	}
	return false, nil
}

// Remove 참여 취소. 참여하지 않은 사용자는 no-op (false 반환)
// 마감된 풀에서도 나갈 수 있다. 마감은 새 참여만 막는다
func (p *GroupBuyPool) Remove(userID string) (bool, error) {
	if !p.Enabled {
		return false, common.ErrPoolNotFound
	}
	idx := p.indexOf(userID)
	if idx < 0 {
		return false, nil
	}
	if p.IsFilled() {
		return false, common.ErrPoolAlreadyFilled
	}

	p.Participants = append(p.Participants[:idx:idx], p.Participants[idx+1:]...)
	p.CurrentParticipants = len(p.Participants)
	return true, nil
}

// Expire 마감 시간이 지난 모집중 풀을 마감 처리. 상태가 바뀌었으면 true
func (p *GroupBuyPool) Expire(now time.Time) bool {
	if !p.Enabled || p.State != PoolStateOpen {
		return false
	}
	if p.EndTime == nil || !now.After(*p.EndTime) {
		return false
	}
	p.State = PoolStateExpired
	return true
}

// Remaining 남은 자리 수
func (p *GroupBuyPool) Remaining() int {
	return p.MaxParticipants - p.CurrentParticipants
}

// CheckInvariant current == len(participants) <= max, 중복 없음
func (p *GroupBuyPool) CheckInvariant() error {
	if p.CurrentParticipants != len(p.Participants) {
		return fmt.Errorf("current_participants %d != len(participants) %d", p.CurrentParticipants, len(p.Participants))
	}
	if p.Enabled && p.CurrentParticipants > p.MaxParticipants {
		return fmt.Errorf("current_participants %d > max_participants %d", p.CurrentParticipants, p.MaxParticipants)
	}
	seen := make(map[string]struct{}, len(p.Participants))
	for _, pt := range p.Participants {
		if _, dup := seen[pt.UserID]; dup {
			return fmt.Errorf("duplicate participant %s", pt.UserID)
		}
		seen[pt.UserID] = struct{}{}
	}
	return nil
}

// PoolSnapshot 풀 조회 응답
type PoolSnapshot struct {
	State               PoolState     `json:"state"`
	MaxParticipants     int           `json:"max_participants"`
	CurrentParticipants int           `json:"current_participants"`
	Remaining           int           `json:"remaining"`
	DiscountPercent     float64       `json:"discount_percent"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	Participants        []Participant `json:"participants"`
	FilledAt            *time.Time    `json:"filled_at,omitempty"`
}

// Snapshot 응답용 복사본. 마감 시간이 지난 모집중 풀은 expired 로 보인다
func (p *GroupBuyPool) Snapshot(now time.Time) *PoolSnapshot {
	state := p.State
	if state == PoolStateOpen && p.IsExpired(now) {
		state = PoolStateExpired
	}
	return &PoolSnapshot{
		State:               state,
		MaxParticipants:     p.MaxParticipants,
		CurrentParticipants: p.CurrentParticipants,
		Remaining:           p.Remaining(),
		DiscountPercent:     p.DiscountPercent,
		EndTime:             p.EndTime,
		Participants:        append([]Participant{}, p.Participants...),
		FilledAt:            p.FilledAt,
	}
}

// JoinResult 참여 결과
type JoinResult struct {
	Pool   *PoolSnapshot `json:"pool"`
	Filled bool          `json:"filled"`
}

// JoinPoolRequest 참여 요청
type JoinPoolRequest struct {
	DisplayName string `json:"display_name" binding:"max=100"`
}

// DiscountedPrice 할인 적용가 (원 단위 소수 둘째 자리 반올림)
func DiscountedPrice(price, discountPercent float64) float64 {
	return math.Round(price*(100-discountPercent)) / 100
}
