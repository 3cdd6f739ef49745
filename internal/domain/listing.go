package domain

import (
	"time"

	"github.com/damoang/angple-groupbuy/internal/geo"
)

// ListingStatus 판매 상태
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"   // 판매중
	ListingStatusReserved ListingStatus = "reserved" // 예약중 (공동구매 모집 완료)
	ListingStatusSold     ListingStatus = "sold"     // 판매완료
	ListingStatusInactive ListingStatus = "inactive" // 내림 (soft delete)
)

// ItemCondition 상품 상태(컨디션)
type ItemCondition string

const (
	ConditionNew     ItemCondition = "new"
	ConditionLikeNew ItemCondition = "like-new"
	ConditionGood    ItemCondition = "good"
	ConditionFair    ItemCondition = "fair"
	ConditionPoor    ItemCondition = "poor"
)

// Valid 허용된 컨디션 값인지
func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// listingTransitions UpdateStatus 로 허용되는 상태 전이
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingStatusActive:   {ListingStatusReserved, ListingStatusSold},
	ListingStatusReserved: {ListingStatusActive, ListingStatusSold},
}

// CanTransition from → to 전이 허용 여부
func (s ListingStatus) CanTransition(to ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Listing 중고 상품 엔티티. 공동구매 풀은 같은 행에 포함된다
type Listing struct {
	ID           uint64  `gorm:"primaryKey" json:"id"`
	SellerID     string  `gorm:"column:seller_id;size:64;not null;index" json:"seller_id"`
	SellerName   string  `gorm:"column:seller_name;size:100" json:"seller_name"`
	SellerRating float64 `gorm:"column:seller_rating;type:decimal(3,2);default:0" json:"seller_rating"`

	Title         string        `gorm:"column:title;size:200;not null" json:"title"`
	Description   string        `gorm:"column:description;type:text" json:"description"`
	Category      string        `gorm:"column:category;size:50;not null;index" json:"category"`
	Condition     ItemCondition `gorm:"column:condition;size:20;not null" json:"condition"`
	Price         float64       `gorm:"column:price;type:decimal(12,2);not null" json:"price"`
	OriginalPrice *float64      `gorm:"column:original_price;type:decimal(12,2)" json:"original_price,omitempty"`
	Images        []string      `gorm:"column:images;type:json;serializer:json" json:"images"`

	Longitude float64 `gorm:"column:longitude;not null;index:idx_listing_geo,priority:2" json:"longitude"`
	Latitude  float64 `gorm:"column:latitude;not null;index:idx_listing_geo,priority:1" json:"latitude"`
	Address   string  `gorm:"column:address;size:255" json:"address"`

	CO2SavedKg      float64 `gorm:"column:co2_saved_kg;type:decimal(10,2);default:0" json:"co2_saved_kg"`
	WasteDivertedKg float64 `gorm:"column:waste_diverted_kg;type:decimal(10,2);default:0" json:"waste_diverted_kg"`

	Status    ListingStatus `gorm:"column:status;size:20;not null;default:active;index" json:"status"`
	ViewCount uint          `gorm:"column:view_count;default:0" json:"view_count"`
	LikeCount uint          `gorm:"column:like_count;default:0" json:"like_count"`

	Pool GroupBuyPool `gorm:"embedded;embeddedPrefix:pool_" json:"pool"`

	// 풀/상태 변경마다 증가하는 낙관적 잠금 토큰
	Version uint64 `gorm:"column:version;not null;default:0" json:"-"`

	SoldAt    *time.Time `gorm:"column:sold_at" json:"sold_at,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName GORM 테이블명
func (Listing) TableName() string {
	return "listings"
}

// Point 상품 위치
func (l *Listing) Point() geo.Point {
	return geo.Point{Longitude: l.Longitude, Latitude: l.Latitude}
}

// Clone 참여자 슬라이스까지 복사한 사본
func (l *Listing) Clone() *Listing {
	cp := *l
	cp.Images = append([]string(nil), l.Images...)
	cp.Pool.Participants = append([]Participant(nil), l.Pool.Participants...)
	return &cp
}

// Seller 등록 판매자 정보 (인증 정보에서 채움)
type Seller struct {
	ID     string
	Name   string
	Rating float64
}

// ListingDraft 상품 등록 요청
type ListingDraft struct {
	Title           string        `json:"title" binding:"required,max=200" validate:"required,max=200"`
	Description     string        `json:"description" binding:"required" validate:"required"`
	Category        string        `json:"category" binding:"required,max=50" validate:"required,max=50"`
	Condition       ItemCondition `json:"condition" binding:"required" validate:"required,oneof=new like-new good fair poor"`
	Price           float64       `json:"price" binding:"required,gt=0" validate:"gt=0"`
	OriginalPrice   *float64      `json:"original_price" validate:"omitempty,gt=0"`
	Images          []string      `json:"images" binding:"required,min=1,max=10" validate:"min=1,max=10,dive,required"`
	Location        *Location     `json:"location" binding:"required" validate:"required"`
	CO2SavedKg      float64       `json:"co2_saved_kg" validate:"gte=0"`
	WasteDivertedKg float64       `json:"waste_diverted_kg" validate:"gte=0"`
}

// Location [longitude, latitude] 쌍과 주소
type Location struct {
	Coordinates [2]float64 `json:"coordinates"`
	Address     string     `json:"address" validate:"max=255"`
}

// Point 좌표 변환
func (l Location) Point() geo.Point {
	return geo.Point{Longitude: l.Coordinates[0], Latitude: l.Coordinates[1]}
}

// UpdateStatusRequest 상태 변경 요청
type UpdateStatusRequest struct {
	Status ListingStatus `json:"status" binding:"required"`
}

// ListingResponse 상품 응답
type ListingResponse struct {
	ID             uint64         `json:"id"`
	Seller         SellerSummary  `json:"seller"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Condition      ItemCondition  `json:"condition"`
	Price          float64        `json:"price"`
	OriginalPrice  *float64       `json:"original_price,omitempty"`
	Images         []string       `json:"images"`
	Location       Location       `json:"location"`
	Sustainability Sustainability `json:"sustainability"`
	Status         ListingStatus  `json:"status"`
	ViewCount      uint           `json:"view_count"`
	LikeCount      uint           `json:"like_count"`
	Pool           *PoolSnapshot  `json:"group_buy,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Sustainability 재사용으로 절감한 환경 지표
type Sustainability struct {
	CO2SavedKg      float64 `json:"co2_saved_kg"`
	WasteDivertedKg float64 `json:"waste_diverted_kg"`
}

// SellerSummary 판매자 요약
type SellerSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// ListingSummary 위치 검색 결과 항목
type ListingSummary struct {
	ID             uint64        `json:"id"`
	Title          string        `json:"title"`
	Category       string        `json:"category"`
	Price          float64       `json:"price"`
	Status         ListingStatus `json:"status"`
	Thumbnail      string        `json:"thumbnail"`
	Location       [2]float64    `json:"location"`
	Address        string        `json:"address"`
	DistanceMeters float64       `json:"distance_m"`
	Pool           *PoolSummary  `json:"group_buy,omitempty"`
}

// PoolSummary 검색 결과용 풀 요약
type PoolSummary struct {
	State               PoolState `json:"state"`
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	DiscountPercent     float64   `json:"discount_percent"`
	EndTime             time.Time `json:"end_time"`
}

// ToResponse 응답 DTO 변환
func (l *Listing) ToResponse(now time.Time) *ListingResponse {
	resp := &ListingResponse{
		ID:            l.ID,
		Seller:        SellerSummary{ID: l.SellerID, Name: l.SellerName, Rating: l.SellerRating},
		Title:         l.Title,
		Description:   l.Description,
		Category:      l.Category,
		Condition:     l.Condition,
		Price:         l.Price,
		OriginalPrice: l.OriginalPrice,
		Images:        l.Images,
		Location:      Location{Coordinates: l.Point().Pair(), Address: l.Address},
		Sustainability: Sustainability{
			CO2SavedKg:      l.CO2SavedKg,
			WasteDivertedKg: l.WasteDivertedKg,
		},
		Status:    l.Status,
		ViewCount: l.ViewCount,
		LikeCount: l.LikeCount,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	if l.Pool.Enabled {
		resp.Pool = l.Pool.Snapshot(now)
	}
	return resp
}

// ToSummary 검색 결과 변환
func (l *Listing) ToSummary(distance float64) ListingSummary {
	s := ListingSummary{
		ID:             l.ID,
		Title:          l.Title,
		Category:       l.Category,
		Price:          l.Price,
		Status:         l.Status,
		Location:       l.Point().Pair(),
		Address:        l.Address,
		DistanceMeters: distance,
	}
	if len(l.Images) > 0 {
		s.Thumbnail = l.Images[0]
	}
	if l.Pool.Enabled && l.Pool.EndTime != nil {
		s.Pool = &PoolSummary{
			State:               l.Pool.State,
			MaxParticipants:     l.Pool.MaxParticipants,
			CurrentParticipants: l.Pool.CurrentParticipants,
			DiscountPercent:     l.Pool.DiscountPercent,
			EndTime:             *l.Pool.EndTime,
		}
	}
	return s
}

// ListingLike 좋아요 (listing_id, user_id 유일)
type ListingLike struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	ListingID uint64    `gorm:"column:listing_id;not null;uniqueIndex:idx_like_listing_user" json:"listing_id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_like_listing_user;index" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName GORM 테이블명
func (ListingLike) TableName() string {
	return "listing_likes"
}

// Models 마이그레이션 대상 모델 목록
func Models() []interface{} {
	return []interface{}{
		&Listing{},
		&ListingLike{},
		&PurchaseRecord{},
		&PurchaseTransition{},
	}
}
