package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxGeoCandidates 위치 검색 시 사각 범위에서 가져올 최대 후보 수
const MaxGeoCandidates = 2000

// casColumns 낙관적 잠금 갱신 대상 컬럼 (풀 + 상태)
var casColumns = []string{
	"status", "sold_at", "version", "updated_at",
	"pool_enabled", "pool_max_participants", "pool_current_participants",
	"pool_discount_percent", "pool_end_time", "pool_state",
	"pool_participants", "pool_filled_at",
}

// ListingRepository 상품 저장소 인터페이스
type ListingRepository interface {
	WithTx(tx *gorm.DB) ListingRepository

	Create(ctx context.Context, listing *domain.Listing) error
	FindByID(ctx context.Context, id uint64) (*domain.Listing, error)
	CompareAndSwap(ctx context.Context, listing *domain.Listing, expectedVersion uint64) error

	FindInBox(ctx context.Context, box geo.Box, filter *GeoFilter) ([]*domain.Listing, error)
	ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.Listing, int64, error)
	FindExpiredOpenPools(ctx context.Context, now time.Time, limit int) ([]uint64, error)

	IncrementViewCount(ctx context.Context, id uint64) error
	IncrementLikeCount(ctx context.Context, id uint64, delta int) error
}

// GeoFilter 위치 검색 필터
type GeoFilter struct {
	Category   string
	ActiveOnly bool
	PoolOnly   bool // 모집중인 공동구매만
	// Near 가 있으면 후보를 가까운 순으로 잘라 밀집 지역에서도 최근접 상품이 빠지지 않는다
	Near *geo.Point
	// Now 모집중 판정 기준 시각. 비어 있으면 현재 시각
	Now time.Time
}

func (f *GeoFilter) openAt() time.Time {
	if f.Now.IsZero() {
		return time.Now().UTC()
	}
	return f.Now.UTC()
}

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository 상품 저장소 생성
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) WithTx(tx *gorm.DB) ListingRepository {
	return &listingRepository{db: tx}
}

func (r *listingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *listingRepository) FindByID(ctx context.Context, id uint64) (*domain.Listing, error) {
	var listing domain.Listing
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}

// CompareAndSwap version 이 expectedVersion 일 때만 상태/풀 필드를 덮어쓴다.
// 다른 쓰기가 먼저 반영됐으면 common.ErrConflict
func (r *listingRepository) CompareAndSwap(ctx context.Context, listing *domain.Listing, expectedVersion uint64) error {
	listing.Version = expectedVersion + 1

	res := r.db.WithContext(ctx).
		Model(listing).
		Where("version = ?", expectedVersion).
		Select(casColumns).
		Updates(listing)
	if res.Error != nil {
		listing.Version = expectedVersion
		return fmt.Errorf("listing %d cas update: %w", listing.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		listing.Version = expectedVersion
		return common.ErrConflict
	}
	return nil
}

func (r *listingRepository) FindInBox(ctx context.Context, box geo.Box, filter *GeoFilter) ([]*domain.Listing, error) {
	query := r.db.WithContext(ctx).Model(&domain.Listing{}).
		Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat)

	if box.CrossesAntimeridian() {
		query = query.Where("(longitude >= ? OR longitude <= ?)", box.MinLon, box.MaxLon)
	} else {
		query = query.Where("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon)
	}

	if filter != nil {
		if filter.Category != "" {
			query = query.Where("category = ?", filter.Category)
		}
		if filter.ActiveOnly {
			query = query.Where("status = ?", domain.ListingStatusActive)
		}
		if filter.PoolOnly {
			// 스윕 전이라도 마감 시간이 지난 풀은 제외
			query = query.Where("pool_enabled = ? AND pool_state = ? AND pool_end_time > ?", true, domain.PoolStateOpen, filter.openAt())
		}
	}
	// 내린 상품은 검색 대상이 아님
	query = query.Where("status <> ?", domain.ListingStatusInactive)

	if filter != nil && filter.Near != nil {
		query = query.Clauses(nearestFirst(*filter.Near))
	}

	var listings []*domain.Listing
	if err := query.Limit(MaxGeoCandidates).Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

// nearestFirst 등장방형 근사 거리 순 정렬. 경도 차는 180도 경계를 넘어 계산한다
func nearestFirst(p geo.Point) clause.OrderBy {
	const dLon = "(CASE WHEN ABS(longitude - ?) > 180 THEN 360 - ABS(longitude - ?) ELSE ABS(longitude - ?) END)"
	k := math.Cos(p.Latitude * math.Pi / 180)
	lon := p.Longitude
	return clause.OrderBy{Expression: clause.Expr{
		SQL:                "(latitude - ?) * (latitude - ?) + " + dLon + " * " + dLon + " * ?, id",
		Vars:               []interface{}{p.Latitude, p.Latitude, lon, lon, lon, lon, lon, lon, k * k},
		WithoutParentheses: true,
	}}
}

func (r *listingRepository) ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.Listing, int64, error) {
	var listings []*domain.Listing
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Listing{}).Where("seller_id = ?", sellerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&listings).Error; err != nil {
		return nil, 0, err
	}

	return listings, total, nil
}

func (r *listingRepository) FindExpiredOpenPools(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&domain.Listing{}).
		Where("pool_enabled = ? AND pool_state = ? AND pool_end_time < ?", true, domain.PoolStateOpen, now.UTC()).
		Order("pool_end_time ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *listingRepository) IncrementViewCount(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&domain.Listing{}).Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
}

func (r *listingRepository) IncrementLikeCount(ctx context.Context, id uint64, delta int) error {
	query := r.db.WithContext(ctx).Model(&domain.Listing{}).Where("id = ?", id)
	if delta < 0 {
		// 0 아래로 내려가지 않게
		query = query.Where("like_count >= ?", -delta)
	}
	return query.UpdateColumn("like_count", gorm.Expr("like_count + ?", delta)).Error
}
