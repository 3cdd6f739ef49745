// Package search 위치 기반 상품 검색 (가까운 순)
package search

import (
	"context"
	"fmt"
	"math"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/geo"
)

// 검색 개수 기본값
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// NearQuery 위치 검색 조건
type NearQuery struct {
	Longitude    float64 `json:"lon"`
	Latitude     float64 `json:"lat"`
	RadiusMeters float64 `json:"radius_m"`
	Category     string  `json:"category,omitempty"`
	ActiveOnly   bool    `json:"active_only,omitempty"`
	PoolOnly     bool    `json:"pool_only,omitempty"`
	Limit        int     `json:"limit"`
}

// Center 검색 중심점
func (q NearQuery) Center() geo.Point {
	return geo.Point{Longitude: q.Longitude, Latitude: q.Latitude}
}

// Index 가까운 순 상품 검색. 상태를 바꾸지 않는다
type Index interface {
	FindNear(ctx context.Context, q NearQuery) ([]domain.ListingSummary, error)
}

// Indexer 상품 변경을 검색 백엔드에 반영
type Indexer interface {
	Upsert(ctx context.Context, listing *domain.Listing) error
	Remove(ctx context.Context, listingID uint64) error
}

// NopIndexer DB 인덱스처럼 별도 동기화가 필요 없는 경우
type NopIndexer struct{}

func (NopIndexer) Upsert(context.Context, *domain.Listing) error { return nil }
func (NopIndexer) Remove(context.Context, uint64) error          { return nil }

// Options 검색 제한값
type Options struct {
	MaxRadiusMeters float64
	DefaultLimit    int
}

// Normalize 좌표/반경 검증 후 limit 기본값 적용. 좌표는 보정하지 않는다
func (o Options) Normalize(q *NearQuery) error {
	if err := q.Center().Validate(); err != nil {
		return err
	}
	if math.IsNaN(q.RadiusMeters) || q.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive", common.ErrValidationFailed)
	}
	if o.MaxRadiusMeters > 0 && q.RadiusMeters > o.MaxRadiusMeters {
		return fmt.Errorf("%w: radius must be <= %.0fm", common.ErrValidationFailed, o.MaxRadiusMeters)
	}
	if q.Limit <= 0 {
		q.Limit = o.DefaultLimit
		if q.Limit <= 0 {
			q.Limit = DefaultLimit
		}
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return nil
}
