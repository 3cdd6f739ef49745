package search

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/metrics"
	"github.com/damoang/angple-groupbuy/pkg/cache"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
)

// CachedIndex Redis read-through 캐시. 상품 변경 시 검색 캐시 전체를 비운다
type CachedIndex struct {
	next    Index
	indexer Indexer
	cache   cache.Service
	ttl     time.Duration
	opts    Options
}

// NewCachedIndex 생성자. indexer 가 nil 이면 NopIndexer
func NewCachedIndex(next Index, indexer Indexer, c cache.Service, ttl time.Duration, opts Options) *CachedIndex {
	if indexer == nil {
		indexer = NopIndexer{}
	}
	return &CachedIndex{next: next, indexer: indexer, cache: c, ttl: ttl, opts: opts}
}

// FindNear 캐시 조회 후 미스면 하위 인덱스 검색
func (i *CachedIndex) FindNear(ctx context.Context, q NearQuery) ([]domain.ListingSummary, error) {
	// 같은 검색이 같은 키가 되도록 기본값을 먼저 적용
	if err := i.opts.Normalize(&q); err != nil {
		return nil, err
	}

	var cached []domain.ListingSummary
	err := i.cache.GetNearby(ctx, q, &cached)
	if err == nil {
		metrics.SearchCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		pkglogger.GetLogger().Warn().Err(err).Msg("nearby cache read failed")
	}
	metrics.SearchCache.WithLabelValues("miss").Inc()

	result, err := i.next.FindNear(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := i.cache.SetNearby(ctx, q, result, i.ttl); err != nil {
		pkglogger.GetLogger().Warn().Err(err).Msg("nearby cache write failed")
	}
	return result, nil
}

// Upsert 하위 인덱서 반영 후 캐시 무효화
func (i *CachedIndex) Upsert(ctx context.Context, l *domain.Listing) error {
	err := i.indexer.Upsert(ctx, l)
	i.invalidate(ctx)
	return err
}

// Remove 하위 인덱서 반영 후 캐시 무효화
func (i *CachedIndex) Remove(ctx context.Context, listingID uint64) error {
	err := i.indexer.Remove(ctx, listingID)
	i.invalidate(ctx)
	return err
}

func (i *CachedIndex) invalidate(ctx context.Context) {
	if err := i.cache.InvalidateNearby(ctx); err != nil {
		pkglogger.GetLogger().Warn().Err(err).Msg("nearby cache invalidation failed")
	}
}
