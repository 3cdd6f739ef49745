package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/lock"
	"github.com/damoang/angple-groupbuy/internal/metrics"
	"github.com/damoang/angple-groupbuy/internal/repository"
	"github.com/damoang/angple-groupbuy/internal/search"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"gorm.io/gorm"
)

// DefaultMaxCASRetries 설정이 없을 때 CAS 재시도 횟수
const DefaultMaxCASRetries = 3

// MutateFunc 트랜잭션 안에서 상품을 변경한다. 상품을 바꿨으면 true 를 반환해야 CAS 로 저장된다.
// false 면 상품 행은 건드리지 않고 tx 의 다른 쓰기만 커밋된다
type MutateFunc func(tx *gorm.DB, listing *domain.Listing) (changed bool, err error)

// ListingGuard 상품 단위 직렬화 + version CAS 로 상품/풀 변경을 원자적으로 처리한다.
// 같은 프로세스 안에서는 키 잠금이 도착 순서를 보장하고, 다른 인스턴스와의 경합은 CAS 가 잡는다
type ListingGuard struct {
	tx         repository.Transactor
	listings   repository.ListingRepository
	locks      *lock.KeyedMutex
	indexer    search.Indexer
	maxRetries int
}

// NewListingGuard 생성자. indexer 가 nil 이면 검색 동기화 생략
func NewListingGuard(
	tx repository.Transactor,
	listings repository.ListingRepository,
	locks *lock.KeyedMutex,
	indexer search.Indexer,
	maxRetries int,
) *ListingGuard {
	if indexer == nil {
		indexer = search.NopIndexer{}
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxCASRetries
	}
	return &ListingGuard{
		tx:         tx,
		listings:   listings,
		locks:      locks,
		indexer:    indexer,
		maxRetries: maxRetries,
	}
}

func listingKey(id uint64) string {
	return "listing:" + strconv.FormatUint(id, 10)
}

// Mutate 잠금 → (읽기 → fn → CAS) 트랜잭션. CAS 충돌이면 maxRetries 까지 다시 읽어 재시도
func (g *ListingGuard) Mutate(ctx context.Context, listingID uint64, op string, fn MutateFunc) (*domain.Listing, error) {
	unlock, err := g.locks.Lock(ctx, listingKey(listingID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		var (
			result  *domain.Listing
			changed bool
		)
		err := g.tx.Transaction(ctx, func(tx *gorm.DB) error {
			repo := g.listings.WithTx(tx)
			listing, err := repo.FindByID(ctx, listingID)
			if err != nil {
				return err
			}
			expected := listing.Version

			changed, err = fn(tx, listing)
			if err != nil {
				return err
			}
			if changed {
				if err := repo.CompareAndSwap(ctx, listing, expected); err != nil {
					return err
				}
			}
			result = listing
			return nil
		})

		if errors.Is(err, common.ErrConflict) {
			metrics.CASConflicts.WithLabelValues(op).Inc()
			log := pkglogger.WithListing(listingID)
			log.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Msg("listing version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		if changed {
			g.sync(ctx, result)
		}
		return result, nil
	}

	log := pkglogger.WithListing(listingID)
	log.Warn().Str("op", op).Msg("listing update gave up after CAS retries")
	return nil, common.ErrConflict
}

// sync 검색 백엔드 동기화 (실패는 기록만)
func (g *ListingGuard) sync(ctx context.Context, l *domain.Listing) {
	var err error
	if l.Status == domain.ListingStatusInactive {
		err = g.indexer.Remove(ctx, l.ID)
	} else {
		err = g.indexer.Upsert(ctx, l)
	}
	if err != nil {
		log := pkglogger.WithListing(l.ID)
		log.Warn().Err(err).Msg("search index sync failed")
	}
}
