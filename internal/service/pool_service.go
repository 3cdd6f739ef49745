package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/metrics"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"gorm.io/gorm"
)

// sweepBatchSize 마감 처리 한 번에 가져올 풀 수
const sweepBatchSize = 100

// PoolService 공동구매 풀 참여/탈퇴 조정
type PoolService interface {
	EnablePool(ctx context.Context, listingID uint64, sellerID string, cfg domain.PoolConfig) (*domain.PoolSnapshot, error)
	GetPool(ctx context.Context, listingID uint64) (*domain.PoolSnapshot, error)
	Join(ctx context.Context, listingID uint64, userID, displayName string) (*domain.JoinResult, error)
	Leave(ctx context.Context, listingID uint64, userID string) (*domain.PoolSnapshot, error)
	SweepExpired(ctx context.Context) (int, error)
}

type poolService struct {
	guard     *ListingGuard
	listings  repository.ListingRepository
	purchases repository.PurchaseRepository
	checkout  *checkout
	emitter   notify.Emitter
	cfg       config.GroupBuyConfig
	now       func() time.Time
}

// PoolOption 선택 설정
type PoolOption func(*poolService)

// WithPoolClock 시각 주입 (테스트용)
func WithPoolClock(now func() time.Time) PoolOption {
	return func(s *poolService) { s.now = now }
}

// NewPoolService 생성자
func NewPoolService(
	guard *ListingGuard,
	listings repository.ListingRepository,
	purchases repository.PurchaseRepository,
	emitter notify.Emitter,
	cfg config.GroupBuyConfig,
	opts ...PoolOption,
) PoolService {
	s := &poolService{
		guard:     guard,
		listings:  listings,
		purchases: purchases,
		checkout:  &checkout{purchases: purchases, newCode: NewPickupCode},
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnablePool 판매자가 공동구매 설정. 참여자가 없거나 정원 미달로 마감된 풀만 다시 설정할 수 있다
func (s *poolService) EnablePool(ctx context.Context, listingID uint64, sellerID string, cfg domain.PoolConfig) (*domain.PoolSnapshot, error) {
	now := s.now()
	if err := cfg.Validate(now); err != nil {
		return nil, err
	}

	l, err := s.guard.Mutate(ctx, listingID, "enable_pool", func(_ *gorm.DB, l *domain.Listing) (bool, error) {
		if l.SellerID != sellerID {
			return false, common.ErrForbidden
		}
		if l.Status != domain.ListingStatusActive {
			return false, fmt.Errorf("%w: listing is %s", common.ErrListingNotEligible, l.Status)
		}
		if err := l.Pool.Configure(cfg, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log := pkglogger.WithListing(listingID)
	log.Info().
		Int("max_participants", cfg.MaxParticipants).
		Float64("discount_percent", cfg.DiscountPercent).
		Time("end_time", cfg.EndTime).
		Msg("group buy enabled")
	return l.Pool.Snapshot(now), nil
}

func (s *poolService) GetPool(ctx context.Context, listingID uint64) (*domain.PoolSnapshot, error) {
	l, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Pool.Enabled {
		return nil, common.ErrPoolNotFound
	}
	return l.Pool.Snapshot(s.now()), nil
}

// Join 참여. 검사 순서: 풀 없음 → 판매 불가 → 마감 → 중복 → 정원.
// 정원이 차면 상품은 reserved 가 되고 PoolFilled 알림이 나간다
func (s *poolService) Join(ctx context.Context, listingID uint64, userID, displayName string) (*domain.JoinResult, error) {
	var filled bool
	now := s.now()

	l, err := s.guard.Mutate(ctx, listingID, "join", func(tx *gorm.DB, l *domain.Listing) (bool, error) {
		now = s.now()
		filled = false

		if !l.Pool.Enabled {
			return false, common.ErrPoolNotFound
		}
		if l.SellerID == userID {
			return false, fmt.Errorf("%w: seller cannot join own pool", common.ErrForbidden)
		}
		if l.Status != domain.ListingStatusActive && !l.Pool.IsFilled() {
			return false, fmt.Errorf("%w: listing is %s", common.ErrListingUnavailable, l.Status)
		}

		var err error
		filled, err = l.Pool.Admit(userID, displayName, now)
		if err != nil {
			return false, err
		}

		if filled {
			l.Status = domain.ListingStatusReserved
			if s.cfg.AutoCheckoutOnFill {
				for _, p := range l.Pool.Participants {
					if _, err := s.checkout.create(ctx, tx, l, p.UserID, true, now); err != nil {
						return false, err
					}
				}
				markSold(l, now)
			}
		}
		return true, nil
	})
	if err != nil {
		metrics.PoolJoins.WithLabelValues(joinResultLabel(err)).Inc()
		return nil, err
	}

	log := pkglogger.WithListing(listingID)
	log.Info().
		Str("user_id", userID).
		Int("current", l.Pool.CurrentParticipants).
		Int("max", l.Pool.MaxParticipants).
		Bool("filled", filled).
		Msg("pool joined")

	if filled {
		metrics.PoolJoins.WithLabelValues("filled").Inc()
		s.emitPoolFilled(ctx, l)
	} else {
		metrics.PoolJoins.WithLabelValues("joined").Inc()
		if s.cfg.NearCapacityRemains > 0 && l.Pool.Remaining() == s.cfg.NearCapacityRemains {
			s.emitter.Emit(ctx, notify.Notification{
				Kind:       notify.KindPoolNearCapacity,
				ListingID:  l.ID,
				Recipients: recipients(l),
				Payload: map[string]interface{}{
					"title":     l.Title,
					"remaining": l.Pool.Remaining(),
					"end_time":  l.Pool.EndTime,
				},
			})
		}
	}

	return &domain.JoinResult{Pool: l.Pool.Snapshot(now), Filled: filled}, nil
}

func (s *poolService) emitPoolFilled(ctx context.Context, l *domain.Listing) {
	participants := make([]map[string]interface{}, 0, len(l.Pool.Participants))
	for _, p := range l.Pool.Participants {
		participants = append(participants, map[string]interface{}{
			"user_id":      p.UserID,
			"display_name": p.DisplayName,
			"joined_at":    p.JoinedAt,
		})
	}
	s.emitter.Emit(ctx, notify.Notification{
		Kind:       notify.KindPoolFilled,
		ListingID:  l.ID,
		Recipients: recipients(l),
		Payload: map[string]interface{}{
			"title":            l.Title,
			"participants":     participants,
			"discounted_price": domain.DiscountedPrice(l.Price, l.Pool.DiscountPercent),
			"auto_checkout":    s.cfg.AutoCheckoutOnFill,
		},
	})
}

// recipients 판매자 + 참여자
func recipients(l *domain.Listing) []string {
	out := make([]string, 0, len(l.Pool.Participants)+1)
	out = append(out, l.SellerID)
	for _, p := range l.Pool.Participants {
		out = append(out, p.UserID)
	}
	return out
}

func joinResultLabel(err error) string {
	if code, ok := common.CodeOf(err); ok {
		return strings.ToLower(code)
	}
	return "error"
}

// Leave 참여 취소. 참여하지 않았으면 현재 상태를 그대로 반환
func (s *poolService) Leave(ctx context.Context, listingID uint64, userID string) (*domain.PoolSnapshot, error) {
	l, err := s.guard.Mutate(ctx, listingID, "leave", func(_ *gorm.DB, l *domain.Listing) (bool, error) {
		return l.Pool.Remove(userID)
	})
	if err != nil {
		return nil, err
	}
	return l.Pool.Snapshot(s.now()), nil
}

// SweepExpired 마감 시간이 지난 모집중 풀을 expired 로 바꾼다. Join 과 같은 잠금/CAS 경로를 쓴다
func (s *poolService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.listings.FindExpiredOpenPools(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired pools: %w", err)
	}

	expired := 0
	for _, id := range ids {
		var changed bool
		_, err := s.guard.Mutate(ctx, id, "sweep", func(_ *gorm.DB, l *domain.Listing) (bool, error) {
			changed = l.Pool.Expire(s.now())
			return changed, nil
		})
		if err != nil {
			log := pkglogger.WithListing(id)
			log.Warn().Err(err).Msg("pool expiry failed")
			continue
		}
		if changed {
			expired++
			metrics.PoolsExpired.Inc()
		}
	}

	if expired > 0 {
		pkglogger.GetLogger().Info().Int("expired", expired).Msg("expired group buy pools closed")
	}
	return expired, nil
}
