package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/lock"
	"github.com/damoang/angple-groupbuy/internal/metrics"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"gorm.io/gorm"
)

const maxPickupCodeAttempts = 5

// PurchaseRole 내 거래 목록 조회 기준
type PurchaseRole string

const (
	RoleBuyer  PurchaseRole = "buyer"
	RoleSeller PurchaseRole = "seller"
)

// PurchaseService 구매/픽업 상태 머신
type PurchaseService interface {
	// 구매
	Purchase(ctx context.Context, listingID uint64, buyerID string) (*domain.PurchaseRecord, error)

	// 상태 전이
	StartPreparing(ctx context.Context, recordID uint64, sellerID string) (*domain.PurchaseRecord, error)
	AdvanceToReady(ctx context.Context, recordID uint64, sellerID string, window *domain.PickupWindow) (*domain.PurchaseRecord, error)
	ConfirmPickup(ctx context.Context, recordID uint64, buyerID string) (*domain.PurchaseRecord, error)
	Cancel(ctx context.Context, recordID uint64, actorID, reason string) (*domain.PurchaseRecord, error)

	// 조회
	Get(ctx context.Context, recordID uint64, actorID string) (*domain.PurchaseRecord, error)
	ListMine(ctx context.Context, userID string, role PurchaseRole, page, limit int) ([]*domain.PurchaseRecord, *common.Meta, error)
	ListTransitions(ctx context.Context, recordID uint64, actorID string) ([]*domain.PurchaseTransition, error)
}

// checkout 상품 잠금 안에서 구매 기록을 만든다. 공동구매 자동 결제와 공유
type checkout struct {
	purchases repository.PurchaseRepository
	newCode   PickupCodeGenerator
}

func (c *checkout) create(ctx context.Context, tx *gorm.DB, l *domain.Listing, buyerID string, viaPool bool, now time.Time) (*domain.PurchaseRecord, error) {
	repo := c.purchases.WithTx(tx)

	key := domain.DirectActiveKey(l.ID)
	amount := l.Price
	if viaPool {
		key = domain.PoolSlotActiveKey(l.ID, buyerID)
		amount = domain.DiscountedPrice(l.Price, l.Pool.DiscountPercent)
	}

	exists, err := repo.ExistsActiveKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: already purchased", common.ErrListingUnavailable)
	}

	code, err := c.uniqueCode(ctx, repo)
	if err != nil {
		return nil, err
	}

	record := &domain.PurchaseRecord{
		ListingID:       l.ID,
		BuyerID:         buyerID,
		SellerID:        l.SellerID,
		ViaPool:         viaPool,
		Title:           l.Title,
		ListPrice:       l.Price,
		Amount:          amount,
		PickupCode:      code,
		PickupAddress:   l.Address,
		PickupLongitude: l.Longitude,
		PickupLatitude:  l.Latitude,
		Status:          domain.PurchaseStatusPurchased,
		ActiveKey:       &key,
	}
	if err := repo.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			// 다른 인스턴스가 먼저 기록을 만들었거나 코드가 겹침. 상위에서 재시도
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("create purchase record: %w", err)
	}

	if err := repo.CreateTransition(ctx, &domain.PurchaseTransition{
		RecordID:  record.ID,
		ActorID:   buyerID,
		ToStatus:  domain.PurchaseStatusPurchased,
		CreatedAt: now.UTC(),
	}); err != nil {
		return nil, fmt.Errorf("log purchase transition: %w", err)
	}
	return record, nil
}

func (c *checkout) uniqueCode(ctx context.Context, repo repository.PurchaseRepository) (string, error) {
	for i := 0; i < maxPickupCodeAttempts; i++ {
		code, err := c.newCode()
		if err != nil {
			return "", err
		}
		used, err := repo.PickupCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
	}
	return "", fmt.Errorf("pickup code space exhausted after %d attempts", maxPickupCodeAttempts)
}

type purchaseService struct {
	guard     *ListingGuard
	tx        repository.Transactor
	purchases repository.PurchaseRepository
	records   *lock.KeyedMutex
	checkout  *checkout
	emitter   notify.Emitter
	cfg       config.GroupBuyConfig
	now       func() time.Time
}

// PurchaseOption 선택 설정
type PurchaseOption func(*purchaseService)

// WithPurchaseClock 시각 주입 (테스트용)
func WithPurchaseClock(now func() time.Time) PurchaseOption {
	return func(s *purchaseService) { s.now = now }
}

// WithPickupCodeGenerator 픽업 코드 생성기 교체
func WithPickupCodeGenerator(gen PickupCodeGenerator) PurchaseOption {
	return func(s *purchaseService) { s.checkout.newCode = gen }
}

// NewPurchaseService 생성자
func NewPurchaseService(
	guard *ListingGuard,
	tx repository.Transactor,
	purchases repository.PurchaseRepository,
	emitter notify.Emitter,
	cfg config.GroupBuyConfig,
	opts ...PurchaseOption,
) PurchaseService {
	s := &purchaseService{
		guard:     guard,
		tx:        tx,
		purchases: purchases,
		records:   lock.NewKeyedMutex(),
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

// Purchase 직접 구매 또는 모집 완료된 공동구매 슬롯 구매
func (s *purchaseService) Purchase(ctx context.Context, listingID uint64, buyerID string) (*domain.PurchaseRecord, error) {
	var record *domain.PurchaseRecord

	_, err := s.guard.Mutate(ctx, listingID, "purchase", func(tx *gorm.DB, l *domain.Listing) (bool, error) {
		if l.SellerID == buyerID {
			return false, fmt.Errorf("%w: seller cannot purchase own listing", common.ErrForbidden)
		}
		now := s.now()

		switch {
		case l.Pool.Enabled && l.Pool.IsFilled():
			// 모든 슬롯이 팔린 뒤 취소된 슬롯은 다시 열리지 않는다
			if l.Status == domain.ListingStatusSold {
				return false, fmt.Errorf("%w: listing is sold", common.ErrListingUnavailable)
			}
			if !l.Pool.HasParticipant(buyerID) {
				return false, fmt.Errorf("%w: pool filled by other participants", common.ErrListingUnavailable)
			}
			rec, err := s.checkout.create(ctx, tx, l, buyerID, true, now)
			if err != nil {
				return false, err
			}
			record = rec

			// 모든 슬롯에 활성 기록이 생기면 판매완료
			active, err := s.purchases.WithTx(tx).CountActiveByListing(ctx, l.ID)
			if err != nil {
				return false, err
			}
			if active >= int64(l.Pool.MaxParticipants) && l.Status != domain.ListingStatusSold {
				markSold(l, now)
				return true, nil
			}
			return false, nil

		case l.Status == domain.ListingStatusActive && !l.Pool.Binding(now):
			rec, err := s.checkout.create(ctx, tx, l, buyerID, false, now)
			if err != nil {
				return false, err
			}
			record = rec
			markSold(l, now)
			return true, nil

		default:
			return false, common.ErrListingUnavailable
		}
	})
	if err != nil {
		return nil, err
	}

	metrics.PurchaseTransitions.WithLabelValues(string(domain.PurchaseStatusPurchased)).Inc()
	log := pkglogger.WithListing(listingID)
	log.Info().
		Uint64("record_id", record.ID).
		Str("buyer_id", buyerID).
		Bool("via_pool", record.ViaPool).
		Float64("amount", record.Amount).
		Msg("purchase created")
	return record, nil
}

func markSold(l *domain.Listing, now time.Time) {
	soldAt := now.UTC()
	l.Status = domain.ListingStatusSold
	l.SoldAt = &soldAt
}

// StartPreparing purchased → preparing (판매자)
func (s *purchaseService) StartPreparing(ctx context.Context, recordID uint64, sellerID string) (*domain.PurchaseRecord, error) {
	return s.advance(ctx, recordID, sellerID, domain.PurchaseStatusPreparing, nil)
}

// AdvanceToReady purchased/preparing → ready_for_pickup (판매자). 거치는 단계를 모두 기록한다
func (s *purchaseService) AdvanceToReady(ctx context.Context, recordID uint64, sellerID string, window *domain.PickupWindow) (*domain.PurchaseRecord, error) {
	record, err := s.advance(ctx, recordID, sellerID, domain.PurchaseStatusReadyForPickup, window)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, notify.Notification{
		Kind:       notify.KindPickupReady,
		ListingID:  record.ListingID,
		RecordID:   record.ID,
		Recipients: []string{record.BuyerID},
		Payload: map[string]interface{}{
			"pickup_code":    record.PickupCode,
			"pickup_address": record.PickupAddress,
			"location":       [2]float64{record.PickupLongitude, record.PickupLatitude},
			"window_start":   record.PickupWindowStart,
			"window_end":     record.PickupWindowEnd,
		},
	})
	return record, nil
}

func (s *purchaseService) advance(ctx context.Context, recordID uint64, sellerID string, target domain.PurchaseStatus, window *domain.PickupWindow) (*domain.PurchaseRecord, error) {
	if window != nil && !window.End.After(window.Start) {
		return nil, fmt.Errorf("%w: pickup window end must be after start", common.ErrValidationFailed)
	}

	return s.transition(ctx, recordID, sellerID, func(r *domain.PurchaseRecord) ([]domain.PurchaseStatus, error) {
		if r.SellerID != sellerID {
			return nil, common.ErrForbidden
		}
		path, ok := r.Status.PathTo(target)
		if !ok {
			return nil, fmt.Errorf("%w: cannot move from %s to %s", common.ErrInvalidState, r.Status, target)
		}
		if target == domain.PurchaseStatusReadyForPickup {
			now := s.now().UTC()
			start, end := now, now.Add(s.cfg.PickupWindow)
			if window != nil {
				start, end = window.Start.UTC(), window.End.UTC()
			}
			r.PickupWindowStart = &start
			r.PickupWindowEnd = &end
		}
		return path, nil
	}, "")
}

// ConfirmPickup ready_for_pickup (또는 허용 시 preparing) → picked_up (구매자)
func (s *purchaseService) ConfirmPickup(ctx context.Context, recordID uint64, buyerID string) (*domain.PurchaseRecord, error) {
	return s.transition(ctx, recordID, buyerID, func(r *domain.PurchaseRecord) ([]domain.PurchaseStatus, error) {
		if r.BuyerID != buyerID {
			return nil, common.ErrForbidden
		}
		switch {
		case r.Status == domain.PurchaseStatusReadyForPickup:
		case r.Status == domain.PurchaseStatusPreparing && s.cfg.AllowEarlyPickup:
		default:
			return nil, fmt.Errorf("%w: cannot confirm pickup from %s", common.ErrInvalidState, r.Status)
		}
		pickedUp := s.now().UTC()
		r.PickedUpAt = &pickedUp
		return []domain.PurchaseStatus{domain.PurchaseStatusPickedUp}, nil
	}, "")
}

// Cancel 비종료 상태 → cancelled_refunded (구매자/판매자).
// 직접 구매는 다른 활성 기록이 없으면 재판매(sold → active), 공동구매 슬롯은 다시 열지 않는다
func (s *purchaseService) Cancel(ctx context.Context, recordID uint64, actorID, reason string) (*domain.PurchaseRecord, error) {
	prepare := func(r *domain.PurchaseRecord) ([]domain.PurchaseStatus, error) {
		if !r.IsParty(actorID) {
			return nil, common.ErrForbidden
		}
		if r.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: record already %s", common.ErrInvalidState, r.Status)
		}
		cancelledAt := s.now().UTC()
		r.CancelledAt = &cancelledAt
		r.CancelReason = reason
		r.ActiveKey = nil
		return []domain.PurchaseStatus{domain.PurchaseStatusCancelledRefunded}, nil
	}
	return s.transition(ctx, recordID, actorID, prepare, reason)
}

// transitionFunc 기록을 검증/수정하고 거칠 상태 목록을 반환한다
type transitionFunc func(r *domain.PurchaseRecord) ([]domain.PurchaseStatus, error)

// transition 기록 잠금 → 검증 → 상태 CAS + 이력 기록을 하나의 트랜잭션으로 처리.
// 직접 구매 취소는 상품 잠금까지 잡고 재판매 여부를 같은 트랜잭션에서 결정한다
func (s *purchaseService) transition(ctx context.Context, recordID uint64, actorID string, prepare transitionFunc, reason string) (*domain.PurchaseRecord, error) {
	unlock, err := s.records.Lock(ctx, "purchase:"+strconv.FormatUint(recordID, 10))
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := s.purchases.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	from := record.Status

	path, err := prepare(record)
	if err != nil {
		return nil, err
	}
	target := path[len(path)-1]
	record.Status = target

	apply := func(tx *gorm.DB) error {
		repo := s.purchases.WithTx(tx)
		if err := repo.TransitionStatus(ctx, record, from); err != nil {
			return err
		}
		prev := from
		now := s.now().UTC()
		for _, step := range path {
			if err := repo.CreateTransition(ctx, &domain.PurchaseTransition{
				RecordID:   record.ID,
				ActorID:    actorID,
				FromStatus: prev,
				ToStatus:   step,
				Reason:     reasonFor(step, reason),
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			prev = step
		}
		return nil
	}

	if target == domain.PurchaseStatusCancelledRefunded && !record.ViaPool {
		_, err = s.guard.Mutate(ctx, record.ListingID, "cancel", func(tx *gorm.DB, l *domain.Listing) (bool, error) {
			if err := apply(tx); err != nil {
				return false, err
			}
			remaining, err := s.purchases.WithTx(tx).CountActiveByListing(ctx, l.ID)
			if err != nil {
				return false, err
			}
			if remaining == 0 && l.Status == domain.ListingStatusSold {
				// 재판매
				l.Status = domain.ListingStatusActive
				l.SoldAt = nil
				return true, nil
			}
			return false, nil
		})
	} else {
		err = s.tx.Transaction(ctx, apply)
	}
	if err != nil {
		record.Status = from
		return nil, err
	}

	metrics.PurchaseTransitions.WithLabelValues(string(target)).Inc()
	log := pkglogger.WithListing(record.ListingID)
	log.Info().
		Uint64("record_id", record.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("purchase status changed")
	return record, nil
}

func reasonFor(step domain.PurchaseStatus, reason string) string {
	if step == domain.PurchaseStatusCancelledRefunded {
		return reason
	}
	return ""
}

// Get 거래 당사자만 조회 가능
func (s *purchaseService) Get(ctx context.Context, recordID uint64, actorID string) (*domain.PurchaseRecord, error) {
	record, err := s.purchases.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !record.IsParty(actorID) {
		return nil, common.ErrForbidden
	}
	return record, nil
}

func (s *purchaseService) ListMine(ctx context.Context, userID string, role PurchaseRole, page, limit int) ([]*domain.PurchaseRecord, *common.Meta, error) {
	var (
		records []*domain.PurchaseRecord
		total   int64
		err     error
	)
	switch role {
	case RoleSeller:
		records, total, err = s.purchases.ListBySeller(ctx, userID, page, limit)
	case RoleBuyer, "":
		records, total, err = s.purchases.ListByBuyer(ctx, userID, page, limit)
	default:
		return nil, nil, fmt.Errorf("%w: unknown role %q", common.ErrValidationFailed, role)
	}
	if err != nil {
		return nil, nil, err
	}
	return records, &common.Meta{Page: page, Limit: limit, Total: total}, nil
}

// ListTransitions 분쟁 조정용 전이 이력
func (s *purchaseService) ListTransitions(ctx context.Context, recordID uint64, actorID string) ([]*domain.PurchaseTransition, error) {
	if _, err := s.Get(ctx, recordID, actorID); err != nil {
		return nil, err
	}
	return s.purchases.ListTransitions(ctx, recordID)
}
