package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	"github.com/damoang/angple-groupbuy/internal/search"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ListingService 상품 등록/조회/상태 관리
type ListingService interface {
	Create(ctx context.Context, seller domain.Seller, draft *domain.ListingDraft) (*domain.Listing, error)
	Get(ctx context.Context, id uint64) (*domain.Listing, error)
	UpdateStatus(ctx context.Context, id uint64, sellerID string, status domain.ListingStatus) (*domain.Listing, error)
	Deactivate(ctx context.Context, id uint64, sellerID string) error
	ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.Listing, *common.Meta, error)

	// 참고용 카운터 (실패해도 요청은 성공)
	IncrementView(ctx context.Context, id uint64)
	ToggleLike(ctx context.Context, id uint64, userID string) (liked bool, err error)
	IsLiked(ctx context.Context, id uint64, userID string) bool
}

type listingService struct {
	guard    *ListingGuard
	tx       repository.Transactor
	listings repository.ListingRepository
	likes    repository.LikeRepository
	indexer  search.Indexer
	emitter  notify.Emitter
	validate *validator.Validate
	now      func() time.Time
}

// NewListingService 생성자
func NewListingService(
	guard *ListingGuard,
	tx repository.Transactor,
	listings repository.ListingRepository,
	likes repository.LikeRepository,
	indexer search.Indexer,
	emitter notify.Emitter,
) ListingService {
	if indexer == nil {
		indexer = search.NopIndexer{}
	}
	return &listingService{
		guard:    guard,
		tx:       tx,
		listings: listings,
		likes:    likes,
		indexer:  indexer,
		emitter:  emitter,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create 상품 등록. 좌표는 보정 없이 검증만 한다
func (s *listingService) Create(ctx context.Context, seller domain.Seller, draft *domain.ListingDraft) (*domain.Listing, error) {
	if seller.ID == "" {
		return nil, common.ErrUnauthorized
	}
	if err := s.validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrValidationFailed, describeValidation(err))
	}
	point := draft.Location.Point()
	if err := point.Validate(); err != nil {
		return nil, err
	}

	listing := &domain.Listing{
		SellerID:        seller.ID,
		SellerName:      seller.Name,
		SellerRating:    seller.Rating,
		Title:           strings.TrimSpace(draft.Title),
		Description:     draft.Description,
		Category:        draft.Category,
		Condition:       draft.Condition,
		Price:           draft.Price,
		OriginalPrice:   draft.OriginalPrice,
		Images:          draft.Images,
		Longitude:       point.Longitude,
		Latitude:        point.Latitude,
		Address:         draft.Location.Address,
		CO2SavedKg:      draft.CO2SavedKg,
		WasteDivertedKg: draft.WasteDivertedKg,
		Status:          domain.ListingStatusActive,
	}
	if err := s.listings.Create(ctx, listing); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	log := pkglogger.WithListing(listing.ID)
	if err := s.indexer.Upsert(ctx, listing); err != nil {
		log.Warn().Err(err).Msg("search index sync failed")
	}
	log.Info().Str("seller_id", seller.ID).Str("category", listing.Category).Msg("listing created")

	s.emitter.Emit(ctx, notify.Notification{
		Kind:      notify.KindNewListingNearby,
		ListingID: listing.ID,
		Payload: map[string]interface{}{
			"title":    listing.Title,
			"category": listing.Category,
			"price":    listing.Price,
			"location": point.Pair(),
		},
	})
	return listing, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "invalid " + strings.Join(fields, ", ")
}

func (s *listingService) Get(ctx context.Context, id uint64) (*domain.Listing, error) {
	return s.listings.FindByID(ctx, id)
}

// UpdateStatus 판매자 상태 변경. 허용: active→reserved/sold, reserved→active/sold
func (s *listingService) UpdateStatus(ctx context.Context, id uint64, sellerID string, status domain.ListingStatus) (*domain.Listing, error) {
	return s.guard.Mutate(ctx, id, "update_status", func(_ *gorm.DB, l *domain.Listing) (bool, error) {
		if l.SellerID != sellerID {
			return false, common.ErrForbidden
		}
		if !l.Status.CanTransition(status) {
			return false, fmt.Errorf("%w: %s -> %s", common.ErrIllegalTransition, l.Status, status)
		}
		switch status {
		case domain.ListingStatusSold:
			markSold(l, s.now())
		default:
			l.Status = status
			l.SoldAt = nil
		}
		return true, nil
	})
}

// Deactivate 판매중 상품 내리기. 모집 중인 공동구매에 참여자가 있으면 불가
func (s *listingService) Deactivate(ctx context.Context, id uint64, sellerID string) error {
	_, err := s.guard.Mutate(ctx, id, "deactivate", func(_ *gorm.DB, l *domain.Listing) (bool, error) {
		if l.SellerID != sellerID {
			return false, common.ErrForbidden
		}
		if l.Status != domain.ListingStatusActive {
			return false, fmt.Errorf("%w: %s -> %s", common.ErrIllegalTransition, l.Status, domain.ListingStatusInactive)
		}
		if l.Pool.Binding(s.now()) {
			return false, fmt.Errorf("%w: pool has participants", common.ErrListingNotEligible)
		}
		l.Status = domain.ListingStatusInactive
		return true, nil
	})
	return err
}

func (s *listingService) ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.Listing, *common.Meta, error) {
	listings, total, err := s.listings.ListBySeller(ctx, sellerID, page, limit)
	if err != nil {
		return nil, nil, err
	}
	return listings, &common.Meta{Page: page, Limit: limit, Total: total}, nil
}

func (s *listingService) IncrementView(ctx context.Context, id uint64) {
	if err := s.listings.IncrementViewCount(ctx, id); err != nil {
		log := pkglogger.WithListing(id)
		log.Debug().Err(err).Msg("view count increment failed")
	}
}

// ToggleLike 좋아요 토글. 반환값은 토글 후 상태
func (s *listingService) ToggleLike(ctx context.Context, id uint64, userID string) (bool, error) {
	if _, err := s.listings.FindByID(ctx, id); err != nil {
		return false, err
	}

	var liked bool
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		likes := s.likes.WithTx(tx)
		listings := s.listings.WithTx(tx)

		removed, err := likes.Delete(ctx, userID, id)
		if err != nil {
			return err
		}
		if removed {
			liked = false
			return listings.IncrementLikeCount(ctx, id, -1)
		}

		if err := likes.Create(ctx, &domain.ListingLike{ListingID: id, UserID: userID}); err != nil {
			if repository.IsDuplicateKey(err) {
				// 동시 요청이 먼저 눌렀음
				liked = true
				return nil
			}
			return err
		}
		liked = true
		return listings.IncrementLikeCount(ctx, id, 1)
	})
	return liked, err
}

func (s *listingService) IsLiked(ctx context.Context, id uint64, userID string) bool {
	if userID == "" {
		return false
	}
	ok, err := s.likes.Exists(ctx, userID, id)
	return err == nil && ok
}
