package repository

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"gorm.io/gorm"
)

// ErrDuplicateActive 활성 키 또는 픽업 코드 유니크 제약 위반
var ErrDuplicateActive = errors.New("duplicate active purchase")

// PurchaseRepository 구매 기록 저장소 인터페이스
type PurchaseRepository interface {
	WithTx(tx *gorm.DB) PurchaseRepository

	// 생성/상태 변경
	Create(ctx context.Context, record *domain.PurchaseRecord) error
	TransitionStatus(ctx context.Context, record *domain.PurchaseRecord, from domain.PurchaseStatus) error

	// 조회
	FindByID(ctx context.Context, id uint64) (*domain.PurchaseRecord, error)
	ExistsActiveKey(ctx context.Context, key string) (bool, error)
	PickupCodeExists(ctx context.Context, code string) (bool, error)
	CountActiveByListing(ctx context.Context, listingID uint64) (int64, error)
	ListByBuyer(ctx context.Context, buyerID string, page, limit int) ([]*domain.PurchaseRecord, int64, error)
	ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.PurchaseRecord, int64, error)

	// 전이 이력
	CreateTransition(ctx context.Context, t *domain.PurchaseTransition) error
	ListTransitions(ctx context.Context, recordID uint64) ([]*domain.PurchaseTransition, error)
}

type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository 구매 기록 저장소 생성
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) WithTx(tx *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: tx}
}

// Create 구매 기록 생성. 활성 키/픽업 코드 충돌 시 ErrDuplicateActive
func (r *purchaseRepository) Create(ctx context.Context, record *domain.PurchaseRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateActive
	}
	return err
}

// TransitionStatus 현재 상태가 from 일 때만 상태와 관련 필드를 갱신한다
func (r *purchaseRepository) TransitionStatus(ctx context.Context, record *domain.PurchaseRecord, from domain.PurchaseStatus) error {
	res := r.db.WithContext(ctx).
		Model(&domain.PurchaseRecord{}).
		Where("id = ? AND status = ?", record.ID, from).
		Updates(map[string]interface{}{
			"status":              record.Status,
			"active_key":          record.ActiveKey,
			"cancel_reason":       record.CancelReason,
			"pickup_window_start": record.PickupWindowStart,
			"pickup_window_end":   record.PickupWindowEnd,
			"picked_up_at":        record.PickedUpAt,
			"cancelled_at":        record.CancelledAt,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrConflict
	}
	return nil
}

func (r *purchaseRepository) FindByID(ctx context.Context, id uint64) (*domain.PurchaseRecord, error) {
	var record domain.PurchaseRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrPurchaseNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *purchaseRepository) ExistsActiveKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.PurchaseRecord{}).
		Where("active_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// CountActiveByListing 취소되지 않은 기록 수
func (r *purchaseRepository) CountActiveByListing(ctx context.Context, listingID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.PurchaseRecord{}).
		Where("listing_id = ? AND status <> ?", listingID, domain.PurchaseStatusCancelledRefunded).
		Count(&count).Error
	return count, err
}

func (r *purchaseRepository) ListByBuyer(ctx context.Context, buyerID string, page, limit int) ([]*domain.PurchaseRecord, int64, error) {
	return r.list(ctx, "buyer_id = ?", buyerID, page, limit)
}

func (r *purchaseRepository) ListBySeller(ctx context.Context, sellerID string, page, limit int) ([]*domain.PurchaseRecord, int64, error) {
	return r.list(ctx, "seller_id = ?", sellerID, page, limit)
}

func (r *purchaseRepository) list(ctx context.Context, cond string, arg string, page, limit int) ([]*domain.PurchaseRecord, int64, error) {
	var records []*domain.PurchaseRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.PurchaseRecord{}).Where(cond, arg)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *purchaseRepository) CreateTransition(ctx context.Context, t *domain.PurchaseTransition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *purchaseRepository) ListTransitions(ctx context.Context, recordID uint64) ([]*domain.PurchaseTransition, error) {
	var transitions []*domain.PurchaseTransition
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("id ASC").
		Find(&transitions).Error
	return transitions, err
}

// PickupCodeExists 픽업 코드 사용 여부
func (r *purchaseRepository) PickupCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.PurchaseRecord{}).
		Where("pickup_code = ?", code).
		Count(&count).Error
	return count > 0, err
}
