package repository

import (
	"context"

	"github.com/damoang/angple-groupbuy/internal/domain"
	"gorm.io/gorm"
)

// LikeRepository 좋아요 저장소 인터페이스
type LikeRepository interface {
	WithTx(tx *gorm.DB) LikeRepository
	Create(ctx context.Context, like *domain.ListingLike) error
	Delete(ctx context.Context, userID string, listingID uint64) (bool, error)
	Exists(ctx context.Context, userID string, listingID uint64) (bool, error)
	GetLikedListingIDs(ctx context.Context, userID string, listingIDs []uint64) (map[uint64]bool, error)
}

type likeRepository struct {
	db *gorm.DB
}

// NewLikeRepository 좋아요 저장소 생성
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{db: db}
}

func (r *likeRepository) WithTx(tx *gorm.DB) LikeRepository {
	return &likeRepository{db: tx}
}

func (r *likeRepository) Create(ctx context.Context, like *domain.ListingLike) error {
	return r.db.WithContext(ctx).Create(like).Error
}

// Delete 삭제된 행이 있으면 true
func (r *likeRepository) Delete(ctx context.Context, userID string, listingID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Delete(&domain.ListingLike{})
	return res.RowsAffected > 0, res.Error
}

func (r *likeRepository) Exists(ctx context.Context, userID string, listingID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ListingLike{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&count).Error
	return count > 0, err
}

func (r *likeRepository) GetLikedListingIDs(ctx context.Context, userID string, listingIDs []uint64) (map[uint64]bool, error) {
	if len(listingIDs) == 0 {
		return make(map[uint64]bool), nil
	}

	var likes []domain.ListingLike
	err := r.db.WithContext(ctx).Select("listing_id").
		Where("user_id = ? AND listing_id IN ?", userID, listingIDs).
		Find(&likes).Error
	if err != nil {
		return nil, err
	}

	result := make(map[uint64]bool, len(likes))
	for _, like := range likes {
		result[like.ListingID] = true
	}
	return result, nil
}
