package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/middleware"
	"github.com/damoang/angple-groupbuy/internal/search"
	"github.com/damoang/angple-groupbuy/internal/service"
	"github.com/damoang/angple-groupbuy/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// DefaultRadiusMeters radius_m 이 없을 때 검색 반경
const DefaultRadiusMeters = 5000

// ListingHandler handles listing HTTP requests
type ListingHandler struct {
	listings service.ListingService
	index    search.Index
	now      func() time.Time
}

// NewListingHandler creates a new ListingHandler
func NewListingHandler(listings service.ListingService, index search.Index) *ListingHandler {
	return &ListingHandler{listings: listings, index: index, now: time.Now}
}

// listingDetail 상세 응답 (로그인 사용자의 좋아요 여부 포함)
type listingDetail struct {
	*domain.ListingResponse
	Liked bool `json:"liked"`
}

// SearchNearby handles GET /listings/nearby
// @Summary 주변 상품 검색 (가까운 순)
// @Tags listings
// @Produce json
// @Param lon query number true "경도"
// @Param lat query number true "위도"
// @Param radius_m query number false "반경 (m, 기본 5000)"
// @Param category query string false "카테고리"
// @Param active_only query bool false "판매중만"
// @Param pool_only query bool false "공동구매만"
// @Param limit query int false "최대 개수"
// @Success 200 {object} common.APIResponse{data=[]domain.ListingSummary}
// @Router /listings/nearby [get]
func (h *ListingHandler) SearchNearby(c *gin.Context) {
	lon, okLon := ginutil.QueryFloat(c, "lon")
	lat, okLat := ginutil.QueryFloat(c, "lat")
	if !okLon || !okLat {
		common.HandleError(c, fmt.Errorf("%w: lon and lat are required numbers", common.ErrInvalidCoordinates))
		return
	}
	radius, ok := ginutil.QueryFloat(c, "radius_m")
	if !ok {
		radius = DefaultRadiusMeters
	}

	results, err := h.index.FindNear(c.Request.Context(), search.NearQuery{
		Longitude:    lon,
		Latitude:     lat,
		RadiusMeters: radius,
		Category:     c.Query("category"),
		ActiveOnly:   ginutil.QueryBool(c, "active_only", false),
		PoolOnly:     ginutil.QueryBool(c, "pool_only", false),
		Limit:        ginutil.QueryInt(c, "limit", 0),
	})
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.SuccessResponse(c, results, &common.Meta{Total: int64(len(results))})
}

// GetListing handles GET /listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	listing, err := h.listings.Get(c.Request.Context(), id)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	h.listings.IncrementView(c.Request.Context(), id)

	detail := listingDetail{ListingResponse: listing.ToResponse(h.now())}
	if userID := middleware.GetUserID(c); userID != "" {
		detail.Liked = h.listings.IsLiked(c.Request.Context(), id, userID)
	}
	common.SuccessResponse(c, detail, nil)
}

// CreateListing handles POST /listings
// @Summary 상품 등록
// @Tags listings
// @Accept json
// @Produce json
// @Param request body domain.ListingDraft true "상품 정보"
// @Success 201 {object} common.APIResponse{data=domain.ListingResponse}
// @Router /listings [post]
func (h *ListingHandler) CreateListing(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	var draft domain.ListingDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		common.HandleError(c, fmt.Errorf("%w: %v", common.ErrValidationFailed, err))
		return
	}

	listing, err := h.listings.Create(c.Request.Context(), middleware.GetSeller(c), &draft)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.CreatedResponse(c, listing.ToResponse(h.now()))
}

// ListMyListings handles GET /my/listings
func (h *ListingHandler) ListMyListings(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, limit := ginutil.Pagination(c, defaultPageSize, maxPageSize)

	listings, meta, err := h.listings.ListBySeller(c.Request.Context(), userID, page, limit)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	now := h.now()
	items := make([]*domain.ListingResponse, 0, len(listings))
	for _, l := range listings {
		items = append(items, l.ToResponse(now))
	}
	common.SuccessResponse(c, items, meta)
}

// UpdateStatus handles PATCH /listings/:id/status
func (h *ListingHandler) UpdateStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req domain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.HandleError(c, fmt.Errorf("%w: %v", common.ErrValidationFailed, err))
		return
	}

	listing, err := h.listings.UpdateStatus(c.Request.Context(), id, userID, req.Status)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, listing.ToResponse(h.now()), nil)
}

// Deactivate handles DELETE /listings/:id (soft delete)
func (h *ListingHandler) Deactivate(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.listings.Deactivate(c.Request.Context(), id, userID); err != nil {
		common.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleLike handles POST /listings/:id/like
func (h *ListingHandler) ToggleLike(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	liked, err := h.listings.ToggleLike(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"liked": liked}, nil)
}
