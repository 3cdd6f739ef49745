package handler

import (
	"fmt"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/middleware"
	"github.com/damoang/angple-groupbuy/internal/service"
	"github.com/gin-gonic/gin"
)

// PoolHandler handles group buy pool HTTP requests
type PoolHandler struct {
	pools service.PoolService
}

// NewPoolHandler creates a new PoolHandler
func NewPoolHandler(pools service.PoolService) *PoolHandler {
	return &PoolHandler{pools: pools}
}

// EnableGroupBuy handles POST /listings/:id/pool
// @Summary 공동구매 설정 (판매자)
// @Tags pools
// @Accept json
// @Produce json
// @Param id path int true "상품 ID"
// @Param request body domain.PoolConfig true "정원/할인율/마감"
// @Success 200 {object} common.APIResponse{data=domain.PoolSnapshot}
// @Router /listings/{id}/pool [post]
func (h *PoolHandler) EnableGroupBuy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var cfg domain.PoolConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		common.HandleError(c, fmt.Errorf("%w: %v", common.ErrInvalidPoolConfig, err))
		return
	}

	snap, err := h.pools.EnablePool(c.Request.Context(), id, userID, cfg)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, snap, nil)
}

// GetPool handles GET /listings/:id/pool
func (h *PoolHandler) GetPool(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	snap, err := h.pools.GetPool(c.Request.Context(), id)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, snap, nil)
}

// JoinPool handles POST /listings/:id/pool/join
// @Summary 공동구매 참여
// @Tags pools
// @Produce json
// @Param id path int true "상품 ID"
// @Success 200 {object} common.APIResponse{data=domain.JoinResult}
// @Failure 409 {object} common.APIResponse "POOL_FULL, ALREADY_JOINED, POOL_EXPIRED"
// @Router /listings/{id}/pool/join [post]
func (h *PoolHandler) JoinPool(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req domain.JoinPoolRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		common.HandleError(c, err)
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = middleware.GetNickname(c)
	}

	result, err := h.pools.Join(c.Request.Context(), id, userID, displayName)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, result, nil)
}

// LeavePool handles DELETE /listings/:id/pool/join
func (h *PoolHandler) LeavePool(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	snap, err := h.pools.Leave(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, snap, nil)
}
