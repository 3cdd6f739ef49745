package handler

import (
	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/service"
	"github.com/damoang/angple-groupbuy/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// PurchaseHandler handles purchase and pickup HTTP requests
type PurchaseHandler struct {
	purchases service.PurchaseService
}

// NewPurchaseHandler creates a new PurchaseHandler
func NewPurchaseHandler(purchases service.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

// Purchase handles POST /listings/:id/purchase
// @Summary 구매 (직접 구매 또는 모집 완료된 공동구매 슬롯)
// @Tags purchases
// @Produce json
// @Param id path int true "상품 ID"
// @Success 201 {object} common.APIResponse{data=domain.PurchaseRecord}
// @Router /listings/{id}/purchase [post]
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.purchases.Purchase(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.CreatedResponse(c, record)
}

// GetPurchase handles GET /purchases/:id
func (h *PurchaseHandler) GetPurchase(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.purchases.Get(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, record, nil)
}

// ListTransitions handles GET /purchases/:id/transitions
func (h *PurchaseHandler) ListTransitions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	transitions, err := h.purchases.ListTransitions(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, transitions, nil)
}

// ListMyPurchases handles GET /my/purchases?role=buyer|seller
func (h *PurchaseHandler) ListMyPurchases(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, limit := ginutil.Pagination(c, defaultPageSize, maxPageSize)
	role := service.PurchaseRole(c.DefaultQuery("role", string(service.RoleBuyer)))

	records, meta, err := h.purchases.ListMine(c.Request.Context(), userID, role, page, limit)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, records, meta)
}

// StartPreparing handles POST /purchases/:id/prepare
func (h *PurchaseHandler) StartPreparing(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.purchases.StartPreparing(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, record, nil)
}

// AdvanceToReady handles POST /purchases/:id/ready
// @Summary 픽업 준비 완료 (판매자)
// @Tags purchases
// @Accept json
// @Produce json
// @Param id path int true "구매 ID"
// @Param request body domain.AdvanceRequest false "픽업 가능 시간대"
// @Success 200 {object} common.APIResponse{data=domain.PurchaseRecord}
// @Router /purchases/{id}/ready [post]
func (h *PurchaseHandler) AdvanceToReady(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req domain.AdvanceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		common.HandleError(c, err)
		return
	}

	record, err := h.purchases.AdvanceToReady(c.Request.Context(), id, userID, req.Window)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, record, nil)
}

// ConfirmPickup handles POST /purchases/:id/pickup
func (h *PurchaseHandler) ConfirmPickup(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.purchases.ConfirmPickup(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, record, nil)
}

// CancelPurchase handles POST /purchases/:id/cancel
func (h *PurchaseHandler) CancelPurchase(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req domain.CancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		common.HandleError(c, err)
		return
	}

	record, err := h.purchases.Cancel(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.SuccessResponse(c, record, nil)
}
