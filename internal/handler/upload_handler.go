package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/pkg/storage"
	"github.com/gin-gonic/gin"
)

// Presigner 업로드 URL 발급기 (S3 호환 저장소)
type Presigner interface {
	PresignUpload(ctx context.Context, ownerID, contentType string, expiry time.Duration) (*storage.PresignedUpload, error)
}

// UploadHandler 상품 이미지 업로드 URL 발급
type UploadHandler struct {
	presigner Presigner
	expiry    time.Duration
}

// NewUploadHandler presigner 가 nil 이면 업로드 비활성 (503)
func NewUploadHandler(presigner Presigner, expiry time.Duration) *UploadHandler {
	return &UploadHandler{presigner: presigner, expiry: expiry}
}

// PresignImageRequest 업로드할 이미지 형식
type PresignImageRequest struct {
	ContentType string `json:"content_type" binding:"required"`
}

// PresignImage handles POST /uploads/images
// 클라이언트는 받은 URL 로 직접 PUT 한 뒤 public_url 을 상품 images 에 넣는다
func (h *UploadHandler) PresignImage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if h.presigner == nil {
		common.HandleError(c, fmt.Errorf("%w: image storage disabled", common.ErrUnavailable))
		return
	}

	var req PresignImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.HandleError(c, fmt.Errorf("%w: %v", common.ErrValidationFailed, err))
		return
	}
	if _, allowed := storage.AllowedImageTypes[req.ContentType]; !allowed {
		common.HandleError(c, fmt.Errorf("%w: unsupported content type %q", common.ErrValidationFailed, req.ContentType))
		return
	}

	upload, err := h.presigner.PresignUpload(c.Request.Context(), userID, req.ContentType, h.expiry)
	if err != nil {
		common.HandleError(c, fmt.Errorf("%w: %v", common.ErrUnavailable, err))
		return
	}
	common.CreatedResponse(c, upload)
}
