package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/middleware"
	"github.com/damoang/angple-groupbuy/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// 목록 조회 기본/최대 크기
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pathID 경로의 :id 파싱. 실패하면 400 응답 후 false
func pathID(c *gin.Context) (uint64, bool) {
	id, err := ginutil.ParamUint64(c, "id")
	if err != nil || id == 0 {
		common.HandleError(c, fmt.Errorf("%w: invalid id %q", common.ErrValidationFailed, c.Param("id")))
		return 0, false
	}
	return id, true
}

// requireUser 인증 사용자 ID. 없으면 401 응답 후 false
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.HandleError(c, common.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// bindOptionalJSON 본문이 비어 있으면 그대로 통과
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", common.ErrValidationFailed, err)
	}
	return nil
}
