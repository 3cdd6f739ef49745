package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout 요청 컨텍스트에 마감 시간을 건다. 잠금 대기와 DB 호출이 이 컨텍스트를 따른다
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
