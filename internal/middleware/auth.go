package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/pkg/jwt"
	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "userID"
	ctxNickname = "nickname"
	ctxRating   = "rating"
)

// JWTAuth JWT authentication middleware
func JWTAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			common.ErrorResponse(c, http.StatusUnauthorized, "Missing or malformed authorization header", nil)
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				common.ErrorResponse(c, http.StatusUnauthorized, "Token expired", err)
			} else {
				common.ErrorResponse(c, http.StatusUnauthorized, "Invalid token", err)
			}
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth 토큰이 있으면 검증해서 사용자 정보를 넣고, 없거나 잘못되면 익명으로 통과
func OptionalAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := bearerToken(c); ok {
			if claims, err := jwtManager.VerifyToken(tokenString); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set(ctxUserID, claims.GetUserID())
	c.Set(ctxNickname, claims.GetUserName())
	c.Set(ctxRating, claims.Rating)
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// GetNickname extracts nickname from context
func GetNickname(c *gin.Context) string {
	return c.GetString(ctxNickname)
}

// GetRating 판매자 평점
func GetRating(c *gin.Context) float64 {
	return c.GetFloat64(ctxRating)
}

// GetSeller 인증된 사용자를 판매자 정보로
func GetSeller(c *gin.Context) domain.Seller {
	return domain.Seller{
		ID:     GetUserID(c),
		Name:   GetNickname(c),
		Rating: GetRating(c),
	}
}
