package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 서명/형식이 잘못된 토큰
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 만료된 토큰
	ErrExpiredToken = errors.New("token expired")
)

const issuer = "angple-groupbuy"

// Claims 액세스 토큰 페이로드
// 외부 인증 서버 형식(mb_id, mb_name)도 함께 받는다
type Claims struct {
	jwt.RegisteredClaims
	UserID   string  `json:"user_id,omitempty"`
	Nickname string  `json:"nickname,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	// 외부 인증 서버 형식
	MbID   string `json:"mb_id,omitempty"`
	MbName string `json:"mb_name,omitempty"`
}

// GetUserID returns the user ID, checking both formats
func (c *Claims) GetUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.MbID
}

// GetUserName returns the user name, checking both formats
func (c *Claims) GetUserName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.MbName
}

// Manager HS256 토큰 발급/검증
type Manager struct {
	secretKey []byte
	expiresIn time.Duration
}

// NewManager JWT 매니저 생성
func NewManager(secret string, expiresIn time.Duration) *Manager {
	return &Manager{
		secretKey: []byte(secret),
		expiresIn: expiresIn,
	}
}

// GenerateToken 액세스 토큰 발급
func (m *Manager) GenerateToken(userID, nickname string, rating float64) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiresIn)),
		},
		UserID:   userID,
		Nickname: nickname,
		Rating:   rating,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 토큰 검증
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.GetUserID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
