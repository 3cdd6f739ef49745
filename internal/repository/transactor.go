package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Transactor 여러 저장소에 걸친 작업을 하나의 트랜잭션으로 묶는다
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor 트랜잭션 관리자 생성
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

// IsDuplicateKey 유니크 제약 위반 여부 (TranslateError 미설정 드라이버 대비)
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
