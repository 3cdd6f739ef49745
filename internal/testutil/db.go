// Package testutil 테스트 공용 헬퍼
package testutil

import (
	"testing"

	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestDB 마이그레이션까지 끝난 인메모리 SQLite.
// 커넥션을 하나로 고정하므로 트랜잭션 안에서는 반드시 tx 핸들만 써야 한다
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to open test db")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return db
}
