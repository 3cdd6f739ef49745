package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/damoang/angple-groupbuy/internal/scheduler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Pinger 선택 의존성 상태 확인 (Redis, Elasticsearch 등)
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 서버 상태
type HealthHandler struct {
	db        *gorm.DB
	deps      map[string]Pinger
	scheduler *scheduler.Scheduler
}

// NewHealthHandler deps 는 이름 → 상태 확인. 실패해도 degraded 로만 표시
func NewHealthHandler(db *gorm.DB, deps map[string]Pinger, sched *scheduler.Scheduler) *HealthHandler {
	return &HealthHandler{db: db, deps: deps, scheduler: sched}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := gin.H{}

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "down"
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "checks": checks})
		return
	}
	checks["database"] = "up"

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "down"
			status = "degraded"
			continue
		}
		checks[name] = "up"
	}

	resp := gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC(),
	}
	if h.scheduler != nil {
		resp["scheduler"] = h.scheduler.Tasks()
	}
	c.JSON(http.StatusOK, resp)
}
