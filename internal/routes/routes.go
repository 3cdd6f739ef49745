package routes

import (
	"github.com/damoang/angple-groupbuy/internal/handler"
	"github.com/damoang/angple-groupbuy/internal/middleware"
	"github.com/damoang/angple-groupbuy/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers 라우트에 연결할 핸들러 묶음
type Handlers struct {
	Listing  *handler.ListingHandler
	Pool     *handler.PoolHandler
	Purchase *handler.PurchaseHandler
	Upload   *handler.UploadHandler
	Health   *handler.HealthHandler
}

// Options 인증/요청 제한 설정
type Options struct {
	JWT *jwt.Manager
	// nil 이면 요청 제한 없음
	RateLimiter redis.Scripter
	RateLimit   middleware.RateLimitConfig
}

// Setup configures all API routes
func Setup(router *gin.Engine, h Handlers, opts Options) {
	if h.Health != nil {
		router.GET("/health", h.Health.Health)
	}

	auth := middleware.JWTAuth(opts.JWT)
	optionalAuth := middleware.OptionalAuth(opts.JWT)
	// 참여/구매처럼 경합이 몰리는 쓰기 요청만 제한
	limited := middleware.RateLimit(opts.RateLimiter, opts.RateLimit)

	api := router.Group("/api/v1")

	// 상품
	listings := api.Group("/listings")
	{
		listings.GET("/nearby", h.Listing.SearchNearby) // 주변 검색 (공개)
		listings.GET("/:id", optionalAuth, h.Listing.GetListing)
		listings.POST("", auth, h.Listing.CreateListing)
		listings.PATCH("/:id/status", auth, h.Listing.UpdateStatus) // 판매자
		listings.DELETE("/:id", auth, h.Listing.Deactivate)         // 판매자 (soft delete)
		listings.POST("/:id/like", auth, h.Listing.ToggleLike)

		// 공동구매
		listings.GET("/:id/pool", h.Pool.GetPool)
		listings.POST("/:id/pool", auth, h.Pool.EnableGroupBuy) // 판매자
		listings.POST("/:id/pool/join", auth, limited, h.Pool.JoinPool)
		listings.DELETE("/:id/pool/join", auth, h.Pool.LeavePool)

		listings.POST("/:id/purchase", auth, limited, h.Purchase.Purchase)
	}

	// 거래 (구매자/판매자)
	purchases := api.Group("/purchases", auth)
	{
		purchases.GET("/:id", h.Purchase.GetPurchase)
		purchases.GET("/:id/transitions", h.Purchase.ListTransitions)
		purchases.POST("/:id/prepare", h.Purchase.StartPreparing) // 판매자
		purchases.POST("/:id/ready", h.Purchase.AdvanceToReady)   // 판매자
		purchases.POST("/:id/pickup", h.Purchase.ConfirmPickup)   // 구매자
		purchases.POST("/:id/cancel", h.Purchase.CancelPurchase)
	}

	my := api.Group("/my", auth)
	{
		my.GET("/listings", h.Listing.ListMyListings)
		my.GET("/purchases", h.Purchase.ListMyPurchases)
	}

	if h.Upload != nil {
		api.POST("/uploads/images", auth, h.Upload.PresignImage)
	}
}
