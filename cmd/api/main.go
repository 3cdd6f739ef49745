package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/handler"
	"github.com/damoang/angple-groupbuy/internal/lock"
	"github.com/damoang/angple-groupbuy/internal/middleware"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	"github.com/damoang/angple-groupbuy/internal/routes"
	"github.com/damoang/angple-groupbuy/internal/scheduler"
	"github.com/damoang/angple-groupbuy/internal/search"
	"github.com/damoang/angple-groupbuy/internal/service"
	pkgcache "github.com/damoang/angple-groupbuy/pkg/cache"
	pkges "github.com/damoang/angple-groupbuy/pkg/elasticsearch"
	"github.com/damoang/angple-groupbuy/pkg/jwt"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	pkgredis "github.com/damoang/angple-groupbuy/pkg/redis"
	pkgstorage "github.com/damoang/angple-groupbuy/pkg/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	// 로거 초기화
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v", env, dotenvFiles)

	// 설정 로드
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.LogResolved(cfg)

	// DB 연결
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	pkglogger.Info("Connected to %s", cfg.Database.Driver)

	// Redis 연결 (선택: 검색 캐시, 알림 발행, 요청 제한)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(context.Background(), pkgredis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			pkglogger.Warn("Redis unavailable, continuing without cache/pubsub: %v", err)
			redisClient = nil
		} else {
			pkglogger.Info("Connected to Redis")
		}
	}

	// Elasticsearch (선택: 위치 검색 백엔드)
	var esClient *pkges.Client
	if cfg.Elasticsearch.Enabled {
		esClient, err = pkges.NewClient(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password)
		if err != nil {
			pkglogger.Warn("Elasticsearch unavailable, falling back to DB geo index: %v", err)
			esClient = nil
		}
	}

	// S3 호환 이미지 저장소 (선택)
	var presigner handler.Presigner
	if cfg.Storage.Enabled {
		s3Client, err := pkgstorage.NewS3Client(pkgstorage.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
			CDNURL:          cfg.Storage.CDNURL,
			BasePath:        cfg.Storage.BasePath,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
		})
		if err != nil {
			pkglogger.Warn("Image storage disabled: %v", err)
		} else {
			presigner = s3Client
		}
	}

	// 알림
	logger := *pkglogger.GetLogger()
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if redisClient != nil {
		sinks = append(sinks, notify.NewRedisSink(redisClient, cfg.Redis.Channel))
	}
	bus := notify.NewBus(logger, sinks...)

	// 위치 검색
	searchOpts := search.Options{
		MaxRadiusMeters: cfg.GroupBuy.MaxSearchRadiusM,
		DefaultLimit:    cfg.GroupBuy.DefaultSearchLimit,
	}
	listingRepo := repository.NewListingRepository(db)

	var (
		index   search.Index
		indexer search.Indexer
	)
	if esClient != nil {
		esIndex := search.NewESIndex(esClient, cfg.Elasticsearch.Index, searchOpts)
		index, indexer = esIndex, esIndex
	} else {
		index = search.NewDBIndex(listingRepo, searchOpts)
	}
	cacheService := pkgcache.NewService(redisClient)
	if redisClient != nil {
		cached := search.NewCachedIndex(index, indexer, cacheService, cfg.GroupBuy.SearchCacheTTL, searchOpts)
		index, indexer = cached, cached
	}

	// Repositories & Services
	purchaseRepo := repository.NewPurchaseRepository(db)
	likeRepo := repository.NewLikeRepository(db)
	transactor := repository.NewTransactor(db)
	guard := service.NewListingGuard(transactor, listingRepo, lock.NewKeyedMutex(), indexer, cfg.GroupBuy.MaxCASRetries)

	listingService := service.NewListingService(guard, transactor, listingRepo, likeRepo, indexer, bus)
	poolService := service.NewPoolService(guard, listingRepo, purchaseRepo, bus, cfg.GroupBuy)
	purchaseService := service.NewPurchaseService(guard, transactor, purchaseRepo, bus, cfg.GroupBuy)

	// 마감 처리 스케줄러
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(logger, time.Second)
	sched.Register("sweep-expired-pools", cfg.GroupBuy.SweepInterval, func(ctx context.Context) error {
		_, err := poolService.SweepExpired(ctx)
		return err
	})
	sched.Start(ctx)

	// Gin 라우터 생성
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: !containsWildcard(cfg.Server.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics())
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthDeps := map[string]handler.Pinger{}
	if redisClient != nil {
		healthDeps["redis"] = cacheService
	}
	if esClient != nil {
		healthDeps["elasticsearch"] = esClient
	}

	var rateLimiter redis.Scripter
	if redisClient != nil {
		rateLimiter = redisClient
	}

	routes.Setup(router, routes.Handlers{
		Listing:  handler.NewListingHandler(listingService, index),
		Pool:     handler.NewPoolHandler(poolService),
		Purchase: handler.NewPurchaseHandler(purchaseService),
		Upload:   handler.NewUploadHandler(presigner, cfg.Storage.PresignExpiry),
		Health:   handler.NewHealthHandler(db, healthDeps, sched),
	}, routes.Options{
		JWT:         jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn),
		RateLimiter: rateLimiter,
		RateLimit:   middleware.DefaultRateLimitConfig(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		pkglogger.Info("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	pkglogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		pkglogger.Error("Server shutdown error: %v", err)
	}
	sched.Stop()
	if err := bus.Close(shutdownCtx); err != nil {
		pkglogger.Warn("Pending notifications dropped: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	pkglogger.Info("Server stopped")
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// initDB MySQL(운영) / SQLite(로컬) 연결 초기화
func initDB(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	if cfg.Database.Driver == "sqlite" {
		db, err := gorm.Open(sqlite.Open(cfg.Database.Path), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite 는 쓰기 연결 하나
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("DSN 파싱 실패: %w", err)
	}
	if mysqlCfg.Params == nil {
		mysqlCfg.Params = map[string]string{}
	}
	mysqlCfg.Params["time_zone"] = "'+00:00'"

	db, err := gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	return db, nil
}
