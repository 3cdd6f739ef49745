package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/search"
	pkges "github.com/damoang/angple-groupbuy/pkg/elasticsearch"
	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	withES := flag.Bool("es", false, "create the Elasticsearch listing index")
	reindex := flag.Bool("reindex", false, "re-index active and reserved listings into Elasticsearch")
	batchSize := flag.Int("batch-size", 500, "reindex batch size")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	var dialector gorm.Dialector
	if cfg.Database.Driver == "sqlite" {
		dialector = sqlite.Open(cfg.Database.Path)
	} else {
		dialector = mysql.Open(cfg.Database.GetDSN())
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	start := time.Now()
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		log.Fatalf("[migrate] schema FAILED: %v", err)
	}
	log.Printf("[migrate] Schema ready in %v", time.Since(start))

	if !*withES && !*reindex {
		return
	}

	es, err := pkges.NewClient(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password)
	if err != nil {
		log.Fatalf("Failed to connect to Elasticsearch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := es.CreateIndex(ctx, cfg.Elasticsearch.Index, pkges.ListingIndexMapping()); err != nil {
		log.Fatalf("[migrate] index %s FAILED: %v", cfg.Elasticsearch.Index, err)
	}
	log.Printf("[migrate] Index %s ready", cfg.Elasticsearch.Index)

	if *reindex {
		n, err := runReindex(ctx, db, search.NewESIndex(es, cfg.Elasticsearch.Index, search.Options{}), *batchSize)
		if err != nil {
			log.Fatalf("[migrate] reindex FAILED after %d listings: %v", n, err)
		}
		log.Printf("[migrate] Re-indexed %d listings in %v", n, time.Since(start))
	}
}

// runReindex 검색 대상 상품을 배치 단위로 다시 색인
func runReindex(ctx context.Context, db *gorm.DB, indexer search.Indexer, batchSize int) (int, error) {
	var (
		batch []*domain.Listing
		total int
	)
	result := db.WithContext(ctx).
		Where("status IN ?", []domain.ListingStatus{domain.ListingStatusActive, domain.ListingStatusReserved}).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for _, l := range batch {
				if err := indexer.Upsert(ctx, l); err != nil {
					return err
				}
				total++
			}
			return nil
		})
	if result.Error != nil {
		return total, result.Error
	}
	return total, nil
}
