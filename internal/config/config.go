package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 설정
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Storage       StorageConfig       `yaml:"storage"`
	JWT           JWTConfig           `yaml:"jwt"`
	GroupBuy      GroupBuyConfig      `yaml:"groupbuy"`
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"` // debug, release, test
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// DatabaseConfig DB 설정
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // mysql, sqlite
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	Path            string `yaml:"path"` // sqlite 파일 경로
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// GetDSN MySQL DSN 생성
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"` // 알림 발행 채널
}

// ElasticsearchConfig 위치 검색용 Elasticsearch 설정
type ElasticsearchConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// StorageConfig S3 호환 이미지 저장소 설정
type StorageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Bucket          string        `yaml:"bucket"`
	CDNURL          string        `yaml:"cdn_url"`
	BasePath        string        `yaml:"base_path"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	PresignExpiry   time.Duration `yaml:"presign_expiry"`
}

// JWTConfig JWT 설정
type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// GroupBuyConfig 공동구매/거래 정책
type GroupBuyConfig struct {
	MaxCASRetries       int           `yaml:"max_cas_retries"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	AllowEarlyPickup    bool          `yaml:"allow_early_pickup"`
	AutoCheckoutOnFill  bool          `yaml:"auto_checkout_on_fill"`
	PickupWindow        time.Duration `yaml:"pickup_window"`
	MaxSearchRadiusM    float64       `yaml:"max_search_radius_m"`
	DefaultSearchLimit  int           `yaml:"default_search_limit"`
	SearchCacheTTL      time.Duration `yaml:"search_cache_ttl"`
	NearCapacityRemains int           `yaml:"near_capacity_remains"`
}

// Default 기본 설정값
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8090,
			Mode:           "debug",
			RequestTimeout: 10 * time.Second,
			CORSOrigins:    []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			Host:            "localhost",
			Port:            3306,
			DBName:          "groupbuy",
			Path:            "groupbuy.db",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 3600,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
			Channel:  "groupbuy:notifications",
		},
		Elasticsearch: ElasticsearchConfig{
			Index: "groupbuy_listings",
		},
		Storage: StorageConfig{
			Region:        "auto",
			BasePath:      "listings/",
			PresignExpiry: 15 * time.Minute,
		},
		JWT: JWTConfig{
			ExpiresIn: 24 * time.Hour,
		},
		GroupBuy: GroupBuyConfig{
			MaxCASRetries:       3,
			SweepInterval:       time.Minute,
			AllowEarlyPickup:    true,
			PickupWindow:        72 * time.Hour,
			MaxSearchRadiusM:    50000,
			DefaultSearchLimit:  50,
			SearchCacheTTL:      30 * time.Second,
			NearCapacityRemains: 1,
		},
	}
}

// Load YAML 설정 파일 로드 후 환경변수로 덮어쓰기
// 파일이 없으면 기본값 + 환경변수만 사용
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		pkglogger.Warn("config file %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 필수값 검증
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required (JWT_SECRET)")
	}
	if c.GroupBuy.MaxCASRetries < 1 {
		return fmt.Errorf("groupbuy.max_cas_retries must be >= 1")
	}
	if c.GroupBuy.MaxSearchRadiusM <= 0 {
		return fmt.Errorf("groupbuy.max_search_radius_m must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Mode, "GIN_MODE")
	setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v)
	}

	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.DBName, "DB_NAME")
	setString(&cfg.Database.Path, "DB_PATH")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setString(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setBool(&cfg.Elasticsearch.Enabled, "ES_ENABLED")
	if v := os.Getenv("ES_ADDRESSES"); v != "" {
		cfg.Elasticsearch.Addresses = splitAndTrim(v)
	}
	setString(&cfg.Elasticsearch.Username, "ES_USERNAME")
	setString(&cfg.Elasticsearch.Password, "ES_PASSWORD")

	setBool(&cfg.Storage.Enabled, "S3_ENABLED")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&cfg.Storage.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	setString(&cfg.JWT.Secret, "JWT_SECRET")

	setBool(&cfg.GroupBuy.AllowEarlyPickup, "GROUPBUY_ALLOW_EARLY_PICKUP")
	setBool(&cfg.GroupBuy.AutoCheckoutOnFill, "GROUPBUY_AUTO_CHECKOUT")
	setDuration(&cfg.GroupBuy.SweepInterval, "GROUPBUY_SWEEP_INTERVAL")
}

// LogResolved 민감정보를 제외한 최종 설정 로그
func LogResolved(cfg *Config) {
	pkglogger.GetLogger().Info().
		Int("port", cfg.Server.Port).
		Str("db_driver", cfg.Database.Driver).
		Str("db_host", cfg.Database.Host).
		Bool("redis", cfg.Redis.Enabled).
		Bool("elasticsearch", cfg.Elasticsearch.Enabled).
		Bool("storage", cfg.Storage.Enabled).
		Bool("auto_checkout", cfg.GroupBuy.AutoCheckoutOnFill).
		Bool("allow_early_pickup", cfg.GroupBuy.AllowEarlyPickup).
		Dur("sweep_interval", cfg.GroupBuy.SweepInterval).
		Msg("config resolved")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
