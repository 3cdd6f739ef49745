package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pkglogger "github.com/damoang/angple-groupbuy/pkg/logger"
	"github.com/google/uuid"
)

// AllowedImageTypes 업로드 허용 이미지 Content-Type → 확장자
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// S3Client wraps the AWS S3 client for S3/R2/MinIO compatible storage
type S3Client struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	cdnURL   string // optional CDN base URL
	basePath string // prefix for all objects (e.g. "listings/")
}

// S3Config holds S3-compatible storage configuration
type S3Config struct {
	Endpoint        string // e.g. https://xxx.r2.cloudflarestorage.com
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	CDNURL          string
	BasePath        string
	ForcePathStyle  bool // true for MinIO/R2
}

// NewS3Client creates a new S3-compatible storage client
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}

	client := s3.New(s3.Options{}, opts)

	pkglogger.GetLogger().Info().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 storage client initialized")

	return &S3Client{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		cdnURL:   strings.TrimRight(cfg.CDNURL, "/"),
		basePath: cfg.BasePath,
	}, nil
}

// PresignedUpload 클라이언트가 직접 PUT 할 수 있는 업로드 정보
type PresignedUpload struct {
	UploadURL   string    `json:"upload_url"`
	Method      string    `json:"method"`
	Key         string    `json:"key"`
	PublicURL   string    `json:"public_url"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PresignUpload 상품 이미지 업로드용 pre-signed PUT URL 발급
func (c *S3Client) PresignUpload(ctx context.Context, ownerID, contentType string, expiry time.Duration) (*PresignedUpload, error) {
	ext, ok := AllowedImageTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	key := c.basePath + GenerateKey(ownerID, ext)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	result, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("presign failed: %w", err)
	}

	return &PresignedUpload{
		UploadURL:   result.URL,
		Method:      result.Method,
		Key:         key,
		PublicURL:   c.PublicURL(key),
		ContentType: contentType,
		ExpiresAt:   time.Now().Add(expiry).UTC(),
	}, nil
}

// PublicURL returns the CDN URL for a given key, falling back to S3 URL
func (c *S3Client) PublicURL(key string) string {
	if c.cdnURL != "" {
		return c.cdnURL + "/" + (&url.URL{Path: key}).EscapedPath()
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucket, key)
}

// GenerateKey creates a unique storage key with date prefix
func GenerateKey(prefix, ext string) string {
	now := time.Now().UTC()
	return path.Join(prefix, fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+ext)
}
