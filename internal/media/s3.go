// Package media stores avatars and cover images in an S3-compatible bucket
// and hands back their public URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/iliyamo/videotube-accounts/internal/config"
)

// S3API is the subset of the S3 client used by S3Host.
type S3API interface {
	manager.UploadAPIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Host uploads files to a bucket and deletes them by public URL.
// It is safe for concurrent use.
type S3Host struct {
	client        S3API
	uploader      *manager.Uploader
	bucket        string
	baseURL       string
	uploadTimeout time.Duration
	maxBytes      int64
}

// Option customises an S3Host.
type Option func(*S3Host)

// WithClient replaces the AWS client, typically with a mock.
func WithClient(c S3API) Option {
	return func(h *S3Host) { h.client = c }
}

// NewS3Host builds an S3Host from configuration. Static credentials are used
// when both key id and secret are set; otherwise the default AWS chain applies.
func NewS3Host(ctx context.Context, cfg config.MediaConfig, opts ...Option) (*S3Host, error) {
	if strings.TrimSpace(cfg.Bucket) == "" || strings.TrimSpace(cfg.Region) == "" {
		return nil, ErrInvalidConfig
	}

	h := &S3Host{
		bucket:        cfg.Bucket,
		uploadTimeout: cfg.UploadTimeout,
		maxBytes:      cfg.MaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		h.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	h.uploader = manager.NewUploader(h.client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	h.baseURL = strings.TrimSuffix(baseURL, "/") + "/"
	return h, nil
}

// Upload stores fh under folder with a random name and returns its public URL.
// Only images are accepted; the type is sniffed from content, not trusted
// from the client.
func (h *S3Host) Upload(ctx context.Context, fh *multipart.FileHeader, folder string) (string, error) {
	if fh == nil {
		return "", ErrNoFile
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return "", ErrFileTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()

	contentType, err := sniffImage(src)
	if err != nil {
		return "", err
	}

	key := objectKey(folder, fh.Filename, contentType)

	if h.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.uploadTimeout)
		defer cancel()
	}

	_, err = h.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(key),
		Body:        src,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classifyS3Error(err, "upload "+key)
	}
	return h.URL(key), nil
}

// Delete removes the object behind a URL previously returned by Upload.
func (h *S3Host) Delete(ctx context.Context, url string) error {
	key, ok := h.KeyFromURL(url)
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, "delete "+key)
	}
	return nil
}

// URL returns the public URL for an object key.
func (h *S3Host) URL(key string) string {
	return h.baseURL + strings.TrimPrefix(key, "/")
}

// KeyFromURL reverses URL. It reports false for URLs outside this bucket.
func (h *S3Host) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, h.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, h.baseURL)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func sniffImage(src multipart.File) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return "", ErrNoFile
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	contentType := http.DetectContentType(head[:n])
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return contentType, nil
}

func objectKey(folder, filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" || len(ext) > 6 {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		} else {
			ext = ""
		}
	}
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return uuid.NewString() + ext
	}
	return folder + "/" + uuid.NewString() + ext
}

func classifyS3Error(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrUploadTimeout, operation)
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %s", ErrAccessDenied, operation)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %s", ErrServiceUnavailable, operation)
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("%s failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
