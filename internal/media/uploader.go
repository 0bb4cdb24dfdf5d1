package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// UploaderConfig configures the S3-compatible screenshot store.
type UploaderConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	PublicBaseURL   string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Uploader pushes normalized screenshots to an S3-compatible bucket and
// returns the URL that replaces the inline payload in persisted
// browser_state messages.
type Uploader struct {
	client  *s3.Client
	bucket  string
	prefix  string
	baseURL string
	region  string
}

// NewUploader creates an S3-backed screenshot uploader.
func NewUploader(ctx context.Context, cfg *UploaderConfig) (*Uploader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("uploader config is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		region:  region,
	}, nil
}

// UploadScreenshot stores one screenshot and returns its public URL.
// Keys are namespaced by thread so retention policies can sweep per
// thread.
func (u *Uploader) UploadScreenshot(ctx context.Context, threadID string, shot *ScreenshotResult) (string, error) {
	if shot == nil || len(shot.Buffer) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}

	ext := "jpg"
	if shot.ContentType == "image/png" {
		ext = "png"
	}
	key := u.objectKey(threadID, fmt.Sprintf("%s.%s", uuid.NewString(), ext))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(shot.Buffer),
		ContentType: &shot.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}

	return u.publicURL(key), nil
}

func (u *Uploader) objectKey(threadID, name string) string {
	parts := []string{}
	if u.prefix != "" {
		parts = append(parts, u.prefix)
	}
	parts = append(parts, "screenshots", threadID, name)
	return path.Join(parts...)
}

func (u *Uploader) publicURL(key string) string {
	if u.baseURL != "" {
		return u.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}
