package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"client_go/internal/domain"
)

// S3Config holds configuration for S3 uploads. It also works against MinIO
// with an Endpoint and UsePathStyle.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// URLExpiry is the lifetime of the presigned GET URL put on attachments.
	URLExpiry time.Duration
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Uploader puts files directly into a bucket and hands out presigned URLs.
type S3Uploader struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
	newID   func() string
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", domain.ErrInvalidInput)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 7 * 24 * time.Hour
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Uploader{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		expiry:  cfg.URLExpiry,
		newID:   uuid.NewString,
	}, nil
}

// Upload ignores token: access is governed by the bucket credentials.
func (u *S3Uploader) Upload(ctx context.Context, f domain.LocalFile, _ string) (domain.Attachment, error) {
	att, err := describe(f)
	if err != nil {
		return domain.Attachment{}, err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	key := u.prefix + objectName(u.newID(), att.OriginalName)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentType:   aws.String(att.MimeType),
		ContentLength: aws.Int64(att.Size),
	})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("put object %s: %w", key, err)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.expiry))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("presign %s: %w", key, err)
	}

	att.ID = key
	att.URL = req.URL
	return att, nil
}

var _ domain.Uploader = (*S3Uploader)(nil)
