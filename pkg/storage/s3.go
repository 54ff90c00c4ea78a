package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	appconfig "receiptly/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Path convention inside a bucket: {status}/{userId}/{filename},
// status being one of the constants below.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

var ErrBucketNotAllowed = errors.New("storage bucket is not in the allowed list")

// Gateway wraps an S3-compatible object store. The service only ever
// talks to buckets named in the configured allow-list.
type Gateway struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	allowed       map[string]struct{}
	signedURLTTL  time.Duration
	logger        *zap.Logger
}

func NewGateway(ctx context.Context, cfg *appconfig.StorageConfig, logger *zap.Logger) (*Gateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Non-AWS endpoints (Supabase, MinIO) require path-style addressing
			o.UsePathStyle = true
		}
	})

	allowed := make(map[string]struct{}, len(cfg.AllowedBuckets))
	for _, b := range cfg.AllowedBuckets {
		allowed[b] = struct{}{}
	}

	return &Gateway{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		allowed:       allowed,
		signedURLTTL:  cfg.SignedURLTTL,
		logger:        logger,
	}, nil
}

// ObjectPath builds the canonical object key for a user's file.
func ObjectPath(status, userID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", status, userID, filename)
}

func (g *Gateway) checkBucket(bucket string) error {
	if _, ok := g.allowed[bucket]; !ok {
		return ErrBucketNotAllowed
	}
	return nil
}

func (g *Gateway) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if err := g.checkBucket(bucket); err != nil {
		return "", err
	}

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	g.logger.Info("Object uploaded",
		zap.String("bucket", bucket),
		zap.String("path", path),
		zap.Int("size", len(data)),
	)
	return path, nil
}

func (g *Gateway) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	if err := g.checkBucket(bucket); err != nil {
		return nil, err
	}

	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// SignedURL returns a time-limited read URL for a private object.
func (g *Gateway) SignedURL(ctx context.Context, bucket, path string) (string, error) {
	if err := g.checkBucket(bucket); err != nil {
		return "", err
	}

	req, err := g.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(g.signedURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign object url: %w", err)
	}

	return req.URL, nil
}

// Move relocates an object within one bucket (copy then delete).
// Cross-bucket moves are not supported by the backing store.
func (g *Gateway) Move(ctx context.Context, bucket, src, dst string) error {
	if err := g.checkBucket(bucket); err != nil {
		return err
	}

	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(url.PathEscape(bucket + "/" + src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}

	if err := g.Delete(ctx, bucket, src); err != nil {
		return err
	}

	g.logger.Info("Object moved",
		zap.String("bucket", bucket),
		zap.String("src", src),
		zap.String("dst", dst),
	)
	return nil
}

func (g *Gateway) Delete(ctx context.Context, bucket, path string) error {
	if err := g.checkBucket(bucket); err != nil {
		return err
	}

	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
