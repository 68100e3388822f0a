// Package archive uploads the final snapshot of deleted tournaments to an
// S3-compatible bucket (AWS, Cloudflare R2, MinIO)
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/Billy-Davies-2/ladder-bot/internal/config"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// putter is the part of the S3 client the archiver uses
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes snapshots as JSON objects
type S3Archiver struct {
	client putter
	bucket string
	prefix string
}

// NewS3Archiver builds a client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain applies
func NewS3Archiver(ctx context.Context, cfg appconfig.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("Snapshot archive enabled", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return newS3Archiver(client, cfg.Bucket), nil
}

func newS3Archiver(client putter, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: "tournaments"}
}

// ObjectKey returns where a snapshot is stored:
// tournaments/<channel>/<mode>/<tournament id>.json
func (a *S3Archiver) ObjectKey(snap *models.Snapshot) string {
	channel := strings.ReplaceAll(snap.Tournament.Channel, "/", "_")
	return fmt.Sprintf("%s/%s/%s/%s.json", a.prefix, channel, snap.Tournament.Mode, snap.Tournament.ID)
}

// Archive uploads snap
func (a *S3Archiver) Archive(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := a.ObjectKey(snap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	logger.Info("Archived tournament snapshot", "bucket", a.bucket, "key", key)
	return nil
}
