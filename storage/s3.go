package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "cpi_pulse/config"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// S3Archive keeps a content-addressed copy of every fetched source workbook
// in S3-compatible storage.
type S3Archive struct {
	client *s3.Client
	bucket string
}

func NewS3Archive(ctx context.Context, cfg appconfig.S3Config) (*S3Archive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ArchiveKey is sources/{hash_prefix}/{hash}.xlsx for the workbook bytes.
func ArchiveKey(data []byte) string {
	hash := sha256.Sum256(data)
	sum := hex.EncodeToString(hash[:])
	return fmt.Sprintf("sources/%s/%s.xlsx", sum[:2], sum)
}

// Archive uploads the workbook and returns its key.
func (a *S3Archive) Archive(ctx context.Context, data []byte) (string, error) {
	key := ArchiveKey(data)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(xlsxContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}
