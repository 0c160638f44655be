/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Source fetches the bytes of a remote media item. Implementations return the
// total size when known, otherwise -1.
type Source interface {
	Fetch(ctx context.Context, location string) (io.ReadCloser, int64, error)
}

// HTTPSource downloads media over plain HTTP(S).
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates an HTTP media source.
func NewHTTPSource() *HTTPSource {
	return &HTTPSource{
		client: &http.Client{
			// No overall timeout: media downloads are long-running and are
			// cancelled through the request context instead.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Fetch opens a streaming GET for the location.
func (h *HTTPSource) Fetch(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch %s: unexpected status %d", location, resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

// S3Config carries credentials for s3:// media locations.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	UsePathStyle    bool   // Required for MinIO
}

// S3Source downloads media from S3-compatible object storage. Locations use
// the form s3://bucket/key.
type S3Source struct {
	client *s3.Client
	logger zerolog.Logger
}

// NewS3Source creates an S3 media source.
func NewS3Source(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Source{
		client: client,
		logger: logger.With().Str("component", "s3_source").Logger(),
	}, nil
}

// Fetch streams an object identified by an s3://bucket/key location.
func (s *S3Source) Fetch(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, 0, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get s3 object %s: %w", location, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func parseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 location %q", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 location %q missing object key", location)
	}
	return u.Host, key, nil
}
