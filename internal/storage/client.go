// Package storage keeps finished export bundles in an S3-compatible bucket and hands
// out time-limited download links for them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	bundleContentType = "application/zip"
	exportIDMetaKey   = "Export-Id"

	// S3 rejects presigned links valid for longer than a week.
	maxLinkTTL = 7 * 24 * time.Hour
	minLinkTTL = time.Second
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{minio: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bundle bucket on first start. A bucket created concurrently
// by another worker counts as success.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	makeErr := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if makeErr == nil {
		return nil
	}
	if code := minio.ToErrorResponse(makeErr).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", c.bucket, makeErr)
}

// PutBundle uploads a zip bundle. The object records its export id and a download
// file name taken from the key, so a browser saves it as converted_images_<date>.zip.
func (c *Client) PutBundle(ctx context.Context, objectKey, exportID string, data []byte) error {
	_, err := c.minio.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:        bundleContentType,
		ContentDisposition: attachment(path.Base(objectKey)),
		UserMetadata:       map[string]string{exportIDMetaKey: exportID},
	})
	if err != nil {
		return fmt.Errorf("upload bundle %s: %w", objectKey, err)
	}
	return nil
}

// PresignedGetURL returns a download link for a stored bundle. expiry is clamped to
// what S3 accepts.
func (c *Client) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", attachment(path.Base(objectKey)))

	u, err := c.minio.PresignedGetObject(ctx, c.bucket, objectKey, clampLinkTTL(expiry), params)
	if err != nil {
		return "", fmt.Errorf("presign bundle %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func attachment(fileName string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
}

func clampLinkTTL(d time.Duration) time.Duration {
	return min(max(d, minLinkTTL), maxLinkTTL)
}
