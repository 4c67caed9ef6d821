package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"poolguard/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader stores alert frame thumbnails in object storage.
// Params: MinIO client, target bucket, and public URL base.
// Returns: best-effort thumbnail persistence for dispatched alerts.
type Uploader struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// New creates a thumbnail uploader from config.
// Params: thumbnails section; a disabled section returns a nil uploader.
// Returns: uploader handle or client setup error.
func New(cfg config.ThumbnailsConfig) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// ensureBucket creates the thumbnail bucket when absent.
// Params: context for storage calls.
// Returns: bucket readiness error.
func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores one JPEG frame under the alert id.
// Params: context, alert id, and raw JPEG bytes.
// Returns: public thumbnail URL or upload error.
func (u *Uploader) Upload(ctx context.Context, alertID string, frame []byte) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %q: %w", u.bucket, err)
	}

	objectName := alertID + ".jpg"
	_, err := u.client.PutObject(
		ctx,
		u.bucket,
		objectName,
		bytes.NewReader(frame),
		int64(len(frame)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}

	if u.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", u.publicBaseURL, u.bucket, objectName), nil
	}
	return fmt.Sprintf("%s/%s/%s", u.client.EndpointURL().String(), u.bucket, objectName), nil
}
