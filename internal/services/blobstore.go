package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/commitlore/backend/internal/config"
	"google.golang.org/api/option"
)

// BlobStore persists rendered report artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited download URL. disposition is the
	// Content-Disposition sent back by the storage service, e.g.
	// `attachment; filename="report.pdf"`.
	SignedURL(key, disposition string, expires time.Duration) (string, error)
	Close() error
}

// GCSBlobStore implements BlobStore on Google Cloud Storage with V4
// signed URLs.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	signer *config.StorageConfig
}

func NewGCSBlobStore(ctx context.Context, cfg *config.StorageConfig) (*GCSBlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	var client *storage.Client
	var err error
	if cfg.CredentialsJSON != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	return &GCSBlobStore{
		client: client,
		bucket: cfg.Bucket,
		signer: cfg,
	}, nil
}

func (s *GCSBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}
	return nil
}

func (s *GCSBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GCSBlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return nil
	}
	return err
}

func (s *GCSBlobStore) SignedURL(key, disposition string, expires time.Duration) (string, error) {
	if s.signer.SignerEmail == "" || s.signer.SignerPrivateKey == "" {
		return "", errors.New("storage signer credentials are not configured")
	}

	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: s.signer.SignerEmail,
		PrivateKey:     []byte(s.signer.SignerPrivateKey),
	}
	if disposition != "" {
		opts.QueryParameters = map[string][]string{
			"response-content-disposition": {disposition},
		}
	}

	return storage.SignedURL(s.bucket, key, opts)
}

func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
