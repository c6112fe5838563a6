// Package storage keeps the uploaded handin archives in object storage
// until a runner claims them for execution.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/config"
)

var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveStore stores and retrieves handin archives by object key.
type ArchiveStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	// FetchToFile downloads the archive into dir and returns the local
	// path, so the extractor can do seekable reads over it.
	FetchToFile(ctx context.Context, key, dir string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

type minioStore struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

// NewMinIOStore connects to the object storage endpoint. The bucket is
// created lazily, so a cold storage backend does not block startup.
func NewMinIOStore(cfg config.StorageConfig, logger zerolog.Logger) (ArchiveStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Bool("ssl", cfg.UseSSL).
		Msg("Connected to MinIO")

	return &minioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

func (s *minioStore) ensureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.bucketEnsured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("Created new bucket")
	}

	s.bucketEnsured = true
	return nil
}

func (s *minioStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("etag", info.ETag).
		Int64("size", size).
		Msg("Archive uploaded to MinIO")

	return nil
}

func (s *minioStore) FetchToFile(ctx context.Context, key, dir string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get archive: %w", err)
	}
	defer obj.Close()

	local := filepath.Join(dir, filepath.Base(key))
	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, obj); err != nil {
		f.Close()
		os.Remove(local)
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrArchiveNotFound
		}
		return "", fmt.Errorf("failed to download archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("key", key).
		Str("path", local).
		Msg("Archive downloaded from MinIO")

	return local, nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

func (s *minioStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check archive: %w", err)
	}
	return true, nil
}

func (s *minioStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.ListBuckets(ctx)
	return err
}
