// Package storage persists generated artifacts and hands out download URLs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrInvalidKey indicates an object key escapes the store root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Object describes a stored artifact.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// BlobStore writes artifacts and returns time-limited download URLs.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (Object, error)
	URL(ctx context.Context, key string) (string, error)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." || strings.HasPrefix(key, "..") {
		return "", ErrInvalidKey
	}
	return key, nil
}

// MinioConfig configures the MinIO/S3 backed store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// MinioStore stores artifacts in a MinIO bucket and presigns GET URLs.
type MinioStore struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("storage: minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: make bucket: %w", err)
		}
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

// Put uploads data under key.
func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) (Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("storage: put %s: %w", key, err)
	}
	return Object{Key: key, Size: info.Size, ContentType: contentType}, nil
}

// URL presigns a GET URL for key.
func (s *MinioStore) URL(ctx context.Context, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// LocalStore writes artifacts to a directory served by Handler.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore constructs a directory-backed store. baseURL is the public prefix Handler is mounted at.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("storage: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data under key.
func (s *LocalStore) Put(_ context.Context, key, contentType string, data []byte) (Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	return Object{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

// URL returns the public URL for key.
func (s *LocalStore) URL(_ context.Context, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

// Handler serves stored files.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
