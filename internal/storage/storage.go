// Package storage publishes packaged artifacts to a local directory or an
// S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fluxbase-eu/fnpack/internal/config"
)

// Object represents a stored file
type Object struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// UploadOptions contains options for uploading files
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ErrObjectNotFound is returned by Stat for a missing object
var ErrObjectNotFound = errors.New("object not found")

// Storage defines the operations publishing needs
type Storage interface {
	// Name returns the provider name
	Name() string

	// Health checks that the storage is reachable
	Health(ctx context.Context) error

	// EnsureBucket creates the bucket when it does not exist
	EnsureBucket(ctx context.Context, bucket string) error

	// Upload stores data under bucket/key, replacing an existing object
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)

	// Stat returns the object's attributes and metadata without its content,
	// or an error wrapping ErrObjectNotFound
	Stat(ctx context.Context, bucket, key string) (*Object, error)
}

// NewFromConfig creates the storage provider selected by configuration
func NewFromConfig(cfg *config.StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		provider, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		endpoint, useSSL := s3Endpoint(cfg.S3Endpoint, cfg.S3UseSSL)
		provider, err := NewS3Storage(endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, useSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// s3Endpoint strips the scheme from an endpoint, letting an explicit scheme
// decide SSL. An empty endpoint means AWS S3.
func s3Endpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case endpoint == "":
		return "s3.amazonaws.com", true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, useSSL
	}
}

// metadataValue looks a key up case-insensitively; S3 returns user metadata
// with canonical header casing
func metadataValue(metadata map[string]string, key string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
