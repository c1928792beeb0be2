package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/pack"
)

const (
	// DefaultBucket is used when no bucket is configured
	DefaultBucket = "fnpack"

	// DigestMetadataKey carries the hex SHA-256 of an uploaded archive
	DigestMetadataKey = "sha256"

	zipContentType = "application/zip"
)

// Published describes one uploaded (or already present) archive
type Published struct {
	Name    string `json:"name"`
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Publish uploads each artifact in order. An object already holding the same
// digest is left untouched, so publishing twice is a no-op.
func Publish(ctx context.Context, store Storage, bucket, prefix string, artifacts []pack.Artifact, metrics *observability.Metrics) ([]Published, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if err := store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}

	published := make([]Published, 0, len(artifacts))
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		p, err := publishOne(ctx, store, bucket, ObjectKey(prefix, artifact.Path), artifact.Path, metrics)
		if err != nil {
			return published, fmt.Errorf("failed to publish %s: %w", artifact.Name, err)
		}
		p.Name = artifact.Name
		published = append(published, *p)
	}

	return published, nil
}

// ObjectKey joins the prefix and the archive file name with forward slashes
func ObjectKey(prefix, archivePath string) string {
	name := filepath.Base(archivePath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func publishOne(ctx context.Context, store Storage, bucket, key, file string, metrics *observability.Metrics) (p *Published, err error) {
	ctx, span := observability.StartStorageSpan(ctx, "upload", bucket, key)
	start := time.Now()
	var written int64
	defer func() {
		observability.EndSpan(span, err)
		metrics.RecordStorageOperation("upload", bucket, written, time.Since(start), err)
	}()

	digest, size, err := fileDigest(file)
	if err != nil {
		return nil, err
	}

	p = &Published{Bucket: bucket, Key: key, Size: size, SHA256: digest}

	obj, err := store.Stat(ctx, bucket, key)
	switch {
	case errors.Is(err, ErrObjectNotFound):
	case err != nil:
		return nil, err
	case strings.EqualFold(metadataValue(obj.Metadata, DigestMetadataKey), digest):
		log.Debug().Str("bucket", bucket).Str("key", key).Msg("Artifact unchanged, skipping upload")
		p.Skipped = true
		return p, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, err = store.Upload(ctx, bucket, key, f, size, &UploadOptions{
		ContentType: zipContentType,
		Metadata:    map[string]string{DigestMetadataKey: digest},
	})
	if err != nil {
		return nil, err
	}
	written = size

	log.Info().
		Str("provider", store.Name()).
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", size).
		Msg("Artifact published")

	return p, nil
}

func fileDigest(file string) (string, int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), n, nil
}
