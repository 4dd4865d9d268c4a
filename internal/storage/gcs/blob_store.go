// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object path.
	Prefix string `mapstructure:"prefix"`
	// SkipExisting leaves an existing object untouched. Archive paths are
	// content hashes, so an existing object already holds the same bytes.
	SkipExisting bool `mapstructure:"skip_existing"`
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	prefix       string
	skipExisting bool
	owned        bool
}

// New creates a GCS-backed blob store around an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		skipExisting: cfg.SkipExisting,
	}, nil
}

// Open creates a client from Application Default Credentials and checks
// that the bucket is reachable before returning.
func Open(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	s, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := objectPath
	if s.prefix != "" {
		name = path.Join(s.prefix, objectPath)
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)

	obj := s.client.Bucket(s.bucket).Object(name)
	if s.skipExisting {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		if s.skipExisting && preconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return uri, nil
}

// Close releases the client when Open created it.
func (s *BlobStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
