// Package gcs stores session results as JSON objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	pstorage "github.com/JakeFAU/patent-crawler/internal/storage"
)

// Config captures the parameters required to address session objects.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// ResultStore writes one JSON object per session key.
type ResultStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed result store. The caller owns client.
func New(client *storage.Client, cfg Config) (*ResultStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ResultStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// PutResults overwrites the session object.
func (s *ResultStore) PutResults(ctx context.Context, sessionKey string, records []crawler.PatentRecord) error {
	if err := pstorage.ValidateKey(sessionKey); err != nil {
		return err
	}
	data, err := pstorage.Encode(records)
	if err != nil {
		return err
	}
	name := pstorage.ObjectName(s.prefix, sessionKey)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}

// GetResults downloads and decodes the session object.
func (s *ResultStore) GetResults(ctx context.Context, sessionKey string) ([]crawler.PatentRecord, error) {
	if err := pstorage.ValidateKey(sessionKey); err != nil {
		return nil, err
	}
	name := pstorage.ObjectName(s.prefix, sessionKey)
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, crawler.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return pstorage.Decode(data)
}
