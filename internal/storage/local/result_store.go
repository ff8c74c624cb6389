// Package local stores session results as JSON files on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/storage"
)

// Config captures the parameters for the local result store.
type Config struct {
	// BaseDir is the root directory session files are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ResultStore writes one <session>.json file per session key.
type ResultStore struct {
	baseDir string
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*ResultStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ResultStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// PutResults replaces the session file. The write goes through a temp file
// and a rename so readers never see a partial document.
func (s *ResultStore) PutResults(_ context.Context, sessionKey string, records []crawler.PatentRecord) error {
	fullPath, err := s.pathFor(sessionKey)
	if err != nil {
		return err
	}
	data, err := storage.Encode(records)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.baseDir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// GetResults reads the session file back.
func (s *ResultStore) GetResults(_ context.Context, sessionKey string) ([]crawler.PatentRecord, error) {
	fullPath, err := s.pathFor(sessionKey)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to baseDir by pathFor.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, crawler.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return storage.Decode(data)
}

func (s *ResultStore) pathFor(sessionKey string) (string, error) {
	if err := storage.ValidateKey(sessionKey); err != nil {
		return "", err
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, storage.ObjectName("", sessionKey)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
