// Package storage keeps content snapshots and downloaded logos for extractions,
// on the local filesystem or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docutag/brandscan/slug"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("object not found")

// Store is implemented by every storage backend. Keys are relative,
// slash-separated paths such as content/2025/06/glowstudio-com.md.
type Store interface {
	SaveContent(ctx context.Context, content, name string) (string, error)
	SaveLogo(ctx context.Context, data []byte, name, contentType string) (string, error)
	ReadContent(ctx context.Context, key string) (string, error)
	ReadLogo(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

const (
	contentDir         = "content"
	logoDir            = "logos"
	contentExt         = ".md"
	contentContentType = "text/markdown; charset=utf-8"
)

// Config contains filesystem storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// FileStore stores objects under a base directory
type FileStore struct {
	config Config
	now    func() time.Time
}

// New creates a FileStore, creating the base directory if needed
func New(config Config) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &FileStore{config: config, now: time.Now}, nil
}

// objectKey builds kind/YYYY/MM/name+ext with a slug-safe name
func objectKey(kind, name, ext string, now time.Time, counter int) string {
	base := slug.GenerateWithFallback(name, "brand")
	return path.Join(kind,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		slug.MakeUnique(base, counter)+ext)
}

// SaveContent writes a reduced-content snapshot and returns its key
func (s *FileStore) SaveContent(_ context.Context, content, name string) (string, error) {
	return s.write(contentDir, name, contentExt, []byte(content))
}

// SaveLogo writes logo bytes and returns its key
func (s *FileStore) SaveLogo(_ context.Context, data []byte, name, contentType string) (string, error) {
	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = ".img"
	}
	return s.write(logoDir, name, ext, data)
}

func (s *FileStore) write(kind, name, ext string, data []byte) (string, error) {
	now := s.now()

	// Existing files are never overwritten; a numeric suffix is added instead
	var key string
	for counter := 0; ; counter++ {
		key = objectKey(kind, name, ext, now, counter)
		if !fileExists(s.fullPath(key)) {
			break
		}
	}

	fullPath := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", kind, err)
	}
	return key, nil
}

// ReadContent reads a content snapshot
func (s *FileStore) ReadContent(_ context.Context, key string) (string, error) {
	data, err := s.read(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadLogo reads logo bytes
func (s *FileStore) ReadLogo(_ context.Context, key string) ([]byte, error) {
	return s.read(key)
}

func (s *FileStore) read(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid storage key %q", key)
	}
	data, err := os.ReadFile(s.fullPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes key. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	if err := os.Remove(s.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetFullPath returns the filesystem path for key
func (s *FileStore) GetFullPath(key string) string {
	return s.fullPath(key)
}

func (s *FileStore) fullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

// validKey rejects absolute keys and keys escaping the base directory
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return !os.IsNotExist(err)
}

// extensionFromContentType returns the file extension for a content type
func extensionFromContentType(contentType string) string {
	// Normalize content type (remove charset, etc.)
	contentType = strings.ToLower(strings.Split(contentType, ";")[0])
	contentType = strings.TrimSpace(contentType)

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ""
	}
}
