package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"citygen/internal/domain"
)

// FileStore persists media artifacts onto the local filesystem. Handles it
// issues carry the cleaned relative key as their Location.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// Read returns the bytes stored under key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", cleanKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Put stores data under a fresh key in the kind's directory and returns a
// handle pointing at it.
func (s *FileStore) Put(ctx context.Context, kind domain.MediaKind, mime string, data []byte) (domain.Handle, error) {
	id := uuid.NewString()
	key := path.Join("media", string(kind), id+ExtensionForMIME(mime))
	saved, err := s.Write(ctx, key, data)
	if err != nil {
		return domain.Handle{}, err
	}
	return domain.Handle{ID: id, Kind: kind, Location: saved, MIME: mime}, nil
}

// Load reads the bytes behind a handle issued by this store.
func (s *FileStore) Load(ctx context.Context, h domain.Handle) ([]byte, error) {
	if h.Location == "" {
		return nil, fmt.Errorf("storage: handle %q has no location: %w", h.ID, domain.ErrNotFound)
	}
	return s.Read(ctx, h.Location)
}

// DataURL renders a stored handle as a base64 data URL.
func (s *FileStore) DataURL(ctx context.Context, h domain.Handle) (string, error) {
	data, err := s.Load(ctx, h)
	if err != nil {
		return "", err
	}
	mime := h.MIME
	if mime == "" {
		mime = MIMEForKey(h.Location)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ExtensionForMIME maps the media types the pipeline produces to file extensions.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "application/zip":
		return ".zip"
	case "application/json":
		return ".json"
	case "application/x-ply", "model/ply":
		return ".ply"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

// MIMEForKey guesses a media type from a key's extension.
func MIMEForKey(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".zip":
		return "application/zip"
	case ".json":
		return "application/json"
	case ".ply":
		return "application/x-ply"
	default:
		return "application/octet-stream"
	}
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
