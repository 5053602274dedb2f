package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// allowedExtensions is the whitelist of accepted image file extensions.
var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// MediaStore stores uploaded images on local disk under unique,
// collision-free references. Files are never overwritten.
type MediaStore struct {
	dir string
}

// NewMediaStore creates a media store rooted at dir, creating it if needed.
func NewMediaStore(dir string) (*MediaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &MediaStore{dir: dir}, nil
}

// Put stores image bytes and returns a stable reference. The extension
// must be in the allowed whitelist.
func (m *MediaStore) Put(data []byte, ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("file extension %q not allowed", ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}

	ref := strings.ReplaceAll(uuid.New().String(), "-", "") + "." + ext
	path := filepath.Join(m.dir, ref)

	// O_EXCL guards against the (vanishingly unlikely) uuid collision.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return ref, nil
}

// Get returns the bytes previously stored under ref.
func (m *MediaStore) Get(ref string) ([]byte, error) {
	// Refuse path traversal in references.
	if ref != filepath.Base(ref) {
		return nil, fmt.Errorf("invalid media reference %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(m.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("failed to read media file %s: %w", ref, err)
	}
	return data, nil
}
