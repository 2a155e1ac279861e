// Package storage persists encoded derivatives under the naming convention
// <source_id>_<preset>.<ext>.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"imagepipe/internal/services"
)

// Store writes one derivative and returns where it can be read back (a
// filesystem path or a URL).
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeID makes a caller supplied source id safe to embed in a file name.
func SanitizeID(id string) string {
	id = unsafeID.ReplaceAllString(strings.TrimSpace(id), "-")
	id = strings.Trim(id, "-.")
	if id == "" {
		return "image"
	}
	return id
}

// FileSourceID derives the source id of a file found on disk. rel (the path
// below its walk root) keeps the id readable, the extension is kept so
// photo.jpg and photo.png stay apart, and a short hash of the absolute path
// separates equal names under different roots.
func FileSourceID(rel, abs string) string {
	rel = filepath.ToSlash(rel)
	ext := filepath.Ext(rel)
	readable := strings.TrimSuffix(rel, ext)
	if e := strings.ToLower(strings.TrimPrefix(ext, ".")); e != "" {
		readable += "-" + e
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return SanitizeID(readable) + "-" + hex.EncodeToString(sum[:4])
}

// Key returns the object name of one derivative.
func Key(sourceID, preset string, format services.Format) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeID(sourceID), preset, format.Extension())
}

// PutSet stores every derivative in set and returns the locations by format.
func PutSet(ctx context.Context, s Store, sourceID, preset string, set services.DerivativeSet) (map[services.Format]string, error) {
	out := make(map[services.Format]string, len(set))
	for _, f := range set.Formats() {
		d := set[f]
		loc, err := s.Put(ctx, Key(sourceID, preset, f), d.Data, f.ContentType())
		if err != nil {
			return out, fmt.Errorf("store %s/%s: %w", preset, f, err)
		}
		out[f] = loc
	}
	return out, nil
}

// FileStore writes derivatives into a local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Put writes data via a temp file and rename so readers never see a partial
// derivative.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.Base(key))
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write derivative: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close derivative: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("failed to chmod derivative: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move derivative into place: %w", err)
	}
	return path, nil
}
