package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// FileMap implements a durable map on the local file system.
// Each key is stored in its own file named by the hex encoding of the key.
// Writes go to a temporary file which is synced and renamed into place, so a
// crash leaves either the old or the new value.
type FileMap struct {
	mu          sync.RWMutex
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileMap creates a new file backend using the specified base directory,
// creating it if it doesn't exist.
func NewFileMap(baseDir string, log *slog.Logger) (*FileMap, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileMap{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads the value stored under key.
func (b *FileMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.read(key)
}

func (b *FileMap) read(key []byte) ([]byte, bool, error) {
	filePath := b.getFilePath(key)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read file: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Read value from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, true, nil
}

// Insert atomically replaces the value under key and returns the previous one.
func (b *FileMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous, found, err := b.read(key)
	if err != nil {
		return nil, false, err
	}

	filePath := b.getFilePath(key)
	if err := writeFileAtomic(filePath, value); err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored value in file",
		slog.String("path", filePath),
		slog.Int("size", len(value)))

	return previous, found, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Persist the rename itself
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileMap) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileMap) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileMap) LocationURI() string {
	return b.locationURI
}

func (b *FileMap) Close() error {
	return nil
}

// getFilePath generates a file path for a key.
func (b *FileMap) getFilePath(key []byte) string {
	return filepath.Join(b.baseDir, hex.EncodeToString(key))
}
