package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/google/uuid"
)

// FileStore keeps uploaded files and recorded audio on the local disk under
// uuid-based names.
type FileStore struct {
	dir   string
	mutex sync.RWMutex
}

// NewFileStore creates the storage directory if it doesn't exist
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create storage directory", "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes data under a new unique name and returns that name. ext keeps
// the original extension for operators browsing the directory.
func (fs *FileStore) Save(ctx context.Context, prefix, ext string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext = strings.ToLower(filepath.Ext("x" + ext))
	name := fmt.Sprintf("%s_%s%s", prefix, uuid.New().String(), ext)

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	tmp, err := os.CreateTemp(fs.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path(name)); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	slog.Info("File stored", "name", name, "size", len(data))
	return name, nil
}

// Read returns the content of a stored file.
func (fs *FileStore) Read(name string) ([]byte, error) {
	if !validStorageName(name) {
		return nil, apperr.NotFound("file", name)
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	data, err := os.ReadFile(fs.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("file", name)
		}
		slog.Error("Failed to read stored file", "name", name, "error", err)
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes a stored file. Missing files are ignored.
func (fs *FileStore) Delete(name string) error {
	if !validStorageName(name) {
		return nil
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := os.Remove(fs.path(name)); err != nil && !os.IsNotExist(err) {
		slog.Error("Failed to delete stored file", "name", name, "error", err)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Stats returns the number of stored files and their total size.
func (fs *FileStore) Stats() (int, int64, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, 0, err
	}

	var totalSize int64
	fileCount := 0

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fileCount++
		if info, err := entry.Info(); err == nil {
			totalSize += info.Size()
		}
	}

	return fileCount, totalSize, nil
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, name)
}

func validStorageName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && filepath.Base(name) == name
}
