package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// SaveSnapshot writes the captured frame for one verification session.
// Saving again for the same session overwrites the previous snapshot,
// which is what a retry should do.
func (ls *LocalStorage) SaveSnapshot(sessionID string, jpeg []byte) (string, error) {
	if strings.ContainsAny(sessionID, "/\\.") {
		return "", fmt.Errorf("invalid session id")
	}

	filename := fmt.Sprintf("%s.jpg", sessionID)
	fullPath := filepath.Join(ls.basePath, filename)

	if err := os.WriteFile(fullPath, jpeg, 0644); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return filename, nil
}

func (ls *LocalStorage) OpenSnapshot(path string) (io.ReadSeekCloser, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid path")
	}

	fullPath := filepath.Join(ls.basePath, cleanPath)
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) DeleteSnapshot(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path")
	}

	fullPath := filepath.Join(ls.basePath, cleanPath)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}
