package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ArtifactStore persists opaque model artifacts and returns their location
type ArtifactStore interface {
	Save(ctx context.Context, versionID string, artifact []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// FileArtifactStore keeps artifacts on the local filesystem, one file per
// version
type FileArtifactStore struct {
	dir string
}

// NewFileArtifactStore creates a filesystem-backed artifact store rooted at
// dir
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &FileArtifactStore{dir: dir}, nil
}

// Save writes the artifact bytes and returns the file path as location
func (s *FileArtifactStore) Save(ctx context.Context, versionID string, artifact []byte) (string, error) {
	location := filepath.Join(s.dir, versionID+".bin")
	if err := os.WriteFile(location, artifact, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", versionID, err)
	}
	return location, nil
}

// Delete removes the artifact file
func (s *FileArtifactStore) Delete(ctx context.Context, location string) error {
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact %s: %w", location, err)
	}
	return nil
}

// memoryArtifactStore keeps artifacts in memory, for tests and the memory
// storage backend
type memoryArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string][]byte
}

// NewMemoryArtifactStore creates an in-memory artifact store
func NewMemoryArtifactStore() ArtifactStore {
	return &memoryArtifactStore{artifacts: make(map[string][]byte)}
}

func (s *memoryArtifactStore) Save(ctx context.Context, versionID string, artifact []byte) (string, error) {
	location := "mem://" + versionID
	s.mu.Lock()
	s.artifacts[location] = artifact
	s.mu.Unlock()
	return location, nil
}

func (s *memoryArtifactStore) Delete(ctx context.Context, location string) error {
	s.mu.Lock()
	delete(s.artifacts, location)
	s.mu.Unlock()
	return nil
}
