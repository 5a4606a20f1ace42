// Package blobstore stores manifests by content identifier.
//
// A content identifier is "b3:" followed by the hex BLAKE3-256 of the bytes,
// so the same manifest always has the same reference and a fetched blob can
// be checked against its reference.
package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

const refPrefix = "b3:"

var (
	// ErrNotFound is returned when no blob has the requested reference.
	ErrNotFound = errors.New("blob not found")
	// ErrBadRef is returned for a malformed content reference.
	ErrBadRef = errors.New("malformed content reference")
)

// Store puts and gets immutable blobs.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ref returns the content identifier of data.
func Ref(data []byte) string {
	sum := blake3.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

func digestOf(ref string) (string, error) {
	hexPart, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(hexPart) != 64 {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return strings.ToLower(hexPart), nil
}

// MemoryStore keeps blobs in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	ref := Ref(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	d, err := digestOf(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[refPrefix+d]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// FileStore keeps each blob in Dir as <digest>.json.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed and returns a FileStore over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.Dir, digest+".json")
}

// Put implements Store. The file is written to a temporary name and renamed
// into place.
func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	ref := Ref(data)
	final := s.path(strings.TrimPrefix(ref, refPrefix))
	if _, err := os.Stat(final); err == nil {
		return ref, nil
	}

	tmp, err := os.CreateTemp(s.Dir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return ref, nil
}

// Get implements Store. The content is re-hashed before it is returned.
func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	d, err := digestOf(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(d))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if Ref(data) != refPrefix+d {
		return nil, fmt.Errorf("blob %s is corrupt", ref)
	}
	return data, nil
}
