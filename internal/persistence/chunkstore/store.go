// Package chunkstore persists chunk block arrays between evictions.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"voxelstream.ai/internal/sim/stream"
)

var (
	ErrNotFound = errors.New("chunkstore: chunk not found")
	ErrClosed   = errors.New("chunkstore: store closed")
)

type Store interface {
	// Load returns the saved blocks for key, or ErrNotFound.
	Load(ctx context.Context, key stream.ChunkKey) ([]uint16, error)
	Save(ctx context.Context, key stream.ChunkKey, blocks []uint16) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

type Stats struct {
	Chunks int   `json:"chunks"`
	Bytes  int64 `json:"bytes"`
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Backend    string
	Dir        string
	SQLitePath string
}

// Open builds the store selected by cfg.Backend. An empty backend means file.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return OpenFile(cfg.Dir)
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Dir, "chunks.sqlite")
		}
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown chunk store backend %q", cfg.Backend)
	}
}

// Memory keeps chunks in process. Saved slices are copied.
type Memory struct {
	mu     sync.RWMutex
	chunks map[stream.ChunkKey][]uint16
	closed bool
}

func NewMemory() *Memory { return &Memory{chunks: map[stream.ChunkKey][]uint16{}} }

func (m *Memory) Load(ctx context.Context, key stream.ChunkKey) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.chunks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]uint16(nil), b...), nil
}

func (m *Memory) Save(ctx context.Context, key stream.ChunkKey, blocks []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.chunks[key] = append([]uint16(nil), blocks...)
	return nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Chunks: len(m.chunks)}
	for _, b := range m.chunks {
		st.Bytes += int64(2 * len(b))
	}
	return st, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
