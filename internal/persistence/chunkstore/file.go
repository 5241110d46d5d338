package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/encoding"
	"voxelstream.ai/internal/sim/stream"
)

const fileSuffix = ".chunk.zst"

// FileStore writes one zstd-compressed RLE file per chunk.
type FileStore struct {
	dir    string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed atomic.Bool
}

func OpenFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty chunk dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// nil writers: both are only used through EncodeAll/DecodeAll, which
	// are safe for concurrent use.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &FileStore{dir: dir, enc: enc, dec: dec}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key stream.ChunkKey) string {
	return filepath.Join(s.dir, key.String()+fileSuffix)
}

func (s *FileStore) Load(ctx context.Context, key stream.ChunkKey) ([]uint16, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	blocks, err := encoding.DecodeRLE(plain, -1)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return blocks, nil
}

// Save writes to a temp file in the same directory and renames it over the
// previous copy, so readers never observe a partial chunk.
func (s *FileStore) Save(ctx context.Context, key stream.ChunkKey, blocks []uint16) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := s.enc.EncodeAll(encoding.EncodeRLE(blocks), nil)

	f, err := os.CreateTemp(s.dir, key.String()+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Chunks++
		st.Bytes += info.Size()
		return ctx.Err()
	})
	return st, err
}

func (s *FileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.dec.Close()
	return s.enc.Close()
}
