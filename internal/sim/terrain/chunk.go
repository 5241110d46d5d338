package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/sim/stream"
)

var ErrNotBuilt = errors.New("terrain: chunk has no blocks")

type DrawEvent struct {
	Key  stream.ChunkKey
	Mesh Mesh
}

// Sink receives render events. Implementations must not block.
type Sink interface {
	ChunkDrawn(ev DrawEvent)
	ChunkRemoved(key stream.ChunkKey)
}

type nopSink struct{}

func (nopSink) ChunkDrawn(DrawEvent)         {}
func (nopSink) ChunkRemoved(stream.ChunkKey) {}

// VoxelChunk is a size^3 block array backed by a generator and an optional
// store.
type VoxelChunk struct {
	key   stream.ChunkKey
	size  int
	gen   Generator
	store chunkstore.Store
	sink  Sink
	log   *zap.Logger

	mu     sync.RWMutex
	blocks []uint16
	mesh   *Mesh
	loaded bool // blocks came from the store
	dirty  bool // blocks differ from what the store holds
}

func (c *VoxelChunk) Key() stream.ChunkKey { return c.key }

// Build loads the chunk from the store when a saved copy exists and
// generates it otherwise.
func (c *VoxelChunk) Build(ctx context.Context) error {
	n := c.size * c.size * c.size
	if c.store != nil {
		blocks, err := c.store.Load(ctx, c.key)
		switch {
		case err == nil && len(blocks) == n:
			c.mu.Lock()
			c.blocks, c.loaded, c.dirty = blocks, true, false
			c.mu.Unlock()
			return nil
		case err == nil:
			c.log.Warn("saved chunk has wrong size, regenerating",
				zap.Stringer("chunk", c.key), zap.Int("got", len(blocks)), zap.Int("want", n))
		case errors.Is(err, chunkstore.ErrNotFound):
		default:
			return fmt.Errorf("load %s: %w", c.key, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	blocks := make([]uint16, n)
	c.gen.Fill(c.key, c.size, blocks)
	c.mu.Lock()
	c.blocks, c.loaded, c.dirty = blocks, false, true
	c.mu.Unlock()
	return nil
}

func (c *VoxelChunk) Draw(ctx context.Context) error {
	c.mu.Lock()
	if c.blocks == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotBuilt, c.key)
	}
	m := buildMesh(c.blocks, c.size, func(x, y, z int) uint16 {
		return c.gen.BlockAt(c.key.X+x, c.key.Y+y, c.key.Z+z)
	})
	c.mesh = &m
	c.mu.Unlock()

	c.sink.ChunkDrawn(DrawEvent{Key: c.key, Mesh: m})
	return nil
}

func (c *VoxelChunk) Release() {
	c.mu.Lock()
	drawn := c.mesh != nil
	c.mesh = nil
	c.mu.Unlock()
	if drawn {
		c.sink.ChunkRemoved(c.key)
	}
}

// Save writes modified or freshly generated blocks. Chunks loaded unchanged
// are skipped.
func (c *VoxelChunk) Save(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.RLock()
	if !c.dirty || c.blocks == nil {
		c.mu.RUnlock()
		return nil
	}
	blocks := append([]uint16(nil), c.blocks...)
	c.mu.RUnlock()

	if err := c.store.Save(ctx, c.key, blocks); err != nil {
		return fmt.Errorf("save %s: %w", c.key, err)
	}
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

func (c *VoxelChunk) Block(l stream.LocalPos) (uint16, bool) {
	if l.X < 0 || l.Y < 0 || l.Z < 0 || l.X >= c.size || l.Y >= c.size || l.Z >= c.size {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.blocks == nil {
		return 0, false
	}
	return c.blocks[index(c.size, l.X, l.Y, l.Z)], true
}

// SetBlock replaces one block. It reports whether the block changed.
func (c *VoxelChunk) SetBlock(l stream.LocalPos, b uint16) (bool, error) {
	if l.X < 0 || l.Y < 0 || l.Z < 0 || l.X >= c.size || l.Y >= c.size || l.Z >= c.size {
		return false, fmt.Errorf("local position %v outside chunk", l)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocks == nil {
		return false, fmt.Errorf("%w: %s", ErrNotBuilt, c.key)
	}
	i := index(c.size, l.X, l.Y, l.Z)
	if c.blocks[i] == b {
		return false, nil
	}
	c.blocks[i] = b
	c.dirty = true
	return true, nil
}

// Mesh returns the geometry from the last draw, if any.
func (c *VoxelChunk) Mesh() (Mesh, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mesh == nil {
		return Mesh{}, false
	}
	return *c.mesh, true
}

func (c *VoxelChunk) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Factory builds VoxelChunks for the streamer.
type Factory struct {
	gen   Generator
	size  int
	store chunkstore.Store
	sink  Sink
	log   *zap.Logger
}

// NewFactory returns a stream.ChunkFactory. store and sink may be nil.
func NewFactory(gen Generator, chunkSize int, store chunkstore.Store, sink Sink, logger *zap.Logger) *Factory {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		gen:   gen,
		size:  chunkSize,
		store: store,
		sink:  sink,
		log:   logger.With(zap.String("component", "terrain")),
	}
}

func (f *Factory) NewChunk(key stream.ChunkKey, _ stream.Vec3) stream.Chunk {
	return &VoxelChunk{key: key, size: f.size, gen: f.gen, store: f.store, sink: f.sink, log: f.log}
}

// Edit sets the block at a world position and schedules the owning chunk for
// redraw.
func Edit(s *stream.Streamer, pos stream.Vec3, b uint16) error {
	h, local, err := s.LookupBlock(pos)
	if err != nil {
		return err
	}
	vc, ok := h.Chunk().(*VoxelChunk)
	if !ok {
		return fmt.Errorf("%w: %s", stream.ErrNoBlockData, h.Key())
	}
	changed, err := vc.SetBlock(local, b)
	if err != nil || !changed {
		return err
	}
	h.Invalidate()
	return nil
}
