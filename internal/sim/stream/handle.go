package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Status is the streaming lifecycle of a chunk handle.
type Status int32

const (
	Unbuilt Status = iota
	Building
	Built
	DrawPending
	Drawn
	Removing
)

func (s Status) String() string {
	switch s {
	case Unbuilt:
		return "UNBUILT"
	case Building:
		return "BUILDING"
	case Built:
		return "BUILT"
	case DrawPending:
		return "DRAW_PENDING"
	case Drawn:
		return "DRAWN"
	case Removing:
		return "REMOVING"
	default:
		return "UNKNOWN"
	}
}

// Chunk is the generation/render/persistence collaborator behind a handle.
type Chunk interface {
	// Build generates (or loads) the chunk contents.
	Build(ctx context.Context) error
	// Draw realizes render geometry. Calling it on a drawn chunk is a no-op.
	Draw(ctx context.Context) error
	// Release drops render resources.
	Release()
	// Save persists the chunk. It is called once before eviction.
	Save(ctx context.Context) error
}

// ChunkFactory constructs collaborators. NewChunk must be cheap: a losing
// insert-if-absent race discards the result without building it.
type ChunkFactory interface {
	NewChunk(key ChunkKey, anchor Vec3) Chunk
}

// BlockSource is implemented by chunks that expose voxel contents.
type BlockSource interface {
	Block(local LocalPos) (uint16, bool)
}

// Handle is the registry entry for one chunk.
type Handle struct {
	key    ChunkKey
	anchor Vec3
	chunk  Chunk

	status atomic.Int32
	// mu serializes collaborator lifecycle calls (build, draw, evict).
	mu sync.Mutex
}

func newHandle(key ChunkKey, chunk Chunk) *Handle {
	return &Handle{key: key, anchor: key.Anchor(), chunk: chunk}
}

func (h *Handle) Key() ChunkKey  { return h.key }
func (h *Handle) Anchor() Vec3   { return h.anchor }
func (h *Handle) Chunk() Chunk   { return h.chunk }
func (h *Handle) Status() Status { return Status(h.status.Load()) }

func (h *Handle) transition(from, to Status) bool {
	return h.status.CompareAndSwap(int32(from), int32(to))
}

// Invalidate schedules a drawn chunk for redraw on the next draw pass.
func (h *Handle) Invalidate() bool {
	return h.transition(Drawn, DrawPending)
}

// claimRemoval moves any live state to Removing. Only one caller wins.
func (h *Handle) claimRemoval() bool {
	for {
		cur := h.Status()
		if cur == Removing {
			return false
		}
		if h.transition(cur, Removing) {
			return true
		}
	}
}
