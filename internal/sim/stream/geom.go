package stream

import (
	"fmt"
	"math"

	"voxelstream.ai/internal/sim/mathx"
)

// Vec3 is a continuous world position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Len() }

// Cell is a chunk grid index (world units divided by the chunk size).
type Cell struct{ X, Y, Z int }

func (c Cell) Add(o Cell) Cell { return Cell{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z} }

// Key scales the cell back to world units.
func (c Cell) Key(size int) ChunkKey {
	return ChunkKey{X: c.X * size, Y: c.Y * size, Z: c.Z * size}
}

// CellOf quantizes a world position onto the chunk grid.
func CellOf(p Vec3, size int) Cell {
	return Cell{
		X: mathx.Quantize(p.X, size),
		Y: mathx.Quantize(p.Y, size),
		Z: mathx.Quantize(p.Z, size),
	}
}

// floodOrder is the neighbor order of one flood-fill step: +Z, -Z, -X, +X, +Y, -Y.
var floodOrder = [6]Cell{
	{Z: 1},
	{Z: -1},
	{X: -1},
	{X: 1},
	{Y: 1},
	{Y: -1},
}

// ChunkKey identifies a chunk by its anchor corner in world units. Anchors are
// multiples of the chunk size so the key doubles as a spatial position.
type ChunkKey struct{ X, Y, Z int }

// KeyFromPosition returns floor(round(p)/size)*size on every axis.
func KeyFromPosition(p Vec3, size int) ChunkKey {
	return CellOf(p, size).Key(size)
}

func (k ChunkKey) Anchor() Vec3 {
	return Vec3{X: float64(k.X), Y: float64(k.Y), Z: float64(k.Z)}
}

func (k ChunkKey) Cell(size int) Cell {
	return Cell{X: mathx.FloorDiv(k.X, size), Y: mathx.FloorDiv(k.Y, size), Z: mathx.FloorDiv(k.Z, size)}
}

func (k ChunkKey) Column() ColumnKey { return ColumnKey{X: k.X, Z: k.Z} }

// String renders the x_y_z chunk name.
func (k ChunkKey) String() string { return fmt.Sprintf("%d_%d_%d", k.X, k.Y, k.Z) }

func (k ChunkKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ChunkKey) UnmarshalText(b []byte) error {
	var x, y, z int
	if _, err := fmt.Sscanf(string(b), "%d_%d_%d", &x, &y, &z); err != nil {
		return fmt.Errorf("chunk key %q: %w", string(b), err)
	}
	*k = ChunkKey{X: x, Y: y, Z: z}
	return nil
}

// ColumnKey identifies a vertical stack of chunks.
type ColumnKey struct{ X, Z int }

func (c ColumnKey) String() string { return fmt.Sprintf("%d_%d", c.X, c.Z) }

// LocalPos is a block coordinate inside a chunk.
type LocalPos struct{ X, Y, Z int }

// LocalCoord returns round(p) minus the chunk anchor on every axis.
func LocalCoord(p Vec3, size int) LocalPos {
	k := KeyFromPosition(p, size)
	return LocalPos{
		X: mathx.RoundToInt(p.X) - k.X,
		Y: mathx.RoundToInt(p.Y) - k.Y,
		Z: mathx.RoundToInt(p.Z) - k.Z,
	}
}
