// Package terrain generates, meshes and persists voxel chunks for the
// streamer.
package terrain

import (
	"math"

	"voxelstream.ai/internal/sim/mathx"
	"voxelstream.ai/internal/sim/stream"
)

const (
	Air uint16 = iota
	Bedrock
	Stone
	Dirt
	Grass
	Water
)

var blockNames = [...]string{"AIR", "BEDROCK", "STONE", "DIRT", "GRASS", "WATER"}

func BlockName(b uint16) string {
	if int(b) < len(blockNames) {
		return blockNames[b]
	}
	return "UNKNOWN"
}

// Opaque reports whether b hides the faces of its neighbours.
func Opaque(b uint16) bool { return b != Air && b != Water }

// Generator is a deterministic height-field world: bedrock at y <= 0, a
// stone layer, dirt topped with grass, and water up to sea level.
type Generator struct {
	Seed int64

	BaseHeight int     // surface height where noise is 0.5
	Amplitude  float64 // surface variation above and below base
	Scale      float64 // horizontal size of one noise feature, in blocks
	Octaves    int
	SoilDepth  int // dirt above stone
	SeaLevel   int
}

func DefaultGenerator(seed int64) Generator {
	return Generator{
		Seed:       seed,
		BaseHeight: 40,
		Amplitude:  24,
		Scale:      64,
		Octaves:    4,
		SoilDepth:  3,
		SeaLevel:   32,
	}
}

func (g Generator) lattice(oct, x, z int) float64 {
	return mathx.Unit(mathx.Hash2(g.Seed+int64(oct)*7919, x, z))
}

// valueNoise interpolates hashed lattice values. Result is in [0, 1).
func (g Generator) valueNoise(oct int, x, z float64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	ix, iz := int(x0), int(z0)
	tx, tz := mathx.SmoothStep(x-x0), mathx.SmoothStep(z-z0)

	a := mathx.Lerp(g.lattice(oct, ix, iz), g.lattice(oct, ix+1, iz), tx)
	b := mathx.Lerp(g.lattice(oct, ix, iz+1), g.lattice(oct, ix+1, iz+1), tx)
	return mathx.Lerp(a, b, tz)
}

// Noise sums Octaves of value noise, each at twice the frequency and half the
// weight of the previous one, normalized back to [0, 1).
func (g Generator) Noise(x, z float64) float64 {
	octaves := g.Octaves
	if octaves <= 0 {
		octaves = 1
	}
	scale := g.Scale
	if scale <= 0 {
		scale = 1
	}
	freq, amp := 1/scale, 1.0
	var sum, norm float64
	for o := 0; o < octaves; o++ {
		sum += amp * g.valueNoise(o, x*freq, z*freq)
		norm += amp
		freq *= 2
		amp /= 2
	}
	return sum / norm
}

func (g Generator) SurfaceHeight(wx, wz int) int {
	n := g.Noise(float64(wx), float64(wz))
	h := g.BaseHeight + int(math.Round((n-0.5)*2*g.Amplitude))
	if h < 1 {
		h = 1
	}
	return h
}

func (g Generator) BlockAt(wx, wy, wz int) uint16 {
	if wy <= 0 {
		return Bedrock
	}
	return g.layer(wy, g.SurfaceHeight(wx, wz))
}

func (g Generator) layer(wy, surface int) uint16 {
	switch {
	case wy <= 0:
		return Bedrock
	case wy <= surface-g.SoilDepth:
		return Stone
	case wy < surface:
		return Dirt
	case wy == surface && surface < g.SeaLevel:
		return Dirt
	case wy == surface:
		return Grass
	case wy <= g.SeaLevel:
		return Water
	default:
		return Air
	}
}

// Fill writes the blocks of the size^3 chunk anchored at key into dst, which
// must hold size^3 entries.
func (g Generator) Fill(key stream.ChunkKey, size int, dst []uint16) {
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			surface := g.SurfaceHeight(key.X+x, key.Z+z)
			for y := 0; y < size; y++ {
				dst[index(size, x, y, z)] = g.layer(key.Y+y, surface)
			}
		}
	}
}

func index(size, x, y, z int) int { return x + size*(y+size*z) }
