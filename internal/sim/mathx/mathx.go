// Package mathx holds the integer grid and hashing helpers shared by the
// streamer and the terrain generator.
package mathx

import "math"

// FloorDiv divides a by b rounding toward negative infinity. b must be > 0.
func FloorDiv(a, b int) int {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

// Mod returns a modulo b in [0, b). b must be > 0.
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// RoundToInt rounds half to even, matching the engine the world format came from.
func RoundToInt(v float64) int {
	return int(math.RoundToEven(v))
}

// Quantize snaps a continuous coordinate to the chunk grid and returns the
// cell index: floor(round(v) / size).
func Quantize(v float64, size int) int {
	return int(math.Floor(float64(RoundToInt(v)) / float64(size)))
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func Hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9))
}

// Unit maps a hash to [0, 1).
func Unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}

func Lerp(a, b, t float64) float64 { return a + (b-a)*t }

// SmoothStep is the cubic Hermite fade used for value-noise interpolation.
func SmoothStep(t float64) float64 { return t * t * (3 - 2*t) }
