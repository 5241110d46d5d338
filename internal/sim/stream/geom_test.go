package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeyFromPosition(t *testing.T) {
	cases := []struct {
		name string
		pos  Vec3
		want ChunkKey
	}{
		{"origin", Vec3{}, ChunkKey{}},
		{"inside first chunk", Vec3{X: 7.4, Y: 3, Z: 0.2}, ChunkKey{}},
		{"rounds up into next chunk", Vec3{X: 7.6}, ChunkKey{X: 8}},
		{"half rounds to even", Vec3{X: 7.5, Z: 8.5}, ChunkKey{X: 8, Z: 8}},
		{"negative floors", Vec3{X: -0.6, Y: -8, Z: -9}, ChunkKey{X: -8, Y: -8, Z: -16}},
		{"far", Vec3{X: 30, Y: 17, Z: -30}, ChunkKey{X: 24, Y: 16, Z: -32}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KeyFromPosition(tc.pos, 8))
		})
	}
}

func TestLocalCoord(t *testing.T) {
	assert.Equal(t, LocalPos{X: 3, Y: 0, Z: 7}, LocalCoord(Vec3{X: 3.2, Y: 0, Z: 6.7}, 8))
	assert.Equal(t, LocalPos{X: 1, Y: 7, Z: 0}, LocalCoord(Vec3{X: 9, Y: -1, Z: 16}, 8))
}

func TestKeyDerivationIsStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 32).Draw(rt, "size")
		p := Vec3{
			X: rapid.Float64Range(-1e4, 1e4).Draw(rt, "x"),
			Y: rapid.Float64Range(-1e3, 1e3).Draw(rt, "y"),
			Z: rapid.Float64Range(-1e4, 1e4).Draw(rt, "z"),
		}
		k := KeyFromPosition(p, size)
		if KeyFromPosition(k.Anchor(), size) != k {
			rt.Fatalf("anchor of %v does not map back to itself", k)
		}
		if k.Cell(size).Key(size) != k {
			rt.Fatalf("cell round trip changed key %v", k)
		}
		l := LocalCoord(p, size)
		for _, c := range []int{l.X, l.Y, l.Z} {
			if c < 0 || c >= size {
				rt.Fatalf("local coord %v outside chunk of size %d", l, size)
			}
		}
	})
}

func TestChunkKeyText(t *testing.T) {
	k := ChunkKey{X: -8, Y: 16, Z: 24}
	assert.Equal(t, "-8_16_24", k.String())
	assert.Equal(t, "-8_24", k.Column().String())

	b, err := json.Marshal(map[string]any{"key": k})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"-8_16_24"}`, string(b))

	var back ChunkKey
	require.NoError(t, back.UnmarshalText([]byte("-8_16_24")))
	assert.Equal(t, k, back)
	assert.Error(t, back.UnmarshalText([]byte("nope")))
}
