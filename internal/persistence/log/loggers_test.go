package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/sim/stream"
)

func TestTickLogger_WriteAndRead(t *testing.T) {
	l := NewTickLogger(t.TempDir())
	reports := []stream.TickReport{
		{Tick: 1, Rebuilt: true, Drawn: []stream.ChunkKey{{}}, Registry: 25},
		{Tick: 2, Observer: stream.Vec3{X: 30}, PendingRemoval: []stream.ChunkKey{{X: -24}}, Removed: []stream.ChunkKey{{X: -24}}, Registry: 24},
	}
	for _, r := range reports {
		require.NoError(t, l.WriteTick(r))
	}
	path := l.Path()
	require.NoError(t, l.Close())
	assert.Error(t, l.WriteTick(reports[0]), "closed logger rejects writes")

	var got []stream.TickReport
	require.NoError(t, ReadJSONL(path, func(r stream.TickReport) error {
		got = append(got, r)
		return nil
	}))
	assert.Equal(t, reports, got)
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "ticks")
	at := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	require.NoError(t, w.Write(map[string]int{"n": 1}))
	first := w.Path()
	at = at.Add(2 * time.Minute)
	require.NoError(t, w.Write(map[string]int{"n": 2}))
	second := w.Path()
	require.NoError(t, w.Close())

	assert.Equal(t, filepath.Join(dir, "ticks-2026-01-02-03.jsonl.zst"), first)
	assert.Equal(t, filepath.Join(dir, "ticks-2026-01-02-04.jsonl.zst"), second)
	for i, p := range []string{first, second} {
		var n []int
		require.NoError(t, ReadJSONL(p, func(v map[string]int) error {
			n = append(n, v["n"])
			return nil
		}))
		assert.Equal(t, []int{i + 1}, n)
	}
}
