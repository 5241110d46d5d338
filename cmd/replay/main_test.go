package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/stream"
)

func TestSummary_ReplaysTickLog(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewTickLogger(dir)
	a, b := stream.ChunkKey{}, stream.ChunkKey{X: 8}
	require.NoError(t, l.WriteTick(stream.TickReport{Tick: 1, Rebuilt: true, Drawn: []stream.ChunkKey{a, b}, Registry: 2}))
	require.NoError(t, l.WriteTick(stream.TickReport{Tick: 2, PendingRemoval: []stream.ChunkKey{a}, Removed: []stream.ChunkKey{a}, Registry: 1}))
	require.NoError(t, l.Close())

	files, err := listTickFiles(dir + "/ticks")
	require.NoError(t, err)
	require.Len(t, files, 1)

	sum := newSummary()
	require.NoError(t, persistlog.ReadJSONL(files[0], func(r stream.TickReport) error { return sum.add(r, true) }))
	assert.Equal(t, 2, sum.Ticks)
	assert.Equal(t, 1, sum.Rebuilds)
	assert.Equal(t, 2, sum.Drawn)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 2, sum.MaxRegistry)
	assert.Equal(t, map[stream.ChunkKey]bool{b: true}, sum.live)
}

func TestSummary_Violations(t *testing.T) {
	k := stream.ChunkKey{X: -8}

	sum := newSummary()
	require.NoError(t, sum.add(stream.TickReport{Tick: 1}, true))
	assert.Error(t, sum.add(stream.TickReport{Tick: 1}, true), "duplicate tick")

	sum = newSummary()
	assert.Error(t, sum.add(stream.TickReport{Tick: 1, Removed: []stream.ChunkKey{k}}, false), "removal must be pending")

	sum = newSummary()
	rep := stream.TickReport{Tick: 1, PendingRemoval: []stream.ChunkKey{k}, Removed: []stream.ChunkKey{k}}
	assert.Error(t, sum.add(rep, true))
	sum = newSummary()
	require.NoError(t, sum.add(rep, false))
	assert.Equal(t, 1, sum.Unmatched)
}
