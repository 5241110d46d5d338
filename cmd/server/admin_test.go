package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/terrain"
)

func newAdmin(t *testing.T) (*stream.Streamer, chunkstore.Store, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	cfg := stream.DefaultConfig()
	cfg.Radius = 1
	cfg.MaxTasks = 8
	store := chunkstore.NewMemory()
	s, err := stream.New(cfg, terrain.NewFactory(terrain.DefaultGenerator(5), cfg.ChunkSize, store, nil, nil), stream.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	select {
	case <-s.Start(ctx, stream.Vec3{}):
	case <-ctx.Done():
		t.Fatalf("start: %v", ctx.Err())
	}
	require.NoError(t, s.Wait(ctx))

	mux := http.NewServeMux()
	registerAdmin(mux, s, store, zap.NewNop())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, store, ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAdmin_StateAndChunks(t *testing.T) {
	s, _, ts := newAdmin(t)

	resp, err := http.Get(ts.URL + "/admin/v1/state")
	require.NoError(t, err)
	var st adminState
	decode(t, resp, &st)
	assert.Equal(t, s.CurrentTick(), st.Tick)
	assert.Equal(t, s.Registry().Len(), st.Registry)

	resp, err = http.Get(ts.URL + "/admin/v1/chunks")
	require.NoError(t, err)
	var chunks []adminChunk
	decode(t, resp, &chunks)
	require.NotEmpty(t, chunks)
	found := false
	for _, c := range chunks {
		if c.Key == (stream.ChunkKey{}) {
			found = true
			assert.Equal(t, "DRAWN", c.Status)
		}
	}
	assert.True(t, found, "seed chunk listed")
}

func TestAdmin_BlockEditAndSave(t *testing.T) {
	s, store, ts := newAdmin(t)

	resp, err := http.Get(ts.URL + "/admin/v1/block?x=1&y=0&z=1")
	require.NoError(t, err)
	var got map[string]any
	decode(t, resp, &got)
	assert.Equal(t, "BEDROCK", got["block"])

	resp, err = http.Post(ts.URL+"/admin/v1/block?x=1&y=0&z=1&block=0", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h, _, err := s.LookupBlock(stream.Vec3{X: 1, Z: 1})
	require.NoError(t, err)
	assert.Equal(t, stream.DrawPending, h.Status())

	resp, err = http.Post(ts.URL+"/admin/v1/save", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	blocks, err := store.Load(context.Background(), stream.ChunkKey{})
	require.NoError(t, err)
	assert.Equal(t, terrain.Air, blocks[1+8*8*1])

	resp, err = http.Get(ts.URL + "/admin/v1/block?x=900&y=0&z=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/admin/v1/block?x=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
