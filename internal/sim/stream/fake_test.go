package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder keeps an ordered log of collaborator calls.
type recorder struct {
	mu     sync.Mutex
	events []string
	counts map[string]int
}

func newRecorder() *recorder { return &recorder{counts: map[string]int{}} }

func (r *recorder) add(op string, k ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := fmt.Sprintf("%s:%s", op, k)
	r.events = append(r.events, e)
	r.counts[e]++
}

func (r *recorder) count(op string, k ChunkKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[fmt.Sprintf("%s:%s", op, k)]
}

// sequence returns the ops recorded for k, in order.
func (r *recorder) sequence(k ChunkKey) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	suffix := ":" + k.String()
	var out []string
	for _, e := range r.events {
		if len(e) > len(suffix) && e[len(e)-len(suffix):] == suffix {
			out = append(out, e[:len(e)-len(suffix)])
		}
	}
	return out
}

type fakeChunk struct {
	key ChunkKey
	rec *recorder
	f   *fakeFactory
}

// trip consumes one unit of a failure budget.
func trip(n *atomic.Int32) bool { return n.Add(-1) >= 0 }

func (c *fakeChunk) Build(ctx context.Context) error {
	if trip(&c.f.panicBuild) {
		c.rec.add("build-panicked", c.key)
		panic("generator crashed")
	}
	if trip(&c.f.failBuild) {
		c.rec.add("build-failed", c.key)
		return errors.New("generation failed")
	}
	c.rec.add("build", c.key)
	return nil
}

func (c *fakeChunk) Draw(ctx context.Context) error {
	if trip(&c.f.panicDraw) {
		c.rec.add("draw-panicked", c.key)
		panic("mesher crashed")
	}
	if trip(&c.f.failDraw) {
		c.rec.add("draw-failed", c.key)
		return errors.New("mesh failed")
	}
	c.rec.add("draw", c.key)
	return nil
}

func (c *fakeChunk) Release() { c.rec.add("release", c.key) }

func (c *fakeChunk) Save(ctx context.Context) error {
	if trip(&c.f.panicSave) {
		c.rec.add("save-panicked", c.key)
		panic("disk on fire")
	}
	c.rec.add("save", c.key)
	return nil
}

type fakeFactory struct {
	rec        *recorder
	created    atomic.Int64
	failBuild  atomic.Int32
	failDraw   atomic.Int32
	panicBuild atomic.Int32
	panicDraw  atomic.Int32
	panicSave  atomic.Int32
}

func newFakeFactory() *fakeFactory { return &fakeFactory{rec: newRecorder()} }

func (f *fakeFactory) NewChunk(key ChunkKey, anchor Vec3) Chunk {
	f.created.Add(1)
	return &fakeChunk{key: key, rec: f.rec, f: f}
}

func newTestStreamer(t *testing.T, cfg Config) (*Streamer, *fakeFactory) {
	t.Helper()
	f := newFakeFactory()
	s, err := New(cfg, f, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, f
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func awaitReport(t *testing.T, ch <-chan TickReport) TickReport {
	t.Helper()
	select {
	case rep, ok := <-ch:
		require.True(t, ok, "tick pass was not scheduled")
		return rep
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for tick report")
		return TickReport{}
	}
}

// putHandle registers a handle directly in the given state.
func putHandle(s *Streamer, f *fakeFactory, key ChunkKey, st Status) *Handle {
	h, _ := s.registry.LoadOrCreate(key, func() *Handle {
		return newHandle(key, f.NewChunk(key, key.Anchor()))
	})
	h.status.Store(int32(st))
	return h
}

func containsKey(keys []ChunkKey, k ChunkKey) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
