package stream

import (
	"sort"
	"sync/atomic"

	"golang.org/x/sync/syncmap"
)

// Registry maps chunk keys to handles. Inserts are add-if-missing and
// removals compare the handle, so a removal never deletes a handle that was
// rebuilt after it was claimed.
type Registry struct {
	m syncmap.Map
	n atomic.Int64
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Get(k ChunkKey) (*Handle, bool) {
	v, ok := r.m.Load(k)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// LoadOrCreate returns the handle for k, inserting create() if none exists.
// created reports whether this call inserted.
func (r *Registry) LoadOrCreate(k ChunkKey, create func() *Handle) (h *Handle, created bool) {
	if v, ok := r.m.Load(k); ok {
		return v.(*Handle), false
	}
	fresh := create()
	v, loaded := r.m.LoadOrStore(k, fresh)
	if loaded {
		return v.(*Handle), false
	}
	r.n.Add(1)
	return fresh, true
}

// Remove deletes k only while it still maps to h.
func (r *Registry) Remove(k ChunkKey, h *Handle) bool {
	if !r.m.CompareAndDelete(k, h) {
		return false
	}
	r.n.Add(-1)
	return true
}

// Range visits handles until fn returns false. Entries inserted or removed
// concurrently may or may not be visited.
func (r *Registry) Range(fn func(h *Handle) bool) {
	r.m.Range(func(_, v any) bool {
		return fn(v.(*Handle))
	})
}

func (r *Registry) Len() int { return int(r.n.Load()) }

func (r *Registry) Keys() []ChunkKey {
	keys := make([]ChunkKey, 0, r.Len())
	r.Range(func(h *Handle) bool {
		keys = append(keys, h.key)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}
