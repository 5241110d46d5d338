package stream

import "sync"

// Tracker remembers where the last build was triggered and fires again once
// the observer has moved more than one chunk width away from it.
type Tracker struct {
	threshold float64

	mu   sync.Mutex
	last Vec3
}

func NewTracker(chunkSize int) *Tracker {
	return &Tracker{threshold: float64(chunkSize)}
}

func (t *Tracker) Reset(pos Vec3) {
	t.mu.Lock()
	t.last = pos
	t.mu.Unlock()
}

func (t *Tracker) Last() Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Observe reports whether pos warrants a rebuild, recording pos if so.
func (t *Tracker) Observe(pos Vec3) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.Sub(pos).Len() <= t.threshold {
		return false
	}
	t.last = pos
	return true
}

// PositionSource supplies the observer position to the driver loop.
type PositionSource interface {
	Position() Vec3
}

// SharedPosition is a PositionSource updated by input handlers.
type SharedPosition struct {
	mu  sync.RWMutex
	pos Vec3
}

func NewSharedPosition(p Vec3) *SharedPosition { return &SharedPosition{pos: p} }

func (s *SharedPosition) Set(p Vec3) {
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

func (s *SharedPosition) Position() Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}
