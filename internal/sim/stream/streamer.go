// Package stream keeps the chunks around a moving observer built, drawn and
// evicted. All work runs as tasks on a bounded taskqueue.Queue; the registry
// is the only state those tasks share.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/taskqueue"
)

var (
	ErrChunkNotFound = errors.New("stream: chunk not found")
	ErrChunkNotReady = errors.New("stream: chunk not built")
	ErrNoBlockData   = errors.New("stream: chunk has no block data")
	ErrChunkPanic    = errors.New("stream: chunk collaborator panicked")
)

type Config struct {
	ChunkSize    int
	ColumnHeight int // highest cell index a flood may expand from
	WorldExtent  int // horizontal cell bound; 0 = unbounded
	Radius       int // build and retention radius in chunk widths
	MaxTasks     int
	TickRateHz   int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    8,
		ColumnHeight: 16,
		WorldExtent:  0,
		Radius:       3,
		MaxTasks:     taskqueue.DefaultMaxConcurrent,
		TickRateHz:   30,
	}
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0: got %d", c.ChunkSize)
	}
	if c.ColumnHeight < 0 {
		return fmt.Errorf("column height must be >= 0: got %d", c.ColumnHeight)
	}
	if c.WorldExtent < 0 {
		return fmt.Errorf("world extent must be >= 0: got %d", c.WorldExtent)
	}
	if c.Radius < 0 {
		return fmt.Errorf("radius must be >= 0: got %d", c.Radius)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max tasks must be > 0: got %d", c.MaxTasks)
	}
	if c.TickRateHz <= 0 {
		return fmt.Errorf("tick rate must be > 0: got %d", c.TickRateHz)
	}
	return nil
}

// TickReport summarizes one draw-then-remove pass.
type TickReport struct {
	Tick           uint64          `json:"tick"`
	Observer       Vec3            `json:"observer"`
	Rebuilt        bool            `json:"rebuilt"`
	Drawn          []ChunkKey      `json:"drawn,omitempty"`
	PendingRemoval []ChunkKey      `json:"pending_removal,omitempty"`
	Removed        []ChunkKey      `json:"removed,omitempty"`
	Discarded      []ChunkKey      `json:"discarded,omitempty"`
	Registry       int             `json:"registry"`
	Queue          taskqueue.Stats `json:"queue"`
}

type Options struct {
	Logger       *zap.Logger
	Metrics      *Metrics
	QueueMetrics *taskqueue.Metrics
	// OnReport is called from the pass task once a tick finishes.
	OnReport func(TickReport)
}

type Streamer struct {
	cfg      Config
	log      *zap.Logger
	metrics  *Metrics
	onReport func(TickReport)

	factory  ChunkFactory
	registry *Registry
	queue    *taskqueue.Queue
	tracker  *Tracker

	tick atomic.Uint64

	lastMu sync.Mutex
	last   TickReport
}

func New(cfg Config, factory ChunkFactory, opts Options) (*Streamer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream config: %w", err)
	}
	if factory == nil {
		return nil, errors.New("stream: nil chunk factory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		cfg:      cfg,
		log:      logger.With(zap.String("component", "stream")),
		metrics:  opts.Metrics,
		onReport: opts.OnReport,
		factory:  factory,
		registry: NewRegistry(),
		queue:    taskqueue.New(taskqueue.Config{MaxConcurrent: cfg.MaxTasks}, logger, opts.QueueMetrics),
		tracker:  NewTracker(cfg.ChunkSize),
	}, nil
}

func (s *Streamer) Config() Config                 { return s.cfg }
func (s *Streamer) Registry() *Registry            { return s.registry }
func (s *Streamer) Queue() *taskqueue.Queue        { return s.queue }
func (s *Streamer) LastBuildPosition() Vec3        { return s.tracker.Last() }
func (s *Streamer) CurrentTick() uint64            { return s.tick.Load() }
func (s *Streamer) Wait(ctx context.Context) error { return s.queue.Wait(ctx) }

// LastReport returns the most recent finished tick.
func (s *Streamer) LastReport() TickReport {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// Start builds the observer's own chunk synchronously, schedules a draw pass
// and floods outward from it.
func (s *Streamer) Start(ctx context.Context, pos Vec3) <-chan TickReport {
	s.tracker.Reset(pos)
	cell := CellOf(pos, s.cfg.ChunkSize)
	s.ensureChunk(ctx, cell)
	out := s.submitPass(s.tick.Add(1), pos, true)
	if err := s.submit(s.floodTask(cell, s.cfg.Radius)); err != nil {
		s.log.Warn("initial flood not scheduled", zap.Error(err))
	}
	return out
}

// BuildNear schedules a flood fill of the given radius around pos. Earlier
// floods still in flight are not canceled; they are superseded and their
// revisits are no-ops.
func (s *Streamer) BuildNear(pos Vec3, radius int) error {
	cell := CellOf(pos, s.cfg.ChunkSize)
	return s.submit(func(ctx context.Context) error {
		s.ensureChunk(ctx, cell)
		return s.floodTask(cell, radius)(ctx)
	})
}

// Tick runs the per-frame streaming step: rebuild if the observer moved more
// than a chunk width, then one draw pass followed by the remove pass that
// consumes its pending set. The channel yields the report and closes.
func (s *Streamer) Tick(pos Vec3) <-chan TickReport {
	rebuilt := false
	if s.tracker.Observe(pos) {
		if err := s.BuildNear(pos, s.cfg.Radius); err != nil {
			s.log.Warn("rebuild not scheduled", zap.Error(err))
		} else {
			rebuilt = true
		}
	}
	return s.submitPass(s.tick.Add(1), pos, rebuilt)
}

// Run drives Start and Tick at the configured rate until ctx ends.
func (s *Streamer) Run(ctx context.Context, src PositionSource) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Start(ctx, src.Position())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(src.Position())
		}
	}
}

// Close stops the queue and waits for running tasks.
func (s *Streamer) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}

// SaveAll persists every chunk still registered. It is meant for shutdown,
// after Close.
func (s *Streamer) SaveAll(ctx context.Context) error {
	var errs []error
	s.registry.Range(func(h *Handle) bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		switch h.Status() {
		case Built, DrawPending, Drawn:
			if err := guard(func() error { return h.chunk.Save(ctx) }); err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", h.key, err))
			}
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LookupBlock finds the chunk containing pos without creating one.
func (s *Streamer) LookupBlock(pos Vec3) (*Handle, LocalPos, error) {
	key := KeyFromPosition(pos, s.cfg.ChunkSize)
	h, ok := s.registry.Get(key)
	if !ok {
		return nil, LocalPos{}, fmt.Errorf("%w: %s", ErrChunkNotFound, key)
	}
	return h, LocalCoord(pos, s.cfg.ChunkSize), nil
}

// BlockAt resolves the block at pos through the chunk's BlockSource.
func (s *Streamer) BlockAt(pos Vec3) (uint16, error) {
	h, local, err := s.LookupBlock(pos)
	if err != nil {
		return 0, err
	}
	switch h.Status() {
	case Unbuilt, Building, Removing:
		return 0, fmt.Errorf("%w: %s is %s", ErrChunkNotReady, h.key, h.Status())
	}
	src, ok := h.chunk.(BlockSource)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoBlockData, h.key)
	}
	b, ok := src.Block(local)
	if !ok {
		return 0, fmt.Errorf("%w: %s local %v", ErrNoBlockData, h.key, local)
	}
	return b, nil
}

func (s *Streamer) submit(task taskqueue.Task) error {
	if err := s.queue.Submit(task); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// ensureChunk is build-if-absent. Only the call that inserts the handle runs
// generation; a handle whose build failed is retried by the next visitor.
func (s *Streamer) ensureChunk(ctx context.Context, cell Cell) *Handle {
	key := cell.Key(s.cfg.ChunkSize)
	h, created := s.registry.LoadOrCreate(key, func() *Handle {
		return newHandle(key, s.factory.NewChunk(key, key.Anchor()))
	})
	if created || h.Status() == Unbuilt {
		s.build(ctx, h)
	}
	return h
}

func (s *Streamer) build(ctx context.Context, h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.transition(Unbuilt, Building) {
		return
	}
	err := guard(func() error { return h.chunk.Build(ctx) })
	s.metrics.onBuild(err)
	if err != nil {
		h.transition(Building, Unbuilt)
		s.log.Warn("chunk build failed", zap.Stringer("chunk", h.key), zap.Error(err))
		return
	}
	h.transition(Building, Built)
	h.transition(Built, DrawPending)
}

func (s *Streamer) canExpand(cell Cell, remaining int) bool {
	if remaining <= 0 {
		return false
	}
	if cell.Y < 0 || cell.Y > s.cfg.ColumnHeight {
		return false
	}
	if e := s.cfg.WorldExtent; e > 0 && (cell.X < -e || cell.X > e || cell.Z < -e || cell.Z > e) {
		return false
	}
	return true
}

func (s *Streamer) floodTask(cell Cell, remaining int) taskqueue.Task {
	return func(ctx context.Context) error {
		if !s.canExpand(cell, remaining) {
			return nil
		}
		for _, dir := range floodOrder {
			next := cell.Add(dir)
			s.ensureChunk(ctx, next)
			if err := s.queue.Submit(s.floodTask(next, remaining-1)); err != nil {
				if errors.Is(err, taskqueue.ErrClosed) {
					return nil
				}
				return err
			}
			if err := taskqueue.Yield(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// submitPass schedules one draw pass and the remove pass that consumes its
// pending set inside a single task, so removal never runs ahead of drawing.
// The channel is closed without a report if the queue drops the pass.
func (s *Streamer) submitPass(tick uint64, pos Vec3, rebuilt bool) <-chan TickReport {
	out := make(chan TickReport, 1)
	err := s.queue.SubmitWithDrop(func(ctx context.Context) error {
		defer close(out)
		rep := TickReport{Tick: tick, Observer: pos, Rebuilt: rebuilt}
		pending, drawn, discarded, err := s.drawPass(ctx, pos)
		rep.Drawn = drawn
		rep.PendingRemoval = pending
		rep.Discarded = discarded
		if err == nil {
			rep.Removed, err = s.removePass(ctx, pending)
		}
		rep.Registry = s.registry.Len()
		rep.Queue = s.queue.Stats()
		s.metrics.onTick(rep.Registry)

		s.lastMu.Lock()
		s.last = rep
		s.lastMu.Unlock()
		if s.onReport != nil {
			s.onReport(rep)
		}
		out <- rep
		return err
	}, func() { close(out) })
	if err != nil {
		s.log.Warn("tick pass not scheduled", zap.Uint64("tick", tick), zap.Error(err))
		close(out)
	}
	return out
}

// drawPass draws pending chunks and collects drawn chunks farther than the
// retention distance, in the order they were visited. Distant handles whose
// build failed are dropped from the registry on the spot.
func (s *Streamer) drawPass(ctx context.Context, observer Vec3) (pending, drawn, discarded []ChunkKey, err error) {
	limit := float64(s.cfg.Radius * s.cfg.ChunkSize)
	s.registry.Range(func(h *Handle) bool {
		if s.draw(ctx, h) {
			drawn = append(drawn, h.key)
		}
		far := h.anchor.Dist(observer) > limit
		switch st := h.Status(); {
		case st == Drawn && far:
			pending = append(pending, h.key)
		case st == Unbuilt && far:
			if s.discard(h) {
				discarded = append(discarded, h.key)
			}
		}
		if err = taskqueue.Yield(ctx); err != nil {
			return false
		}
		return true
	})
	return pending, drawn, discarded, err
}

func (s *Streamer) draw(ctx context.Context, h *Handle) bool {
	if h.Status() != DrawPending {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Status() != DrawPending {
		return false
	}
	err := guard(func() error { return h.chunk.Draw(ctx) })
	s.metrics.onDraw(err)
	if err != nil {
		s.log.Warn("chunk draw failed", zap.Stringer("chunk", h.key), zap.Error(err))
		return false
	}
	return h.transition(DrawPending, Drawn)
}

// removePass evicts the given keys in order. Keys already gone are skipped.
func (s *Streamer) removePass(ctx context.Context, keys []ChunkKey) (removed []ChunkKey, err error) {
	for _, k := range keys {
		h, ok := s.registry.Get(k)
		if !ok {
			continue
		}
		if !s.evict(ctx, h) {
			continue
		}
		removed = append(removed, k)
		if err := taskqueue.Yield(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// evict releases and saves a claimed handle, then unregisters it. The handle
// leaves the registry even when a collaborator fails.
func (s *Streamer) evict(ctx context.Context, h *Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.claimRemoval() {
		return false
	}
	defer s.registry.Remove(h.key, h)

	if err := guard(func() error { h.chunk.Release(); return nil }); err != nil {
		s.log.Warn("chunk release failed", zap.Stringer("chunk", h.key), zap.Error(err))
	}
	saveErr := guard(func() error { return h.chunk.Save(context.WithoutCancel(ctx)) })
	if saveErr != nil {
		s.log.Warn("chunk save failed", zap.Stringer("chunk", h.key), zap.Error(saveErr))
	}
	s.metrics.onRemove(saveErr)
	return true
}

// discard unregisters a handle that never finished building.
func (s *Streamer) discard(h *Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.transition(Unbuilt, Removing) {
		return false
	}
	s.registry.Remove(h.key, h)
	s.metrics.onDiscard()
	return true
}

// guard turns a collaborator panic into ErrChunkPanic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrChunkPanic, r)
		}
	}()
	return fn()
}
