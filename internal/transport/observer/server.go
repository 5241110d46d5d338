// Package observer serves the websocket that streams chunk events to
// observer clients and feeds their MOVE messages back to the streamer.
package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/terrain"
)

type Config struct {
	Params  observerproto.WorldParams
	Palette []string

	MaxMovesPerSec float64
	Burst          int
	QueueSize      int
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
}

// TickSource reports the streamer's current tick.
type TickSource interface {
	CurrentTick() uint64
}

type session struct {
	id      string
	name    string
	out     chan []byte
	limiter *rate.Limiter
}

// Server is the observer hub. It implements terrain.Sink; events are fanned
// out to every session without blocking the caller.
type Server struct {
	cfg   Config
	log   *zap.Logger
	pos   *stream.SharedPosition
	ticks TickSource

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	sent     prometheus.Counter
	dropped  prometheus.Counter
	rejected prometheus.Counter
	active   prometheus.Gauge
}

var _ terrain.Sink = (*Server)(nil)

// NewServer returns a hub writing observer moves into pos. reg may be nil.
func NewServer(cfg Config, pos *stream.SharedPosition, ticks TickSource, logger *zap.Logger, reg prometheus.Registerer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxMovesPerSec <= 0 {
		cfg.MaxMovesPerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "voxelstream", Subsystem: "observer", Name: name, Help: help}
	}
	return &Server{
		cfg:   cfg,
		log:   logger.With(zap.String("component", "observer")),
		pos:   pos,
		ticks: ticks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
		sent:     f.NewCounter(opts("messages_sent_total", "Messages queued to observer sessions")),
		dropped:  f.NewCounter(opts("messages_dropped_total", "Messages dropped because a session queue was full")),
		rejected: f.NewCounter(opts("moves_rejected_total", "MOVE messages rejected by the rate limit")),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelstream", Subsystem: "observer", Name: "sessions", Help: "Connected observer sessions",
		}),
	}
}

func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) ChunkDrawn(ev terrain.DrawEvent) {
	msg := observerproto.ChunkDrawnMsg{
		Type:            observerproto.TypeChunkDrawn,
		ProtocolVersion: observerproto.Version,
		Key:             ev.Key.String(),
		Anchor:          [3]int{ev.Key.X, ev.Key.Y, ev.Key.Z},
		Faces:           ev.Mesh.Faces,
		Solid:           ev.Mesh.Solid,
	}
	if len(ev.Mesh.ByBlock) > 0 {
		msg.ByBlock = make(map[string]int, len(ev.Mesh.ByBlock))
		for b, n := range ev.Mesh.ByBlock {
			msg.ByBlock[terrain.BlockName(b)] = n
		}
	}
	s.broadcastJSON(msg)
}

func (s *Server) ChunkRemoved(key stream.ChunkKey) {
	s.broadcastJSON(observerproto.ChunkRemovedMsg{
		Type:            observerproto.TypeChunkRemoved,
		ProtocolVersion: observerproto.Version,
		Key:             key.String(),
	})
}

// PublishTick broadcasts a finished tick. It fits stream.Options.OnReport.
func (s *Server) PublishTick(rep stream.TickReport) {
	s.broadcastJSON(observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            rep.Tick,
		Observer:        [3]float64{rep.Observer.X, rep.Observer.Y, rep.Observer.Z},
		Rebuilt:         rep.Rebuilt,
		Drawn:           keyStrings(rep.Drawn),
		PendingRemoval:  keyStrings(rep.PendingRemoval),
		Removed:         keyStrings(rep.Removed),
		Registry:        rep.Registry,
		Queue: observerproto.QueueStats{
			Active:    rep.Queue.Active,
			Waiting:   rep.Queue.Waiting,
			Submitted: rep.Queue.Submitted,
			Completed: rep.Queue.Completed,
			Failed:    rep.Queue.Failed,
		},
	})
}

func keyStrings(keys []stream.ChunkKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func (s *Server) broadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal observer message", zap.Error(err))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		s.enqueue(sess, b)
	}
}

// enqueue never blocks; a full queue drops the message.
func (s *Server) enqueue(sess *session, b []byte) {
	select {
	case sess.out <- b:
		s.sent.Inc()
	default:
		s.dropped.Inc()
	}
}

func (s *Server) sendError(sess *session, code, message string) {
	b, _ := json.Marshal(observerproto.NewError(code, message))
	s.enqueue(sess, b)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.cfg.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		p := s.pos.Position()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Observer:        [3]float64{p.X, p.Y, p.Z},
			WorldParams:     s.cfg.Params,
			BlockPalette:    s.cfg.Palette,
			Sessions:        s.Sessions(),
		}
		if s.ticks != nil {
			resp.Tick = s.ticks.CurrentTick()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send HELLO first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hello observerproto.HelloMsg
		if err := observerproto.Validate(observerproto.TypeHello, msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
			return
		}
		if err := json.Unmarshal(msg, &hello); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad hello")
			return
		}
		if hello.ProtocolVersion != observerproto.Version {
			b, _ := json.Marshal(observerproto.NewError(observerproto.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion))
			_ = conn.WriteMessage(websocket.TextMessage, b)
			closeWith(conn, websocket.ClosePolicyViolation, "protocol version")
			return
		}

		sess := &session{
			id:      uuid.NewString(),
			name:    hello.Name,
			out:     make(chan []byte, s.cfg.QueueSize),
			limiter: rate.NewLimiter(rate.Limit(s.cfg.MaxMovesPerSec), s.cfg.Burst),
		}
		welcome := observerproto.WelcomeMsg{
			Type:            observerproto.TypeWelcome,
			ProtocolVersion: observerproto.Version,
			SessionID:       sess.id,
			WorldParams:     s.cfg.Params,
			BlockPalette:    s.cfg.Palette,
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(welcome); err != nil {
			return
		}

		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.active.Set(float64(len(s.sessions)))
		s.mu.Unlock()
		log := s.log.With(zap.String("session", sess.id), zap.String("name", sess.name))
		log.Info("observer joined")
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.active.Set(float64(len(s.sessions)))
			s.mu.Unlock()
			log.Info("observer left")
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleClient(sess, msg, log)
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handleClient(sess *session, msg []byte, log *zap.Logger) {
	var env observerproto.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.sendError(sess, observerproto.ErrProtoBadRequest, "invalid json")
		return
	}
	switch env.Type {
	case observerproto.TypeMove:
		if err := observerproto.Validate(env.Type, msg); err != nil {
			s.sendError(sess, observerproto.ErrBadRequest, err.Error())
			return
		}
		if !sess.limiter.Allow() {
			s.rejected.Inc()
			s.sendError(sess, observerproto.ErrRateLimit, "too many MOVE messages")
			return
		}
		var mv observerproto.MoveMsg
		if err := json.Unmarshal(msg, &mv); err != nil {
			s.sendError(sess, observerproto.ErrBadRequest, "bad move")
			return
		}
		p := stream.Vec3{X: mv.Pos[0], Y: mv.Pos[1], Z: mv.Pos[2]}
		s.pos.Set(p)
		log.Debug("observer moved", zap.Float64("x", p.X), zap.Float64("y", p.Y), zap.Float64("z", p.Z))
	case observerproto.TypeHello:
		// Re-sending HELLO is harmless.
	default:
		s.sendError(sess, observerproto.ErrBadRequest, "unknown message type "+env.Type)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
