// Command walk connects to the observer websocket and walks the observer in a
// straight line, logging the chunk events it receives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelstream.ai/internal/observerproto"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/observer/ws", "observer ws url")
		name  = flag.String("name", "walker", "observer name")
		speed = flag.Float64("speed", 4, "blocks per second")
		dirX  = flag.Float64("dx", 1, "walk direction x")
		dirZ  = flag.Float64("dz", 0, "walk direction z")
		every = flag.Duration("every", 100*time.Millisecond, "MOVE interval")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	logger = logger.With(zap.String("component", "walk"))
	defer func() { _ = logger.Sync() }()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := observerproto.HelloMsg{
		Type:            observerproto.TypeHello,
		ProtocolVersion: observerproto.Version,
		Name:            *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := make(chan [3]float64, 1)
	go read(ctx, conn, logger, start)

	var pos [3]float64
	select {
	case pos = <-start:
	case <-ctx.Done():
		return
	}

	step := *speed * every.Seconds()
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case <-ticker.C:
			pos[0] += *dirX * step
			pos[2] += *dirZ * step
			mv := observerproto.MoveMsg{Type: observerproto.TypeMove, ProtocolVersion: observerproto.Version, Pos: pos}
			if err := conn.WriteJSON(mv); err != nil {
				logger.Warn("send MOVE", zap.Error(err))
				return
			}
		}
	}
}

// read logs server messages. The first TICK's observer position is sent on
// start so the walk continues from wherever the server spawned the observer.
func read(ctx context.Context, conn *websocket.Conn, logger *zap.Logger, start chan<- [3]float64) {
	started := false
	for ctx.Err() == nil {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Info("connection closed", zap.Error(err))
			return
		}
		var env observerproto.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		switch env.Type {
		case observerproto.TypeWelcome:
			var w observerproto.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Info("WELCOME", zap.String("session", w.SessionID), zap.Int("chunk_size", w.WorldParams.ChunkSize), zap.Int64("seed", w.WorldParams.Seed))
		case observerproto.TypeChunkDrawn:
			var d observerproto.ChunkDrawnMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			logger.Debug("chunk drawn", zap.String("key", d.Key), zap.Int("faces", d.Faces))
		case observerproto.TypeChunkRemoved:
			var rm observerproto.ChunkRemovedMsg
			if err := json.Unmarshal(msg, &rm); err != nil {
				continue
			}
			logger.Debug("chunk removed", zap.String("key", rm.Key))
		case observerproto.TypeTick:
			var t observerproto.TickMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				continue
			}
			if !started {
				started = true
				start <- t.Observer
			}
			if t.Rebuilt || len(t.Removed) > 0 {
				logger.Info("tick", zap.Uint64("tick", t.Tick), zap.Bool("rebuilt", t.Rebuilt), zap.Int("removed", len(t.Removed)), zap.Int("registry", t.Registry))
			}
		case observerproto.TypeError:
			var e observerproto.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Warn("server error", zap.String("code", e.Code), zap.String("message", e.Message))
		}
	}
}
