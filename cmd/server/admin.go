package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/taskqueue"
	"voxelstream.ai/internal/sim/terrain"
)

type adminState struct {
	Tick      uint64            `json:"tick"`
	LastBuild stream.Vec3       `json:"last_build"`
	Registry  int               `json:"registry"`
	Queue     taskqueue.Stats   `json:"queue"`
	Last      stream.TickReport `json:"last_tick"`
	Store     chunkstore.Stats  `json:"store"`
}

type adminChunk struct {
	Key    stream.ChunkKey `json:"key"`
	Status string          `json:"status"`
}

// Local-only admin endpoints.
func registerAdmin(mux *http.ServeMux, s *stream.Streamer, store chunkstore.Store, logger *zap.Logger) {
	local := func(h http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			h(rw, r)
		}
	}

	mux.HandleFunc("/admin/v1/state", local(func(rw http.ResponseWriter, r *http.Request) {
		st := adminState{
			Tick:      s.CurrentTick(),
			LastBuild: s.LastBuildPosition(),
			Registry:  s.Registry().Len(),
			Queue:     s.Queue().Stats(),
			Last:      s.LastReport(),
		}
		if ss, err := store.Stats(r.Context()); err == nil {
			st.Store = ss
		}
		writeJSON(rw, http.StatusOK, st)
	}))

	mux.HandleFunc("/admin/v1/chunks", local(func(rw http.ResponseWriter, r *http.Request) {
		keys := s.Registry().Keys()
		out := make([]adminChunk, 0, len(keys))
		for _, k := range keys {
			if h, ok := s.Registry().Get(k); ok {
				out = append(out, adminChunk{Key: k, Status: h.Status().String()})
			}
		}
		writeJSON(rw, http.StatusOK, out)
	}))

	mux.HandleFunc("/admin/v1/save", local(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := s.SaveAll(ctx); err != nil {
			logger.Warn("admin save", zap.Error(err))
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "chunks": s.Registry().Len()})
	}))

	mux.HandleFunc("/admin/v1/block", local(func(rw http.ResponseWriter, r *http.Request) {
		p, ok := parsePos(r)
		if !ok {
			http.Error(rw, "x, y and z are required", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			b, err := s.BlockAt(p)
			if err != nil {
				writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "block": terrain.BlockName(b), "id": b})
		case http.MethodPost:
			id, err := strconv.ParseUint(r.URL.Query().Get("block"), 10, 16)
			if err != nil {
				http.Error(rw, "block must be a palette id", http.StatusBadRequest)
				return
			}
			if err := terrain.Edit(s, p, uint16(id)); err != nil {
				writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func parsePos(r *http.Request) (stream.Vec3, bool) {
	q := r.URL.Query()
	var v [3]float64
	for i, name := range []string{"x", "y", "z"} {
		f, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return stream.Vec3{}, false
		}
		v[i] = f
	}
	return stream.Vec3{X: v[0], Y: v[1], Z: v[2]}, true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
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
