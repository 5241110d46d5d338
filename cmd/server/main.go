package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/persistence/chunkstore"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/taskqueue"
	"voxelstream.ai/internal/sim/terrain"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		tuningPath  = flag.String("tuning", "./configs/stream.yaml", "path to stream.yaml (empty: defaults)")
		dev         = flag.Bool("dev", false, "human-readable development logging")
		allowRemote = flag.Bool("allow_remote", false, "accept non-loopback observer clients")
	)
	flag.Parse()

	logger := newLogger(*dev)
	defer func() { _ = logger.Sync() }()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if *tuningPath != "" && errors.Is(err, os.ErrNotExist) {
			logger.Warn("tuning not found; using defaults", zap.String("path", *tuningPath))
			tune, _ = tuning.Load("")
		} else {
			logger.Fatal("load tuning", zap.Error(err))
		}
	}

	store, err := chunkstore.Open(tune.Store())
	if err != nil {
		logger.Fatal("open chunk store", zap.Error(err), zap.String("backend", tune.Storage.Backend))
	}
	logStoreStats(logger, "chunk store opened", store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gen := terrain.DefaultGenerator(tune.Seed)
	spawn := stream.Vec3{Y: float64(gen.SurfaceHeight(0, 0) + 2)}
	pos := stream.NewSharedPosition(spawn)

	var tickLog *persistlog.TickLogger
	if dir := strings.TrimSpace(tune.Logs.TickDir); dir != "" {
		tickLog = persistlog.NewTickLogger(dir)
	}

	// The hub needs the streamer for ticks and the streamer needs the hub as
	// its sink; tickRef breaks the cycle.
	ref := &tickRef{}
	hub := observer.NewServer(observer.Config{
		Params: observerproto.WorldParams{
			TickRateHz:   tune.TickRateHz,
			ChunkSize:    tune.ChunkSize,
			ColumnHeight: tune.ColumnHeight,
			WorldExtent:  tune.WorldExtent,
			Radius:       tune.Radius,
			Seed:         tune.Seed,
		},
		Palette:        palette(),
		MaxMovesPerSec: tune.Observer.MaxMovesPerSec,
		Burst:          tune.Observer.Burst,
		QueueSize:      tune.Observer.QueueSize,
		AllowRemote:    *allowRemote,
	}, pos, ref, logger, reg)

	streamer, err := stream.New(tune.Stream(), terrain.NewFactory(gen, tune.ChunkSize, store, hub, logger), stream.Options{
		Logger:       logger,
		Metrics:      stream.NewMetrics(reg, "voxelstream"),
		QueueMetrics: taskqueue.NewMetrics(reg, "voxelstream"),
		OnReport: func(rep stream.TickReport) {
			hub.PublishTick(rep)
			if tickLog != nil {
				if err := tickLog.WriteTick(rep); err != nil {
					logger.Warn("tick log write", zap.Error(err))
				}
			}
		},
	})
	if err != nil {
		logger.Fatal("streamer", zap.Error(err))
	}
	ref.s = streamer

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/bootstrap", hub.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", hub.WSHandler())

	if envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, streamer, store, logger)
	} else {
		logger.Info("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Info("pprof endpoints disabled (VS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := streamer.Run(gctx, pos); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("streamer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ln, err := net.Listen("tcp", *addr)
		if err != nil {
			return err
		}
		logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Any("spawn", spawn))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	shutdown(logger, streamer, store, tickLog)
}

// shutdown stops the task queue, persists what is still registered and
// closes the store.
func shutdown(logger *zap.Logger, s *stream.Streamer, store chunkstore.Store, tickLog *persistlog.TickLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Close(ctx); err != nil {
		logger.Warn("queue close", zap.Error(err))
	}
	if err := s.SaveAll(ctx); err != nil {
		logger.Warn("save chunks", zap.Error(err))
	}
	if tickLog != nil {
		if err := tickLog.Close(); err != nil {
			logger.Warn("tick log close", zap.Error(err))
		}
	}
	logStoreStats(logger, "chunk store closing", store)
	if err := store.Close(); err != nil {
		logger.Warn("chunk store close", zap.Error(err))
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return l.With(zap.String("service", "voxelstream"))
}

func logStoreStats(logger *zap.Logger, msg string, store chunkstore.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := store.Stats(ctx)
	if err != nil {
		logger.Warn("chunk store stats", zap.Error(err))
		return
	}
	logger.Info(msg,
		zap.Int("chunks", st.Chunks),
		zap.String("size", humanize.Bytes(uint64(st.Bytes))),
	)
}

func palette() []string {
	out := make([]string, 0, terrain.Water+1)
	for b := terrain.Air; b <= terrain.Water; b++ {
		out = append(out, terrain.BlockName(b))
	}
	return out
}

type tickRef struct{ s *stream.Streamer }

func (r *tickRef) CurrentTick() uint64 {
	if r.s == nil {
		return 0
	}
	return r.s.CurrentTick()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
