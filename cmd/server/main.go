package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chunkstream.dev/internal/chunk"
	"chunkstream.dev/internal/config"
	"chunkstream.dev/internal/protocol"
	"chunkstream.dev/internal/store"
	"chunkstream.dev/internal/store/chunkdb"
	"chunkstream.dev/internal/stream"
	"chunkstream.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "", "path to stream.yaml (optional)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer closeStore()

	params := protocol.WorldParams{
		ChunkSize:    chunk.Size,
		ViewDistance: cfg.ViewDistance,
		VerticalBand: cfg.VerticalBand,
		TickRateHz:   cfg.TickRateHz,
	}

	streamer, err := stream.New(st, stream.Options{
		Workers:          cfg.Workers,
		ViewDistance:     cfg.ViewDistance,
		VerticalBand:     cfg.VerticalBand,
		MaxCachedChunks:  cfg.MaxCachedChunks,
		AutoSaveInterval: cfg.AutoSaveSeconds,
		DiffEveryTicks:   cfg.DiffEveryTicks,
		EvictEveryTicks:  cfg.EvictEveryTicks,
		EventBuffer:      cfg.EventBufferSize,
		Logger:           log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("start streamer: %v", err)
	}

	wsSrv := ws.NewServer(streamer, params, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	streamer.SetHandlers(wsSrv.Handlers())

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(streamer.GetStatistics())
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	// Controller tick loop.
	stopTicks := make(chan struct{})
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		interval := time.Second / time.Duration(cfg.TickRateHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-stopTicks:
				return
			case now := <-ticker.C:
				streamer.Tick(now.Sub(last).Seconds())
				last = now
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	close(stopTicks)
	<-tickDone
	_ = httpSrv.Close()
	if err := streamer.Close(); err != nil {
		logger.Printf("streamer close: %v", err)
	}
	logger.Printf("bye")
}

func openStore(cfg config.Config, logger *log.Logger) (store.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		logger.Printf("store: memory (nothing persists across restarts)")
		return store.NewMemory(), func() {}, nil
	default:
		path := cfg.DBPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "chunks.db")
		}
		db, err := chunkdb.Open(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("store: sqlite at %s", path)
		return db, func() { _ = db.Close() }, nil
	}
}
