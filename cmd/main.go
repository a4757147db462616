package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/broadcast"
	"github.com/dgduncan/go-offline-cache/caches/leveldbcache"
	"github.com/dgduncan/go-offline-cache/syncqueue"
)

func main() {
	var configPath string
	var listenAddr string
	flag.StringVar(&configPath, "config", "offline.yaml", "path to config file")
	flag.StringVar(&listenAddr, "listen", ":8081", "sync endpoint listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := gooffline.LoadConfig(configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := leveldbcache.Open("./data/cache")
	if err != nil {
		logger.Error("open cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	manager, err := gooffline.NewStoreManager(store, cfg.Version, cfg.Origin, nil, logger, nil)
	if err != nil {
		logger.Error("create store manager", "error", err)
		os.Exit(1)
	}

	// install: all-or-nothing precache of the app shell. A failure keeps the
	// previous cache version authoritative.
	if err := manager.Initialize(ctx, cfg.Precache); err != nil {
		logger.Error("precache failed, previous cache version stays active", "error", err)
		os.Exit(1)
	}

	// activation: the new region is complete, stale generations go
	if err := manager.PurgeStale(ctx); err != nil {
		logger.Error("purge stale regions", "error", err)
		os.Exit(1)
	}

	wrap, err := gooffline.New(manager, &cfg, nil, logger)
	if err != nil {
		logger.Error("create transport", "error", err)
		os.Exit(1)
	}
	client := &http.Client{Transport: wrap(http.DefaultTransport)}

	hub := broadcast.NewHub(nil, logger)
	defer hub.Close()

	taskStore, err := syncqueue.OpenLevelStore("./data/queue")
	if err != nil {
		logger.Error("open task store", "error", err)
		os.Exit(1)
	}
	defer taskStore.Close()

	queue, err := syncqueue.New(taskStore, client, hub, logger, nil)
	if err != nil {
		logger.Error("create sync queue", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Handle("/sync/ws", hub)
	r.Post("/sync/{tag}", func(w http.ResponseWriter, req *http.Request) {
		tag := chi.URLParam(req, "tag")
		if err := queue.ConnectivityRestored(req.Context(), tag); err != nil {
			logger.Error("replay failed", "tag", tag, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sync endpoint listening", "addr", listenAddr, "origin", cfg.Origin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
