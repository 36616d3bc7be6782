// Package server is the HTTP service around the recognizer. It stores
// labelled image data, runs standardize, test and train rounds over it,
// and answers recognition requests with the published model.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/rounddb"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/glyphs/server/storagecache"
	"github.com/cyclopcam/glyphs/server/training"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	HotReloadWWW bool
	Log          logs.Log
	Models       *ModelHost
	Index        *imagedata.LabelIndex
	Pipeline     *training.Pipeline
	Rounds       *rounddb.RoundDB

	config       Config
	signalIn     chan os.Signal
	httpServer   *http.Server
	httpRouter   *httprouter.Router
	wsUpgrader   websocket.Upgrader
	storage      storage.Storage
	storageCache *storagecache.StorageCache
}

// NewServer reads the JSON config file, and creates a server with the blob store it names.
// If hotReloadWWW is true, the demo page is served from server/demo instead of the binary.
func NewServer(configFile string, hotReloadWWW bool) (*Server, error) {
	cfg := Config{}
	if cfgB, err := os.ReadFile(configFile); err != nil {
		return nil, err
	} else {
		if err := json.Unmarshal(cfgB, &cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
		}
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}

	store, err := cfg.Storage.open(logger)
	if err != nil {
		return nil, err
	}
	cfg.hotReloadWWW = hotReloadWWW
	return NewServerWithStorage(logger, cfg, store)
}

// NewServerWithStorage creates a server on top of an existing blob store
func NewServerWithStorage(logger logs.Log, cfg Config, store storage.Storage) (*Server, error) {
	cfg.setDefaults()
	rounds, err := rounddb.Open(logger, cfg.RoundDB, false)
	if err != nil {
		return nil, err
	}

	// Models are small, but they're read for every test unit, so we keep a local copy
	storageCache, err := storagecache.NewStorageCache(logger, store, cfg.Cache, cfg.CacheBytes)
	if err != nil {
		return nil, err
	}

	index := imagedata.NewLabelIndex(logger, store)
	if err := index.Load(); err != nil {
		return nil, err
	}

	models := NewModelHost(logger, storageCache)
	if err := models.Reload(); err != nil {
		return nil, err
	}

	pipeline := training.NewPipeline(logger, index, store, rounds, cfg.coordinatorConfig(), models.Load)
	pipeline.OnPublish(func() {
		if err := models.Reload(); err != nil {
			logger.Errorf("Failed to load newly published model: %v", err)
		}
	})

	if cfg.AdminKeyHash == "" {
		logger.Warnf("No adminKeyHash in config, so admin APIs are disabled")
	}

	s := &Server{
		HotReloadWWW: cfg.hotReloadWWW,
		Log:          logger,
		Models:       models,
		Index:        index,
		Pipeline:     pipeline,
		Rounds:       rounds,
		config:       cfg,
		storage:      store,
		storageCache: storageCache,
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

// ListenForKillSignals shuts the server down on SIGINT or SIGTERM
func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		if sig, ok := <-s.signalIn; ok {
			s.Log.Infof("Received %v, shutting down", sig)
			s.Shutdown()
		}
	}()
}

// Shutdown cancels running rounds without waiting for them, then stops the HTTP server
func (s *Server) Shutdown() {
	s.Log.Infof("Shutting down")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	s.Pipeline.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown: %v", err)
		}
	}
	s.Log.Close()
}
