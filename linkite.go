// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linkite is the entity linking service: it discovers linking
// models on disk and serves constrained-generation disambiguation over HTTP.
package linkite

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// NodeConfig holds the service configuration.
type NodeConfig struct {
	// ApiUrl is the listen address, e.g. "http://0.0.0.0:8092".
	ApiUrl string `json:"api_url" mapstructure:"api_url"`

	// ModelsDir is scanned for linking model directories.
	ModelsDir string `json:"models_dir" mapstructure:"models_dir"`

	// PoolSize is the per-model linker pool size (0 = CPU count).
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
}

// LinkiteNode serves the linking API.
type LinkiteNode struct {
	logger         *zap.Logger
	linkerProvider LinkerProvider
	linkingCache   *LinkingCache
}

// NewLinkiteNode assembles a node from its parts.
func NewLinkiteNode(provider LinkerProvider, cache *LinkingCache, logger *zap.Logger) *LinkiteNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkiteNode{
		logger:         logger,
		linkerProvider: provider,
		linkingCache:   cache,
	}
}

// Handler returns the node's HTTP handler.
func (ln *LinkiteNode) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints outside /api for k8s compatibility
	mux.HandleFunc("GET /healthz", ln.handleHealthz)
	mux.HandleFunc("GET /readyz", ln.handleReadyz)

	mux.HandleFunc("POST /api/link", ln.handleLink)
	mux.HandleFunc("POST /api/entities", ln.handleSetEntities)
	mux.HandleFunc("GET /api/models", ln.handleModels)
	mux.HandleFunc("GET /api/version", ln.handleVersion)

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(mux)
}

// corsMiddleware adds permissive CORS headers for the Linkite API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Serve runs the service until ctx is cancelled. readyC, when non-nil, is
// closed once the server accepts connections.
func Serve(ctx context.Context, config NodeConfig, logger *zap.Logger, readyC chan struct{}) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		return err
	}

	linkingCache := NewLinkingCache(logger.Named("linking-cache"))
	defer linkingCache.Close()

	registry, err := NewLinkerRegistry(config.ModelsDir, config.PoolSize, linkingCache, logger.Named("registry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Closing linker registry", zap.Error(err))
		}
	}()

	node := NewLinkiteNode(registry, linkingCache, logger)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     node.Handler(),
		ReadTimeout: 540 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Linkite's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	}

	logger.Info("HTTP server stopped")
	return nil
}
