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

package linkite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/linking"
)

// LinkerProvider abstracts over linker registries
type LinkerProvider interface {
	Get(modelName string) (linking.Linker, error)
	List() []string
	Close() error
}

// Ensure LinkerRegistry implements LinkerProvider
var _ LinkerProvider = (*LinkerRegistry)(nil)

// LinkerRegistry discovers linking models under a models directory and
// loads them lazily on first use. Loaded linkers are pooled and cached.
type LinkerRegistry struct {
	poolSize int
	logger   *zap.Logger
	cache    *LinkingCache

	mu        sync.Mutex
	available map[string]string // model name -> directory
	loaded    map[string]*CachedLinker
}

// NewLinkerRegistry scans modelsDir for linking models. Subdirectories that
// don't look like linking models are ignored.
func NewLinkerRegistry(modelsDir string, poolSize int, cache *LinkingCache, logger *zap.Logger) (*LinkerRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewLinkingCache(logger)
	}

	available := make(map[string]string)
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(modelsDir, entry.Name())
		if linking.IsLinkerModel(path) {
			available[entry.Name()] = path
		}
	}

	logger.Info("Discovered linking models",
		zap.String("modelsDir", modelsDir),
		zap.Int("count", len(available)))

	return &LinkerRegistry{
		poolSize:  poolSize,
		logger:    logger,
		cache:     cache,
		available: available,
		loaded:    make(map[string]*CachedLinker),
	}, nil
}

// Get returns the linker for modelName, loading it on first use.
func (r *LinkerRegistry) Get(modelName string) (linking.Linker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if linker, ok := r.loaded[modelName]; ok {
		return linker, nil
	}

	path, ok := r.available[modelName]
	if !ok {
		return nil, fmt.Errorf("unknown linking model: %s", modelName)
	}

	start := time.Now()
	pooled, err := linking.NewPooledLinker(linking.PooledLinkerConfig{
		ModelPath: path,
		PoolSize:  r.poolSize,
		Logger:    r.logger.Named(modelName),
	})
	if err != nil {
		return nil, fmt.Errorf("loading linking model %s: %w", modelName, err)
	}
	RecordModelLoadDuration(modelName, "linker", time.Since(start).Seconds())

	linker := r.cache.WrapLinker(pooled, modelName)
	r.loaded[modelName] = linker

	r.logger.Info("Loaded linking model",
		zap.String("model", modelName),
		zap.Duration("duration", time.Since(start)))
	return linker, nil
}

// List returns the names of all discovered models, sorted.
func (r *LinkerRegistry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.available))
	for name := range r.available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all loaded linkers.
func (r *LinkerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, linker := range r.loaded {
		if err := linker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	r.loaded = make(map[string]*CachedLinker)
	return errors.Join(errs...)
}
