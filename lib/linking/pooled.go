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

package linking

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Ensure PooledLinker implements the Linker interface
var _ Linker = (*PooledLinker)(nil)

// PooledLinkerConfig holds configuration for creating a PooledLinker.
type PooledLinkerConfig struct {
	// ModelPath is the path to the model directory
	ModelPath string

	// PoolSize determines how many concurrent requests can be processed
	// (0 = auto-detect from CPU count)
	PoolSize int

	// Logger for logging (nil = no logging)
	Logger *zap.Logger
}

// PooledLinker manages multiple RegenLinker instances for concurrent
// linking. The entity trie is built once and shared across the pool.
type PooledLinker struct {
	linkers    []*RegenLinker
	sem        *semaphore.Weighted
	nextLinker atomic.Uint64
	logger     *zap.Logger
	poolSize   int
}

// NewPooledLinker creates a pool of RegenLinkers over one model directory.
func NewPooledLinker(cfg PooledLinkerConfig) (*PooledLinker, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	logger.Info("Initializing pooled linker",
		zap.String("modelPath", cfg.ModelPath),
		zap.Int("poolSize", poolSize))

	linkers := make([]*RegenLinker, poolSize)
	for i := 0; i < poolSize; i++ {
		linker, err := NewRegenLinker(cfg.ModelPath, logger)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = linkers[j].Close()
			}
			logger.Error("Failed to create linker",
				zap.Int("index", i),
				zap.Error(err))
			return nil, fmt.Errorf("creating linker %d: %w", i, err)
		}
		linkers[i] = linker
	}

	logger.Info("Successfully created pooled linkers", zap.Int("count", poolSize))

	return &PooledLinker{
		linkers:  linkers,
		sem:      semaphore.NewWeighted(int64(poolSize)),
		logger:   logger,
		poolSize: poolSize,
	}, nil
}

// newPooledLinkerFrom builds a pool from existing linkers.
func newPooledLinkerFrom(linkers []*RegenLinker, logger *zap.Logger) *PooledLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PooledLinker{
		linkers:  linkers,
		sem:      semaphore.NewWeighted(int64(len(linkers))),
		logger:   logger,
		poolSize: len(linkers),
	}
}

// SetEntities builds the token trie on the first linker and shares it with
// the rest of the pool.
func (p *PooledLinker) SetEntities(entities []Entity) error {
	if err := p.linkers[0].SetEntities(entities); err != nil {
		return err
	}
	shared := p.linkers[0].Trie()
	for _, l := range p.linkers[1:] {
		l.SetTrie(shared)
	}
	return nil
}

// Predict links mentions using the next free linker in the pool.
// Thread-safe: a semaphore bounds concurrent model access.
func (p *PooledLinker) Predict(ctx context.Context, docs []Document) ([][]Span, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring linker slot: %w", err)
	}
	defer p.sem.Release(1)

	idx := int(p.nextLinker.Add(1) % uint64(p.poolSize))
	return p.linkers[idx].Predict(ctx, docs)
}

// Close releases all pooled linkers.
func (p *PooledLinker) Close() error {
	var errs []error
	for i, l := range p.linkers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing linker %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
