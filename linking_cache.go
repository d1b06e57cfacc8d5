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
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/linkite/lib/linking"
)

// LinkingCacheTTL is the default TTL for cached linking results
const LinkingCacheTTL = 2 * time.Minute

// Ensure CachedLinker implements the Linker interface
var _ linking.Linker = (*CachedLinker)(nil)

// CachedLinker wraps a linker with caching support
type CachedLinker struct {
	linker  linking.Linker
	name    string
	cache   *ttlcache.Cache[string, [][]linking.Span]
	sfGroup *singleflight.Group
	logger  *zap.Logger

	// generation is bumped on vocabulary changes so stale results cannot
	// be served.
	generation atomic.Uint64

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCachedLinker wraps a linker with caching
func NewCachedLinker(
	linker linking.Linker,
	name string,
	cache *ttlcache.Cache[string, [][]linking.Span],
	logger *zap.Logger,
) *CachedLinker {
	return &CachedLinker{
		linker:  linker,
		name:    name,
		cache:   cache,
		sfGroup: &singleflight.Group{},
		logger:  logger,
	}
}

// Predict links mentions with caching support
func (c *CachedLinker) Predict(ctx context.Context, docs []linking.Document) ([][]linking.Span, error) {
	key := c.cacheKey(docs)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("linking")
		c.logger.Debug("Linking cache hit",
			zap.String("model", c.name),
			zap.Int("num_docs", len(docs)))
		return item.Value(), nil
	}

	// Singleflight deduplicates concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("linking")

		start := time.Now()
		spans, err := c.linker.Predict(ctx, docs)
		if err != nil {
			return nil, err
		}

		RecordRequestDuration("link", c.name, "200", time.Since(start).Seconds())

		c.cache.Set(key, spans, ttlcache.DefaultTTL)

		c.logger.Debug("Linking completed and cached",
			zap.String("model", c.name),
			zap.Int("num_docs", len(docs)),
			zap.Duration("duration", time.Since(start)))

		return spans, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for linking request",
			zap.String("model", c.name))
	}

	return result.([][]linking.Span), nil
}

// SetEntities replaces the vocabulary and invalidates cached results.
func (c *CachedLinker) SetEntities(entities []linking.Entity) error {
	if err := c.linker.SetEntities(entities); err != nil {
		return err
	}
	c.generation.Add(1)
	RecordEntityUpdate(c.name)
	return nil
}

// cacheKey generates a unique cache key from model, vocabulary generation,
// and document contents
func (c *CachedLinker) cacheKey(docs []linking.Document) string {
	h := xxhash.New()

	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")

	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], c.generation.Load())
	_, _ = h.Write(gen[:])

	for i, doc := range docs {
		_, _ = h.WriteString("d")
		// Use index to ensure order matters
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(doc.Text)
		for _, m := range doc.Mentions {
			var off [8]byte
			binary.BigEndian.PutUint32(off[:4], uint32(m.Start))
			binary.BigEndian.PutUint32(off[4:], uint32(m.End))
			_, _ = h.Write(off[:])
		}
		_, _ = h.WriteString("|")
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Close closes the underlying linker
func (c *CachedLinker) Close() error {
	return c.linker.Close()
}

// Stats returns cache statistics for this linker
func (c *CachedLinker) Stats() LinkingCacheStats {
	return LinkingCacheStats{
		Model:            c.name,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// LinkingCacheStats holds cache statistics for a linker
type LinkingCacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// LinkingCache manages caching for multiple linkers
type LinkingCache struct {
	cache  *ttlcache.Cache[string, [][]linking.Span]
	logger *zap.Logger
}

// NewLinkingCache creates a new linking cache
func NewLinkingCache(logger *zap.Logger) *LinkingCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, [][]linking.Span](LinkingCacheTTL),
	)
	go cache.Start()

	return &LinkingCache{
		cache:  cache,
		logger: logger,
	}
}

// WrapLinker wraps a linker with caching
func (lc *LinkingCache) WrapLinker(linker linking.Linker, name string) *CachedLinker {
	return NewCachedLinker(linker, name, lc.cache, lc.logger.Named(name))
}

// Close stops the cache
func (lc *LinkingCache) Close() {
	lc.cache.Stop()
}
