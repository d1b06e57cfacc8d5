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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/linking"
)

// countingLinker records Predict calls and returns canned spans.
type countingLinker struct {
	calls    atomic.Uint64
	entities atomic.Uint64
	spans    [][]linking.Span
}

func (c *countingLinker) Predict(_ context.Context, docs []linking.Document) ([][]linking.Span, error) {
	c.calls.Add(1)
	return c.spans, nil
}

func (c *countingLinker) SetEntities(entities []linking.Entity) error {
	c.entities.Add(1)
	return nil
}

func (c *countingLinker) Close() error { return nil }

func newCountingLinker() *countingLinker {
	return &countingLinker{
		spans: [][]linking.Span{{{Start: 0, End: 4, Label: "York", Score: 0.9}}},
	}
}

func TestCachedLinkerHitsAndMisses(t *testing.T) {
	cache := NewLinkingCache(zap.NewNop())
	defer cache.Close()

	inner := newCountingLinker()
	cached := cache.WrapLinker(inner, "test-model")

	docs := []linking.Document{{Text: "York is a city", Mentions: []linking.Mention{{Start: 0, End: 4}}}}

	spans, err := cached.Predict(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, inner.spans, spans)
	assert.Equal(t, uint64(1), inner.calls.Load())

	// Identical request served from cache.
	_, err = cached.Predict(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inner.calls.Load())

	stats := cached.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCachedLinkerKeyDependsOnDocs(t *testing.T) {
	cache := NewLinkingCache(zap.NewNop())
	defer cache.Close()

	inner := newCountingLinker()
	cached := cache.WrapLinker(inner, "test-model")

	_, err := cached.Predict(context.Background(), []linking.Document{{Text: "a", Mentions: []linking.Mention{{Start: 0, End: 1}}}})
	require.NoError(t, err)
	_, err = cached.Predict(context.Background(), []linking.Document{{Text: "b", Mentions: []linking.Mention{{Start: 0, End: 1}}}})
	require.NoError(t, err)
	// Same text, different mention offsets.
	_, err = cached.Predict(context.Background(), []linking.Document{{Text: "b", Mentions: []linking.Mention{{Start: 0, End: 2}}}})
	require.NoError(t, err)

	assert.Equal(t, uint64(3), inner.calls.Load())
}

func TestCachedLinkerSetEntitiesInvalidates(t *testing.T) {
	cache := NewLinkingCache(zap.NewNop())
	defer cache.Close()

	inner := newCountingLinker()
	cached := cache.WrapLinker(inner, "test-model")

	docs := []linking.Document{{Text: "York", Mentions: []linking.Mention{{Start: 0, End: 4}}}}

	_, err := cached.Predict(context.Background(), docs)
	require.NoError(t, err)
	require.NoError(t, cached.SetEntities([]linking.Entity{{Name: "New York"}}))
	assert.Equal(t, uint64(1), inner.entities.Load())

	// Vocabulary changed, so the cached result must not be reused.
	_, err = cached.Predict(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), inner.calls.Load())
}
