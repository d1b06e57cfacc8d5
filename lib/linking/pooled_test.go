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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) *PooledLinker {
	t.Helper()
	linkers := make([]*RegenLinker, size)
	for i := range linkers {
		linker, _ := newTestLinker(t)
		linkers[i] = linker
	}
	return newPooledLinkerFrom(linkers, nil)
}

func TestPooledLinkerSharesTrie(t *testing.T) {
	pool := newTestPool(t, 3)
	require.NoError(t, pool.SetEntities([]Entity{{Name: "5"}, {Name: "8"}}))

	shared := pool.linkers[0].Trie()
	for _, l := range pool.linkers[1:] {
		assert.Same(t, shared, l.Trie())
	}
}

func TestPooledLinkerPredict(t *testing.T) {
	pool := newTestPool(t, 2)
	require.NoError(t, pool.SetEntities([]Entity{{Name: "5 8"}, {Name: "8"}}))

	docs := []Document{{Text: "3 4", Mentions: []Mention{{Start: 0, End: 1}}}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spans, err := pool.Predict(context.Background(), docs)
			assert.NoError(t, err)
			assert.Len(t, spans[0], 1)
			assert.Equal(t, "5 8", spans[0][0].Label)
		}()
	}
	wg.Wait()
}

func TestPooledLinkerClose(t *testing.T) {
	pool := newTestPool(t, 2)
	require.NoError(t, pool.Close())
}
