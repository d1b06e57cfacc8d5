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

package generation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSoftmaxOverRenormalizes(t *testing.T) {
	// Token 0 has the largest logit but is excluded from the allowed set,
	// so mass redistributes over tokens 1 and 2.
	logits := []float32{100, 1, 1}
	lps := logSoftmaxOver(logits, []int32{1, 2})
	require.Len(t, lps, 2)
	assert.InDelta(t, math.Log(0.5), lps[0], 1e-9)
	assert.InDelta(t, math.Log(0.5), lps[1], 1e-9)
}

func TestLogSoftmaxOverSingleToken(t *testing.T) {
	lps := logSoftmaxOver([]float32{-5, 3}, []int32{1})
	require.Len(t, lps, 1)
	assert.InDelta(t, 0, lps[0], 1e-9)
}

func TestLogSoftmaxOverOutOfRange(t *testing.T) {
	lps := logSoftmaxOver([]float32{0, 0}, []int32{0, 99})
	require.Len(t, lps, 2)
	assert.InDelta(t, 0, lps[0], 1e-9)
	assert.True(t, math.IsInf(lps[1], -1))
}

func TestSoftmax64(t *testing.T) {
	probs := softmax64([]float64{1, 1, 1})
	var sum float64
	for _, p := range probs {
		assert.InDelta(t, 1.0/3, p, 1e-9)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	assert.Empty(t, softmax64(nil))
}

func TestSoftmax64LargeValues(t *testing.T) {
	// Exponent shift keeps large scores finite.
	probs := softmax64([]float64{1000, 999})
	assert.False(t, math.IsNaN(probs[0]))
	assert.Greater(t, probs[0], probs[1])
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
}

func TestTopKIndices(t *testing.T) {
	indices := topKIndices([]float32{0.1, 0.9, 0.5, 0.7}, 2)
	assert.Equal(t, []int32{1, 3}, indices)

	assert.Len(t, topKIndices([]float32{1, 2}, 10), 2)
}
