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
	"sort"
)

// logSoftmaxOver computes log-softmax restricted to the allowed token ids,
// renormalizing probability mass over that set. The result is aligned with
// allowed. Ids outside the logits range are treated as -inf.
func logSoftmaxOver(logits []float32, allowed []int32) []float64 {
	out := make([]float64, len(allowed))

	maxLogit := math.Inf(-1)
	for _, id := range allowed {
		if int(id) < len(logits) && float64(logits[id]) > maxLogit {
			maxLogit = float64(logits[id])
		}
	}
	if math.IsInf(maxLogit, -1) {
		for i := range out {
			out[i] = math.Inf(-1)
		}
		return out
	}

	var sumExp float64
	for _, id := range allowed {
		if int(id) < len(logits) {
			sumExp += math.Exp(float64(logits[id]) - maxLogit)
		}
	}
	logSum := maxLogit + math.Log(sumExp)

	for i, id := range allowed {
		if int(id) < len(logits) {
			out[i] = float64(logits[id]) - logSum
		} else {
			out[i] = math.Inf(-1)
		}
	}
	return out
}

// softmax64 normalizes scores into a probability distribution.
func softmax64(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// topKIndices returns the indices of the k largest logits, best first.
func topKIndices(logits []float32, k int) []int32 {
	if k > len(logits) {
		k = len(logits)
	}
	indices := make([]int32, len(logits))
	for i := range indices {
		indices[i] = int32(i)
	}
	sort.Slice(indices, func(a, b int) bool {
		return logits[indices[a]] > logits[indices[b]]
	})
	return indices[:k]
}
