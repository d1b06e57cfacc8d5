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
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/antflydb/linkite/lib/backends"
)

// beam is one hypothesis in the search. tokens holds generated ids only,
// never the decoder start or EOS tokens.
type beam struct {
	tokens    []int32
	logProb   float64
	lastToken int32
	cache     *backends.KVCache
}

// beamSearch runs constrained beam search against an already-encoded input.
// Each step advances every live beam one token, restricted to the tokens the
// constraint allows after that beam's prefix. Probability mass is
// renormalized over the allowed set, so constrained paths stay comparable.
func beamSearch(ctx context.Context, model backends.Model, encOut *backends.EncoderOutput, constraint Constraint, opts Options) ([]ScoredCandidate, error) {
	cfg := model.DecoderConfig()

	live := []*beam{{lastToken: cfg.DecoderStartTokenID}}
	var finished []*beam

	for step := 0; step < opts.MaxNewTokens && len(live) > 0; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var expansions []*beam
		for _, b := range live {
			out, err := model.Forward(ctx, &backends.ModelInputs{
				InputIDs:      [][]int32{{b.lastToken}},
				EncoderOutput: encOut,
				PastKeyValues: b.cache,
			})
			if err != nil {
				return nil, fmt.Errorf("decoder step %d: %w", step, err)
			}
			if len(out.Logits) == 0 {
				return nil, fmt.Errorf("decoder step %d: no logits", step)
			}
			logits := out.Logits[0]

			allowed := allowedTokens(constraint, b.tokens, logits, opts.NumBeams)
			if len(allowed) == 0 {
				// Dead end, prune the beam.
				continue
			}

			logProbs := logSoftmaxOver(logits, allowed)
			for i, tok := range allowed {
				lp := b.logProb + logProbs[i]
				if tok == cfg.EOSTokenID {
					finished = append(finished, &beam{tokens: b.tokens, logProb: lp})
					continue
				}
				expansions = append(expansions, &beam{
					tokens:    append(slices.Clone(b.tokens), tok),
					logProb:   lp,
					lastToken: tok,
					cache:     out.PastKeyValues,
				})
			}
		}

		sort.Slice(expansions, func(i, j int) bool {
			return expansions[i].logProb > expansions[j].logProb
		})
		if len(expansions) > opts.NumBeams {
			expansions = expansions[:opts.NumBeams]
		}
		live = expansions
	}

	// Beams still alive at the length cap count as candidates.
	finished = append(finished, live...)

	return rankCandidates(finished, opts.NumReturnSequences), nil
}

// allowedTokens resolves the token set for one beam. Without a constraint
// ordinary beam search applies, considering the top 2*beams tokens.
func allowedTokens(constraint Constraint, prefix []int32, logits []float32, numBeams int) []int32 {
	if constraint == nil {
		return topKIndices(logits, 2*numBeams)
	}
	return constraint.AllowedTokens(prefix)
}

// rankCandidates orders finished beams by length-normalized log-probability,
// keeps the top n, and softmaxes their scores into a distribution.
func rankCandidates(finished []*beam, n int) []ScoredCandidate {
	if len(finished) == 0 {
		return nil
	}

	candidates := make([]ScoredCandidate, len(finished))
	for i, b := range finished {
		norm := b.logProb
		if len(b.tokens) > 0 {
			norm /= float64(len(b.tokens))
		}
		candidates[i] = ScoredCandidate{TokenIDs: b.tokens, LogProb: norm}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LogProb > candidates[j].LogProb
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	logProbs := make([]float64, len(candidates))
	for i, c := range candidates {
		logProbs[i] = c.LogProb
	}
	for i, p := range softmax64(logProbs) {
		candidates[i].Score = p
	}
	return candidates
}
