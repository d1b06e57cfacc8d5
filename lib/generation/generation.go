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

// Package generation implements constrained beam-search decoding over
// encoder-decoder models.
//
// A Constraint narrows the decoder vocabulary at every step, so the search
// can only produce sequences from a known set. With a nil constraint this is
// ordinary beam search.
package generation

// Constraint restricts which tokens the decoder may emit after a given
// generated prefix. The prefix never includes the decoder start token.
// Returning an empty set for a prefix prunes every beam holding it.
type Constraint interface {
	// AllowedTokens returns the token ids permitted after prefix, or nil
	// when the prefix cannot be extended.
	AllowedTokens(prefix []int32) []int32
}

// Options controls a single generation call.
type Options struct {
	// NumBeams is the beam width. Defaults to 1.
	NumBeams int

	// MaxNewTokens caps the generated sequence length, not counting the
	// decoder start token. Defaults to the model's max length.
	MaxNewTokens int

	// NumReturnSequences is how many candidates to return, at most
	// NumBeams. Defaults to NumBeams.
	NumReturnSequences int

	// MaxInputTokens truncates the encoder input. Zero means no limit.
	MaxInputTokens int
}

// withDefaults fills unset fields against the model's decoder config.
func (o Options) withDefaults(modelMaxLength int) Options {
	if o.NumBeams < 1 {
		o.NumBeams = 1
	}
	if o.MaxNewTokens < 1 {
		o.MaxNewTokens = modelMaxLength
	}
	if o.NumReturnSequences < 1 || o.NumReturnSequences > o.NumBeams {
		o.NumReturnSequences = o.NumBeams
	}
	return o
}

// ScoredCandidate is one generated sequence with its scores. TokenIDs never
// contain the decoder start or EOS tokens.
type ScoredCandidate struct {
	TokenIDs []int32

	// LogProb is the length-normalized sequence log-probability.
	LogProb float64

	// Score is LogProb softmaxed across the returned candidate set,
	// so scores over one call sum to 1.
	Score float64
}
