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

	"github.com/gomlx/go-huggingface/tokenizers"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/backends"
)

// Generator ties a seq2seq model and its tokenizer into a text-in,
// candidates-out decoding interface.
type Generator struct {
	model     backends.Model
	tokenizer tokenizers.Tokenizer
	logger    *zap.Logger
}

// NewGenerator creates a Generator. If logger is nil, a no-op logger is used.
func NewGenerator(model backends.Model, tokenizer tokenizers.Tokenizer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		model:     model,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// Generate encodes text and beam-searches the decoder under the constraint.
// Candidates come back best first with scores summing to 1.
func (g *Generator) Generate(ctx context.Context, text string, constraint Constraint, opts Options) ([]ScoredCandidate, error) {
	cfg := g.model.DecoderConfig()
	opts = opts.withDefaults(cfg.MaxLength)

	ids := g.tokenizer.Encode(text)
	if len(ids) == 0 {
		return nil, fmt.Errorf("input produced no tokens")
	}
	if opts.MaxInputTokens > 0 && len(ids) > opts.MaxInputTokens {
		ids = ids[:opts.MaxInputTokens]
	}

	inputIDs := make([]int32, len(ids))
	for i, id := range ids {
		inputIDs[i] = int32(id)
	}

	encoded, err := g.model.Forward(ctx, &backends.ModelInputs{
		InputIDs: [][]int32{inputIDs},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}
	if encoded.EncoderOutput == nil {
		return nil, fmt.Errorf("encoder returned no hidden states")
	}

	candidates, err := beamSearch(ctx, g.model, encoded.EncoderOutput, constraint, opts)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("generation complete",
		zap.Int("input_tokens", len(inputIDs)),
		zap.Int("num_beams", opts.NumBeams),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// Decode turns generated token ids back into text.
func (g *Generator) Decode(ids []int32) string {
	intIDs := make([]int, len(ids))
	for i, id := range ids {
		intIDs[i] = int(id)
	}
	return g.tokenizer.Decode(intIDs)
}

// Encode exposes the tokenizer for callers that build token sequences, such
// as entity tries.
func (g *Generator) Encode(text string) []int32 {
	ids := g.tokenizer.Encode(text)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

// Close releases the underlying model.
func (g *Generator) Close() error {
	return g.model.Close()
}
