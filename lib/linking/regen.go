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
	"strings"
	"sync/atomic"

	"github.com/gomlx/go-huggingface/tokenizers"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/backends"
	"github.com/antflydb/linkite/lib/generation"
	"github.com/antflydb/linkite/lib/tokenizer"
	"github.com/antflydb/linkite/lib/trie"
)

// Ensure RegenLinker implements Linker
var _ Linker = (*RegenLinker)(nil)

// RegenLinker links mentions by constrained generation: the model decodes an
// entity name for each marked-up mention context, restricted by a trie over
// the vocabulary's token sequences.
type RegenLinker struct {
	config    Config
	logger    *zap.Logger
	generator *generation.Generator
	builder   *ContextBuilder
	decoder   *backends.DecoderConfig

	// Swapped atomically so SetEntities is safe during Predict calls.
	entityTrie atomic.Pointer[trie.Trie]

	// Set once a prebuilt trie is installed; SetEntities then only records
	// the vocabulary size and leaves the trie alone.
	externalTrie atomic.Bool
	entityCount  atomic.Int64
}

// NewRegenLinker loads an entity linking model from a local directory.
func NewRegenLinker(modelPath string, logger *zap.Logger) (*RegenLinker, error) {
	if modelPath == "" {
		return nil, errors.New("model path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := backends.DefaultBackend()
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing REGEN linker",
		zap.String("modelPath", modelPath),
		zap.String("backend", backend.Name()))

	config := LoadConfig(modelPath, logger)

	model, err := backends.LoadSeq2SeqModel(modelPath, backend.SessionFactory())
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}

	tok, err := generation.LoadTokenizer(modelPath)
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	var counter tokenizer.Tokenizer
	counter, err = tokenizer.NewBPETokenizer("")
	if err != nil {
		logger.Warn("Falling back to estimated token counts", zap.Error(err))
		counter = tokenizer.EstimateTokenizer{}
	}

	return newRegenLinker(model, tok, counter, config, logger), nil
}

// newRegenLinker wires an already-loaded model and tokenizers together.
func newRegenLinker(model backends.Model, tok tokenizers.Tokenizer, counter tokenizer.Tokenizer, config Config, logger *zap.Logger) *RegenLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegenLinker{
		config:    config,
		logger:    logger,
		generator: generation.NewGenerator(model, tok, logger),
		builder:   NewContextBuilder(counter, config),
		decoder:   model.DecoderConfig(),
	}
}

// Config returns the linker configuration.
func (l *RegenLinker) Config() Config {
	return l.config
}

// SetEntities replaces the entity vocabulary, rebuilding the token trie.
// Entities whose names produce no tokens are dropped.
func (l *RegenLinker) SetEntities(entities []Entity) error {
	if l.externalTrie.Load() {
		count := int64(0)
		for _, e := range entities {
			if e.Name != "" {
				count++
			}
		}
		l.entityCount.Store(count)
		l.logger.Info("Vocabulary size recorded, trie is externally managed",
			zap.Int64("entities", count))
		return nil
	}

	sequences := make([][]int32, 0, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		seq := l.stripSpecial(l.generator.Encode(e.Name))
		if len(seq) == 0 {
			l.logger.Warn("Entity name produced no tokens", zap.String("name", e.Name))
			continue
		}
		sequences = append(sequences, seq)
	}

	t := trie.New(l.decoder.EOSTokenID, sequences)
	l.entityTrie.Store(t)
	l.entityCount.Store(int64(t.Len()))
	l.logger.Info("Entity vocabulary updated",
		zap.Int("entities", len(entities)),
		zap.Int("sequences", t.Len()))
	return nil
}

// SetTrie installs a prebuilt token trie. Callers sharing one vocabulary
// across linker instances build the trie once. After this call SetEntities
// no longer rebuilds the index, it only records the vocabulary size.
func (l *RegenLinker) SetTrie(t *trie.Trie) {
	l.entityTrie.Store(t)
	l.externalTrie.Store(true)
	if t != nil {
		l.entityCount.Store(int64(t.Len()))
	}
}

// Trie returns the current token trie, or nil before any vocabulary was set.
func (l *RegenLinker) Trie() *trie.Trie {
	return l.entityTrie.Load()
}

// Predict links every mention of every document. Results align with docs;
// a document without mentions yields an empty span list, and spans appear
// in the order their mentions were supplied. Without a vocabulary decoding
// is unconstrained and labels are open-set. Mentions whose offsets are
// invalid, or for which decoding finds no candidate, are skipped with a
// warning.
func (l *RegenLinker) Predict(ctx context.Context, docs []Document) ([][]Span, error) {
	results := make([][]Span, len(docs))
	for i := range results {
		results[i] = []Span{}
	}
	if len(docs) == 0 {
		return results, nil
	}

	// Without a vocabulary decoding runs unconstrained and yields
	// open-set labels.
	var constraint generation.Constraint
	numReturn := l.config.NumBeams
	if entityTrie := l.entityTrie.Load(); entityTrie != nil {
		constraint = entityTrie
		n := entityTrie.Len()
		if count := int(l.entityCount.Load()); count > 0 && count < n {
			n = count
		}
		numReturn = min(l.config.NumBeams, n)
	}
	opts := generation.Options{
		NumBeams:           l.config.NumBeams,
		MaxNewTokens:       l.config.MaxOutputLen,
		NumReturnSequences: numReturn,
		MaxInputTokens:     l.config.MaxInputLen,
	}

	for i, doc := range docs {
		spans := results[i]
		for _, m := range doc.Mentions {
			contextText, err := l.builder.Build(doc.Text, m)
			if err != nil {
				l.logger.Warn("Skipping invalid mention",
					zap.Int("doc", i),
					zap.Int("start", m.Start),
					zap.Int("end", m.End),
					zap.Error(err))
				continue
			}

			candidates, err := l.generator.Generate(ctx, contextText, constraint, opts)
			if err != nil {
				return nil, fmt.Errorf("linking doc %d: %w", i, err)
			}
			if len(candidates) == 0 {
				l.logger.Warn("No entity candidate for mention",
					zap.Int("doc", i),
					zap.Int("start", m.Start),
					zap.Int("end", m.End))
				continue
			}

			best := candidates[0]
			spans = append(spans, Span{
				Start: m.Start,
				End:   m.End,
				Label: strings.TrimSpace(l.generator.Decode(best.TokenIDs)),
				Score: best.Score,
			})
		}

		results[i] = spans
	}

	return results, nil
}

// stripSpecial removes special token ids an entity name encoding may carry.
func (l *RegenLinker) stripSpecial(ids []int32) []int32 {
	special := map[int32]bool{
		l.decoder.BOSTokenID:          true,
		l.decoder.EOSTokenID:          true,
		l.decoder.PadTokenID:          true,
		l.decoder.DecoderStartTokenID: true,
	}
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if !special[id] {
			out = append(out, id)
		}
	}
	return out
}

// Close releases model resources.
func (l *RegenLinker) Close() error {
	return l.generator.Close()
}
