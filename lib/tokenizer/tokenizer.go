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

// Package tokenizer provides fast token counting, used to budget context
// windows without running a model's own tokenizer.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer provides token counting for text budgeting.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the text.
	// Returns a character-based estimate on error.
	CountTokens(text string) int
}

// BPETokenizer uses tiktoken BPE tokenization with embedded dictionaries.
// Counts are approximate for non-OpenAI vocabularies but close enough for
// window budgeting.
type BPETokenizer struct {
	tiktoken *tiktoken.Tiktoken
}

var _ Tokenizer = (*BPETokenizer)(nil)

func init() {
	// Offline loader avoids network requests for the BPE dictionaries.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// NewBPETokenizer creates a BPE tokenizer using tiktoken-go.
// The encoding parameter selects the BPE dictionary; empty defaults to
// cl100k_base.
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	tk, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %q: %w", encoding, err)
	}

	return &BPETokenizer{tiktoken: tk}, nil
}

// CountTokens returns the number of tokens in the text.
func (t *BPETokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	tokens := t.tiktoken.Encode(text, nil, nil)
	return len(tokens)
}

// EstimateTokenizer approximates counts without a dictionary, at roughly
// four characters per token.
type EstimateTokenizer struct{}

var _ Tokenizer = (*EstimateTokenizer)(nil)

func (EstimateTokenizer) CountTokens(text string) int {
	return len(text) / 4
}
