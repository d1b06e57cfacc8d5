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
	"fmt"
	"strings"

	"github.com/antflydb/linkite/lib/tokenizer"
)

// ContextBuilder renders a document mention into the marked-up context the
// model was trained on:
//
//	{left} [START_ENT] {mention} [END_ENT] {right}
//
// When the rendered context exceeds the model's input budget, surrounding
// words are dropped farthest-first so the markers and mention always
// survive. The counter only budgets; the model tokenizer still applies the
// hard cap downstream.
type ContextBuilder struct {
	counter tokenizer.Tokenizer
	config  Config
}

// NewContextBuilder creates a ContextBuilder. A nil counter falls back to
// character-based estimation.
func NewContextBuilder(counter tokenizer.Tokenizer, config Config) *ContextBuilder {
	if counter == nil {
		counter = tokenizer.EstimateTokenizer{}
	}
	return &ContextBuilder{counter: counter, config: config}
}

// Build renders the context for one mention of text.
func (b *ContextBuilder) Build(text string, m Mention) (string, error) {
	if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
		return "", fmt.Errorf("mention [%d,%d) out of range for %d-byte text", m.Start, m.End, len(text))
	}

	left := strings.TrimSpace(text[:m.Start])
	mention := text[m.Start:m.End]
	right := strings.TrimSpace(text[m.End:])

	parts := make([]string, 0, 5)
	if left != "" {
		parts = append(parts, left)
	}
	parts = append(parts, b.config.StartMentionToken, mention, b.config.EndMentionToken)
	if right != "" {
		parts = append(parts, right)
	}
	full := strings.Join(parts, " ")
	if b.config.MaxInputLen <= 0 || b.counter.CountTokens(full) <= b.config.MaxInputLen {
		return full, nil
	}

	return b.truncate(left, mention, right), nil
}

// truncate rebuilds the context keeping as many words adjacent to the
// mention as the token budget allows, alternating sides.
func (b *ContextBuilder) truncate(left, mention, right string) string {
	core := fmt.Sprintf("%s %s %s",
		b.config.StartMentionToken, mention, b.config.EndMentionToken)
	budget := b.config.MaxInputLen - b.counter.CountTokens(core)

	leftWords := strings.Fields(left)
	rightWords := strings.Fields(right)

	li := len(leftWords) // keep leftWords[li:]
	ri := 0              // keep rightWords[:ri]
	used := 0
	takeLeft := true
	for li > 0 || ri < len(rightWords) {
		var word string
		fromLeft := takeLeft && li > 0 || ri >= len(rightWords)
		if fromLeft {
			word = leftWords[li-1]
		} else {
			word = rightWords[ri]
		}

		cost := b.counter.CountTokens(word) + 1
		if used+cost > budget {
			break
		}
		used += cost
		if fromLeft {
			li--
		} else {
			ri++
		}
		takeLeft = !takeLeft
	}

	parts := make([]string, 0, 3)
	if li < len(leftWords) {
		parts = append(parts, strings.Join(leftWords[li:], " "))
	}
	parts = append(parts, core)
	if ri > 0 {
		parts = append(parts, strings.Join(rightWords[:ri], " "))
	}
	return strings.Join(parts, " ")
}
