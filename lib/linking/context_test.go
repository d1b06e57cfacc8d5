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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldCounter counts whitespace-separated words as one token each.
type fieldCounter struct{}

func (fieldCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func TestBuildInsertsMarkers(t *testing.T) {
	b := NewContextBuilder(fieldCounter{}, DefaultConfig())

	text := "I live in New York"
	ctx, err := b.Build(text, Mention{Start: 10, End: 18})
	require.NoError(t, err)

	assert.Contains(t, ctx, "[START_ENT] New York [END_ENT]")
	assert.True(t, strings.HasPrefix(ctx, "I live in"))
}

func TestBuildMentionAtEdges(t *testing.T) {
	b := NewContextBuilder(fieldCounter{}, DefaultConfig())

	ctx, err := b.Build("York is a city", Mention{Start: 0, End: 4})
	require.NoError(t, err)
	assert.Equal(t, "[START_ENT] York [END_ENT] is a city", ctx)

	ctx, err = b.Build("I visited York", Mention{Start: 10, End: 14})
	require.NoError(t, err)
	assert.Equal(t, "I visited [START_ENT] York [END_ENT]", ctx)
}

func TestBuildInvalidMention(t *testing.T) {
	b := NewContextBuilder(fieldCounter{}, DefaultConfig())

	for _, m := range []Mention{
		{Start: -1, End: 3},
		{Start: 0, End: 100},
		{Start: 5, End: 5},
		{Start: 7, End: 3},
	} {
		_, err := b.Build("some text here", m)
		assert.Error(t, err, "mention %+v", m)
	}
}

func TestBuildTruncatesAroundMention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInputLen = 9
	b := NewContextBuilder(fieldCounter{}, cfg)

	ctx, err := b.Build("a b c d e NY f g h i j", Mention{Start: 10, End: 12})
	require.NoError(t, err)

	// Words are kept nearest-first, alternating sides.
	assert.Equal(t, "d e [START_ENT] NY [END_ENT] f", ctx)
	assert.LessOrEqual(t, fieldCounter{}.CountTokens(ctx), cfg.MaxInputLen)
}

func TestBuildTruncationNeverDropsMention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInputLen = 1
	b := NewContextBuilder(fieldCounter{}, cfg)

	ctx, err := b.Build("a b c d e NY f g h i j", Mention{Start: 10, End: 12})
	require.NoError(t, err)
	assert.Equal(t, "[START_ENT] NY [END_ENT]", ctx)
}

func TestBuildNoLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInputLen = 0
	b := NewContextBuilder(fieldCounter{}, cfg)

	ctx, err := b.Build("one two three", Mention{Start: 4, End: 7})
	require.NoError(t, err)
	assert.Contains(t, ctx, "[START_ENT] two [END_ENT]")
}
