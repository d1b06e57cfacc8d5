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

package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBPETokenizer(t *testing.T) {
	tk, err := NewBPETokenizer("")
	require.NoError(t, err)

	assert.Equal(t, 0, tk.CountTokens(""))
	assert.Greater(t, tk.CountTokens("Hello, world!"), 0)

	// Longer text yields more tokens.
	short := tk.CountTokens("one two three")
	long := tk.CountTokens("one two three four five six seven eight nine ten")
	assert.Greater(t, long, short)
}

func TestBPETokenizerUnknownEncoding(t *testing.T) {
	_, err := NewBPETokenizer("no-such-encoding")
	assert.Error(t, err)
}

func TestEstimateTokenizer(t *testing.T) {
	var tk EstimateTokenizer
	assert.Equal(t, 0, tk.CountTokens(""))
	assert.Equal(t, 5, tk.CountTokens("12345678901234567890"))
}
