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

// Package linking implements generative entity disambiguation.
// Given a document and mention offsets, a seq2seq model decodes the matching
// entity name directly, with a token trie restricting the decoder to names
// from the configured vocabulary (the GENRE/REGEN approach).
package linking

import (
	"context"
)

// Mention marks a candidate entity reference by byte offsets into the
// document text, half-open [Start, End).
type Mention struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Document is one text to link, with the mentions to disambiguate.
// Mention detection itself happens upstream.
type Document struct {
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions"`
}

// Entity is one entry of the linkable vocabulary.
type Entity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Span is a resolved mention. Offsets mirror the input mention; Label is the
// decoded entity name and Score its share of probability mass among the
// candidates considered.
type Span struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Linker resolves document mentions against an entity vocabulary.
type Linker interface {
	// Predict links every mention of every document. The result is aligned
	// with docs; spans within a document follow the order the mentions
	// were supplied.
	Predict(ctx context.Context, docs []Document) ([][]Span, error)

	// SetEntities replaces the entity vocabulary.
	SetEntities(entities []Entity) error

	// Close releases model resources.
	Close() error
}
