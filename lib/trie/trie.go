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

// Package trie provides a token-id prefix index used to constrain beam search
// to the tokenized forms of known entity names. The trie is built once per
// knowledge base and is read-only afterwards, so it can be shared by any
// number of concurrent decoding loops without locking.
package trie

import "slices"

// Trie maps token-id prefixes to the set of token ids that can legally extend
// them. A node is terminal when a complete entity name ends there; at terminal
// nodes AllowedNext additionally offers the end-of-sequence token, which is
// how constrained generation stops.
type Trie struct {
	root *node
	eos  int32
	size int
}

type node struct {
	children map[int32]*node
	terminal bool
}

// New builds a trie over the given token sequences. Duplicate sequences
// collapse onto the same terminal node; sequences sharing a tokenized prefix
// share path nodes up to their divergence point. Empty sequences are ignored
// so the root is never terminal.
func New(eosToken int32, sequences [][]int32) *Trie {
	t := &Trie{
		root: &node{children: map[int32]*node{}},
		eos:  eosToken,
	}
	for _, seq := range sequences {
		t.insert(seq)
	}
	return t
}

func (t *Trie) insert(seq []int32) {
	if len(seq) == 0 {
		return
	}
	cur := t.root
	for _, tok := range seq {
		child, ok := cur.children[tok]
		if !ok {
			child = &node{children: map[int32]*node{}}
			cur.children[tok] = child
		}
		cur = child
	}
	if !cur.terminal {
		cur.terminal = true
		t.size++
	}
}

// AllowedNext walks the trie along prefix and returns the token ids that may
// come next, sorted ascending. The end-of-sequence token is included when the
// walk ends on a terminal node. A prefix that leaves the trie returns nil:
// the caller treats that as "no valid continuation" and drops the beam.
func (t *Trie) AllowedNext(prefix []int32) []int32 {
	cur := t.root
	for _, tok := range prefix {
		child, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = child
	}

	allowed := make([]int32, 0, len(cur.children)+1)
	for tok := range cur.children {
		allowed = append(allowed, tok)
	}
	if cur.terminal {
		allowed = append(allowed, t.eos)
	}
	slices.Sort(allowed)
	return allowed
}

// AllowedTokens implements the generation constraint contract. The prefix is
// the beam's generated tokens so far, excluding the decoder start token.
func (t *Trie) AllowedTokens(prefix []int32) []int32 {
	return t.AllowedNext(prefix)
}

// Len returns the number of distinct sequences stored in the trie. It bounds
// how many distinct outputs constrained beam search can ever return.
func (t *Trie) Len() int {
	return t.size
}

// EOSToken returns the end-of-sequence token the trie offers at terminals.
func (t *Trie) EOSToken() int32 {
	return t.eos
}
