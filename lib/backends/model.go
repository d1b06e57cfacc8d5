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

package backends

import "context"

// Model is an encoder-decoder model driven one decoder step at a time.
//
// Forward dispatches on its inputs:
//   - EncoderOutput nil: runs the encoder over InputIDs/AttentionMask and
//     returns EncoderOutput.
//   - EncoderOutput set: runs one decoder step and returns Logits for the
//     last position plus the updated PastKeyValues.
type Model interface {
	Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error)

	// DecoderConfig returns the configuration generation loops need
	// (vocab size, special token ids, decoder start token).
	DecoderConfig() *DecoderConfig

	// Close releases any resources held by the model.
	Close() error
}

// ModelInputs contains the inputs for a forward pass.
type ModelInputs struct {
	// InputIDs are token ids, [batch, seq]. For decoder steps with a
	// KV-cache this is just the last generated token per batch entry.
	InputIDs [][]int32

	// AttentionMask marks attended positions, [batch, seq]. Defaults to
	// all-ones when nil.
	AttentionMask [][]int32

	// EncoderOutput, when set, selects a decoder step.
	EncoderOutput *EncoderOutput

	// PastKeyValues is the KV-cache from previous decoder steps, nil on the
	// first step.
	PastKeyValues *KVCache
}

// ModelOutput contains the outputs of a forward pass.
type ModelOutput struct {
	// EncoderOutput is set by encoder passes.
	EncoderOutput *EncoderOutput

	// Logits holds next-token logits per batch entry, [batch, vocab].
	Logits [][]float32

	// PastKeyValues is the updated KV-cache after a decoder step.
	PastKeyValues *KVCache
}

// EncoderOutput holds the hidden states produced by the encoder.
type EncoderOutput struct {
	// HiddenStates is the flattened [batch, seq, hidden] tensor.
	HiddenStates []float32
	// Shape holds the tensor dimensions [batch, seq, hidden].
	Shape [3]int
}

// KVCache holds the attention key/value cache between decoder steps.
// Tensors are keyed by output name (e.g. "present.0.decoder.key") and fed
// back as the matching past_key_values.* inputs on the next step. The cache
// is never mutated after a step returns it, so beams forked from the same
// parent may share one.
type KVCache struct {
	// SeqLen is the number of decoder steps accumulated in the cache.
	SeqLen int
	// Tensors maps present.* output names to their tensors.
	Tensors map[string]NamedTensor
}

// DecoderConfig holds decoder configuration for generation.
type DecoderConfig struct {
	// VocabSize is the size of the output vocabulary.
	VocabSize int
	// MaxLength is the model's maximum generation length.
	MaxLength int
	// EOSTokenID is the end-of-sequence token id.
	EOSTokenID int32
	// BOSTokenID is the beginning-of-sequence token id.
	BOSTokenID int32
	// PadTokenID is the padding token id.
	PadTokenID int32
	// DecoderStartTokenID is the token id decoding starts from.
	DecoderStartTokenID int32
	// NumHeads is the number of decoder attention heads.
	NumHeads int
	// HeadDim is the dimension of each attention head.
	HeadDim int
}
