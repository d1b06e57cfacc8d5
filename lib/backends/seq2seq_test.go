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

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModelDir(t *testing.T, config string, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("onnx"), 0o644))
	}
	return dir
}

func TestLoadSeq2SeqConfigBart(t *testing.T) {
	dir := writeModelDir(t, `{
		"model_type": "bart",
		"vocab_size": 50265,
		"eos_token_id": 2,
		"bos_token_id": 0,
		"pad_token_id": 1,
		"decoder_start_token_id": 2,
		"decoder_attention_heads": 16,
		"d_model": 1024,
		"max_position_embeddings": 1024
	}`, "encoder_model.onnx", "decoder_model_merged.onnx")

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.EncoderPath)
	assert.NotEmpty(t, cfg.DecoderPath)
	assert.Empty(t, cfg.DecoderInitPath)

	dec := cfg.Decoder
	assert.Equal(t, 50265, dec.VocabSize)
	assert.Equal(t, int32(2), dec.EOSTokenID)
	assert.Equal(t, int32(1), dec.PadTokenID)
	assert.Equal(t, int32(2), dec.DecoderStartTokenID)
	assert.Equal(t, 16, dec.NumHeads)
	assert.Equal(t, 64, dec.HeadDim)
	assert.Equal(t, 1024, dec.MaxLength)
}

func TestLoadSeq2SeqConfigT5StartsFromPad(t *testing.T) {
	dir := writeModelDir(t, `{
		"model_type": "t5",
		"vocab_size": 32128,
		"eos_token_id": 1,
		"pad_token_id": 0,
		"num_heads": 8,
		"d_model": 512,
		"d_kv": 64
	}`, "encoder_model.onnx", "decoder_model.onnx")

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, int32(0), cfg.Decoder.DecoderStartTokenID)
	assert.Equal(t, int32(1), cfg.Decoder.EOSTokenID)
	assert.Equal(t, 64, cfg.Decoder.HeadDim)
}

func TestLoadSeq2SeqConfigEOSArray(t *testing.T) {
	dir := writeModelDir(t, `{
		"model_type": "bart",
		"vocab_size": 100,
		"eos_token_id": [2, 3],
		"bos_token_id": 0,
		"pad_token_id": 1,
		"decoder_attention_heads": 4,
		"d_model": 64
	}`, "encoder_model.onnx", "decoder_model.onnx")

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.Decoder.EOSTokenID)
}

func TestLoadSeq2SeqConfigGenerationOverrides(t *testing.T) {
	dir := writeModelDir(t, `{
		"model_type": "bart",
		"vocab_size": 100,
		"eos_token_id": 2,
		"bos_token_id": 0,
		"pad_token_id": 1,
		"decoder_attention_heads": 4,
		"d_model": 64,
		"max_position_embeddings": 1024
	}`, "encoder_model.onnx", "decoder_model.onnx")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generation_config.json"), []byte(`{
		"max_length": 20,
		"decoder_start_token_id": 2
	}`), 0o644))

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Decoder.MaxLength)
	assert.Equal(t, int32(2), cfg.Decoder.DecoderStartTokenID)
}

func TestLoadSeq2SeqConfigNullPadFallsBackToEOS(t *testing.T) {
	dir := writeModelDir(t, `{
		"model_type": "bart",
		"vocab_size": 100,
		"eos_token_id": 2,
		"bos_token_id": 0,
		"pad_token_id": null,
		"decoder_attention_heads": 4,
		"d_model": 64
	}`, "encoder_model.onnx", "decoder_model.onnx")

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.Decoder.PadTokenID)
}

func TestLoadSeq2SeqConfigFindsONNXSubdir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"model_type": "bart",
		"vocab_size": 100,
		"eos_token_id": 2,
		"bos_token_id": 0,
		"decoder_attention_heads": 4,
		"d_model": 64
	}`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "onnx"), 0o755))
	for _, name := range []string{"encoder_model.onnx", "decoder_model_merged.onnx", "decoder_model.onnx"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "onnx", name), []byte("onnx"), 0o644))
	}

	cfg, err := LoadSeq2SeqConfig(dir)
	require.NoError(t, err)
	assert.Contains(t, cfg.EncoderPath, "onnx")
	assert.Contains(t, filepath.Base(cfg.DecoderPath), "merged")
	assert.True(t, IsSeq2SeqModel(dir))
}

func TestIsSeq2SeqModelMissingDecoder(t *testing.T) {
	dir := writeModelDir(t, `{"model_type": "bart", "vocab_size": 100, "eos_token_id": 2}`,
		"encoder_model.onnx")
	assert.False(t, IsSeq2SeqModel(dir))
}

func TestPastToPresent(t *testing.T) {
	assert.Equal(t, "present.0.decoder.key", pastToPresent("past_key_values.0.decoder.key"))
	assert.Equal(t, "present.3.encoder.value", pastToPresent("past_key_values.3.encoder.value"))
	assert.Equal(t, "logits", pastToPresent("logits"))
}

func TestFirstNonZero(t *testing.T) {
	assert.Equal(t, 5, firstNonZero(0, 5, 3))
	assert.Equal(t, 512, firstNonZero(0, 0, 512))
	assert.Equal(t, 0, firstNonZero())
}
