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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Seq2SeqConfig holds the resolved configuration of a seq2seq model
// directory, parsed from config.json and generation_config.json.
type Seq2SeqConfig struct {
	ModelPath string

	EncoderPath     string
	DecoderPath     string // merged decoder, or continuation decoder when an init decoder exists
	DecoderInitPath string // first-step decoder without KV-cache inputs, optional

	Decoder *DecoderConfig
}

// rawModelConfig mirrors the fields of config.json this package needs.
// Field names vary across architectures, hence the duplication.
type rawModelConfig struct {
	ModelType string `json:"model_type"`

	VocabSize           int    `json:"vocab_size"`
	EOSTokenID          any    `json:"eos_token_id"` // int or []int
	BOSTokenID          int32  `json:"bos_token_id"`
	PadTokenID          any    `json:"pad_token_id"` // int or null
	DecoderStartTokenID *int32 `json:"decoder_start_token_id"`

	DecoderAttentionHeads int `json:"decoder_attention_heads"`
	NumHeads              int `json:"num_heads"`
	DModel                int `json:"d_model"`
	HiddenSize            int `json:"hidden_size"`
	DKV                   int `json:"d_kv"`

	MaxPositionEmbeddings int `json:"max_position_embeddings"`
	MaxLength             int `json:"max_length"`
}

type rawGenerationConfig struct {
	MaxLength           int   `json:"max_length"`
	EOSTokenID          any   `json:"eos_token_id"`
	DecoderStartTokenID int32 `json:"decoder_start_token_id"`
}

// LoadSeq2SeqConfig locates the ONNX files of an encoder-decoder model
// directory and resolves its decoder configuration.
func LoadSeq2SeqConfig(modelPath string) (*Seq2SeqConfig, error) {
	encoderPath := findONNXFile(modelPath, []string{
		"encoder_model.onnx",
		"encoder.onnx",
	})
	decoderPath := findONNXFile(modelPath, []string{
		"decoder_model_merged.onnx",
		"decoder_with_past_model.onnx",
		"decoder_model.onnx",
		"decoder.onnx",
	})
	decoderInitPath := findONNXFile(modelPath, []string{
		"decoder-init.onnx",
		"decoder_init.onnx",
	})

	raw, err := loadRawModelConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}
	gen := loadRawGenerationConfig(modelPath)

	return &Seq2SeqConfig{
		ModelPath:       modelPath,
		EncoderPath:     encoderPath,
		DecoderPath:     decoderPath,
		DecoderInitPath: decoderInitPath,
		Decoder:         resolveDecoderConfig(raw, gen),
	}, nil
}

// IsSeq2SeqModel reports whether the directory contains an encoder-decoder
// ONNX model this package can load.
func IsSeq2SeqModel(modelPath string) bool {
	cfg, err := LoadSeq2SeqConfig(modelPath)
	if err != nil {
		return false
	}
	return cfg.EncoderPath != "" && cfg.DecoderPath != ""
}

func loadRawModelConfig(path string) (*rawModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(path, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("reading config.json: %w", err)
	}
	var cfg rawModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}
	return &cfg, nil
}

func loadRawGenerationConfig(path string) *rawGenerationConfig {
	data, err := os.ReadFile(filepath.Join(path, "generation_config.json"))
	if err != nil {
		return nil
	}
	var cfg rawGenerationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

func resolveDecoderConfig(cfg *rawModelConfig, gen *rawGenerationConfig) *DecoderConfig {
	eosTokenID := tokenIDFromAny(cfg.EOSTokenID)
	if gen != nil {
		if id, ok := tokenIDFromAnyOK(gen.EOSTokenID); ok {
			eosTokenID = id
		}
	}

	// pad_token_id may be null; fall back to EOS like HF does.
	padTokenID := eosTokenID
	if id, ok := tokenIDFromAnyOK(cfg.PadTokenID); ok {
		padTokenID = id
	}

	// T5-family models start decoding from the pad token, BART-family from
	// BOS, unless the config says otherwise.
	var decoderStartTokenID int32
	switch {
	case cfg.DecoderStartTokenID != nil:
		decoderStartTokenID = *cfg.DecoderStartTokenID
	case cfg.ModelType == "t5" || cfg.ModelType == "mt5" || cfg.ModelType == "longt5":
		decoderStartTokenID = padTokenID
	default:
		decoderStartTokenID = cfg.BOSTokenID
	}
	if gen != nil && gen.DecoderStartTokenID != 0 {
		decoderStartTokenID = gen.DecoderStartTokenID
	}

	maxLength := firstNonZero(cfg.MaxLength, cfg.MaxPositionEmbeddings, 512)
	if gen != nil && gen.MaxLength > 0 {
		maxLength = gen.MaxLength
	}

	numHeads := firstNonZero(cfg.DecoderAttentionHeads, cfg.NumHeads, 8)
	hiddenSize := firstNonZero(cfg.DModel, cfg.HiddenSize, 768)
	headDim := cfg.DKV
	if headDim == 0 {
		headDim = hiddenSize / numHeads
	}

	return &DecoderConfig{
		VocabSize:           cfg.VocabSize,
		MaxLength:           maxLength,
		EOSTokenID:          eosTokenID,
		BOSTokenID:          cfg.BOSTokenID,
		PadTokenID:          padTokenID,
		DecoderStartTokenID: decoderStartTokenID,
		NumHeads:            numHeads,
		HeadDim:             headDim,
	}
}

// tokenIDFromAny reads a token id that HF configs encode as int or []int.
func tokenIDFromAny(v any) int32 {
	id, _ := tokenIDFromAnyOK(v)
	return id
}

func tokenIDFromAnyOK(v any) (int32, bool) {
	switch val := v.(type) {
	case float64:
		return int32(val), true
	case []any:
		if len(val) > 0 {
			if f, ok := val[0].(float64); ok {
				return int32(f), true
			}
		}
	}
	return 0, false
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func findONNXFile(dir string, candidates []string) string {
	for _, searchDir := range []string{dir, filepath.Join(dir, "onnx")} {
		for _, name := range candidates {
			path := filepath.Join(searchDir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Ensure seq2SeqModel implements Model.
var _ Model = (*seq2SeqModel)(nil)

// seq2SeqModel runs an encoder-decoder model over raw sessions. Models with
// a separate init decoder (BART exports) use it for the first step; merged
// decoders take a use_cache_branch flag instead.
type seq2SeqModel struct {
	config *Seq2SeqConfig

	encoderSession     Session
	decoderSession     Session
	decoderInitSession Session
}

// LoadSeq2SeqModel loads an encoder-decoder model using the given session
// factory.
func LoadSeq2SeqModel(modelPath string, factory SessionFactory) (Model, error) {
	config, err := LoadSeq2SeqConfig(modelPath)
	if err != nil {
		return nil, err
	}
	if config.EncoderPath == "" {
		return nil, fmt.Errorf("encoder ONNX file not found in %s", modelPath)
	}
	if config.DecoderPath == "" {
		return nil, fmt.Errorf("decoder ONNX file not found in %s", modelPath)
	}

	encoderSession, err := factory.CreateSession(config.EncoderPath)
	if err != nil {
		return nil, fmt.Errorf("creating encoder session: %w", err)
	}
	decoderSession, err := factory.CreateSession(config.DecoderPath)
	if err != nil {
		encoderSession.Close()
		return nil, fmt.Errorf("creating decoder session: %w", err)
	}

	var decoderInitSession Session
	if config.DecoderInitPath != "" {
		decoderInitSession, err = factory.CreateSession(config.DecoderInitPath)
		if err != nil {
			encoderSession.Close()
			decoderSession.Close()
			return nil, fmt.Errorf("creating decoder init session: %w", err)
		}
	}

	return &seq2SeqModel{
		config:             config,
		encoderSession:     encoderSession,
		decoderSession:     decoderSession,
		decoderInitSession: decoderInitSession,
	}, nil
}

func (m *seq2SeqModel) DecoderConfig() *DecoderConfig {
	return m.config.Decoder
}

func (m *seq2SeqModel) Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if inputs == nil || len(inputs.InputIDs) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if inputs.EncoderOutput == nil {
		return m.runEncoder(inputs)
	}
	return m.runDecoder(inputs)
}

func (m *seq2SeqModel) runEncoder(inputs *ModelInputs) (*ModelOutput, error) {
	batchSize := len(inputs.InputIDs)
	seqLen := len(inputs.InputIDs[0])

	flatIDs := make([]int64, batchSize*seqLen)
	flatMask := make([]int64, batchSize*seqLen)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < seqLen; j++ {
			flatIDs[i*seqLen+j] = int64(inputs.InputIDs[i][j])
			if inputs.AttentionMask == nil {
				flatMask[i*seqLen+j] = 1
			} else {
				flatMask[i*seqLen+j] = int64(inputs.AttentionMask[i][j])
			}
		}
	}

	outputs, err := m.encoderSession.Run([]NamedTensor{
		{Name: "input_ids", Shape: []int64{int64(batchSize), int64(seqLen)}, Data: flatIDs},
		{Name: "attention_mask", Shape: []int64{int64(batchSize), int64(seqLen)}, Data: flatMask},
	})
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no encoder output")
	}

	out := outputs[0]
	hidden, ok := out.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("encoder output is not float32")
	}
	if len(out.Shape) < 3 {
		return nil, fmt.Errorf("unexpected encoder output shape: %v", out.Shape)
	}

	return &ModelOutput{
		EncoderOutput: &EncoderOutput{
			HiddenStates: hidden,
			Shape:        [3]int{int(out.Shape[0]), int(out.Shape[1]), int(out.Shape[2])},
		},
	}, nil
}

func (m *seq2SeqModel) runDecoder(inputs *ModelInputs) (*ModelOutput, error) {
	batchSize := len(inputs.InputIDs)
	seqLen := len(inputs.InputIDs[0])

	flatIDs := make([]int64, batchSize*seqLen)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < seqLen; j++ {
			flatIDs[i*seqLen+j] = int64(inputs.InputIDs[i][j])
		}
	}

	pastKV := inputs.PastKeyValues
	firstStep := pastKV == nil || pastKV.SeqLen == 0
	session := m.decoderSession
	if firstStep && m.decoderInitSession != nil {
		session = m.decoderInitSession
	}

	tensors, err := m.buildDecoderInputs(session, flatIDs, batchSize, seqLen, inputs.EncoderOutput, pastKV)
	if err != nil {
		return nil, fmt.Errorf("building decoder inputs: %w", err)
	}

	outputs, err := session.Run(tensors)
	if err != nil {
		return nil, fmt.Errorf("running decoder: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no decoder output")
	}

	logitsOut := outputs[0]
	logitsData, ok := logitsOut.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("logits tensor is not float32")
	}
	vocabSize := int(logitsOut.Shape[len(logitsOut.Shape)-1])

	// Only the last position matters for the next-token decision.
	logits := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		logits[i] = make([]float32, vocabSize)
		start := i*seqLen*vocabSize + (seqLen-1)*vocabSize
		copy(logits[i], logitsData[start:start+vocabSize])
	}

	return &ModelOutput{
		Logits:        logits,
		PastKeyValues: m.extractKVCache(outputs, pastKV),
	}, nil
}

func (m *seq2SeqModel) buildDecoderInputs(session Session, inputIDs []int64, batchSize, seqLen int, encoderOutput *EncoderOutput, pastKV *KVCache) ([]NamedTensor, error) {
	inputInfo := session.InputInfo()
	inputNames := make(map[string]TensorInfo, len(inputInfo))
	for _, info := range inputInfo {
		inputNames[info.Name] = info
	}

	encoderSeqLen := encoderOutput.Shape[1]

	idsName := "input_ids"
	if _, ok := inputNames["decoder_input_ids"]; ok {
		idsName = "decoder_input_ids"
	}
	tensors := []NamedTensor{{
		Name:  idsName,
		Shape: []int64{int64(batchSize), int64(seqLen)},
		Data:  inputIDs,
	}}

	for _, name := range []string{"encoder_hidden_states", "encoder_outputs"} {
		if _, ok := inputNames[name]; ok {
			tensors = append(tensors, NamedTensor{
				Name: name,
				Shape: []int64{
					int64(encoderOutput.Shape[0]),
					int64(encoderOutput.Shape[1]),
					int64(encoderOutput.Shape[2]),
				},
				Data: encoderOutput.HiddenStates,
			})
			break
		}
	}

	if _, ok := inputNames["encoder_attention_mask"]; ok {
		mask := make([]int64, batchSize*encoderSeqLen)
		for i := range mask {
			mask[i] = 1
		}
		tensors = append(tensors, NamedTensor{
			Name:  "encoder_attention_mask",
			Shape: []int64{int64(batchSize), int64(encoderSeqLen)},
			Data:  mask,
		})
	}

	if info, ok := inputNames["use_cache_branch"]; ok {
		useCache := pastKV != nil && pastKV.SeqLen > 0
		if info.DataType == DataTypeFloat32 {
			val := []float32{0}
			if useCache {
				val[0] = 1
			}
			tensors = append(tensors, NamedTensor{Name: "use_cache_branch", Shape: []int64{1}, Data: val})
		} else {
			tensors = append(tensors, NamedTensor{Name: "use_cache_branch", Shape: []int64{1}, Data: []bool{useCache}})
		}
	}

	for _, info := range inputInfo {
		if isPastKeyValueInput(info.Name) {
			tensors = append(tensors, m.pastKVTensor(info.Name, pastKV, batchSize, encoderSeqLen))
		}
	}

	return tensors, nil
}

// pastKVTensor resolves a past_key_values.* input either from the cache or,
// on the first step, as an appropriately shaped zero tensor. Cross-attention
// caches span the encoder sequence; self-attention caches start empty.
func (m *seq2SeqModel) pastKVTensor(name string, pastKV *KVCache, batchSize, encoderSeqLen int) NamedTensor {
	if pastKV != nil && pastKV.SeqLen > 0 && pastKV.Tensors != nil {
		if tensor, ok := pastKV.Tensors[pastToPresent(name)]; ok {
			return NamedTensor{Name: name, Shape: tensor.Shape, Data: tensor.Data}
		}
	}

	numHeads := m.config.Decoder.NumHeads
	headDim := m.config.Decoder.HeadDim
	if strings.Contains(name, ".encoder.") {
		size := batchSize * numHeads * encoderSeqLen * headDim
		return NamedTensor{
			Name:  name,
			Shape: []int64{int64(batchSize), int64(numHeads), int64(encoderSeqLen), int64(headDim)},
			Data:  make([]float32, size),
		}
	}
	return NamedTensor{
		Name:  name,
		Shape: []int64{int64(batchSize), int64(numHeads), 0, int64(headDim)},
		Data:  []float32{},
	}
}

// pastToPresent maps a past_key_values.* input name to the present.* output
// name it was produced under.
func pastToPresent(name string) string {
	if rest, ok := strings.CutPrefix(name, "past_key_values."); ok {
		return "present." + rest
	}
	return name
}

func isPastKeyValueInput(name string) bool {
	return strings.HasPrefix(name, "past_key_values.")
}

func isPresentKeyValueOutput(name string) bool {
	return strings.HasPrefix(name, "present.")
}

func (m *seq2SeqModel) extractKVCache(outputs []NamedTensor, pastKV *KVCache) *KVCache {
	seqLen := 1
	if pastKV != nil {
		seqLen = pastKV.SeqLen + 1
	}

	tensors := make(map[string]NamedTensor)
	for _, out := range outputs {
		if !isPresentKeyValueOutput(out.Name) {
			continue
		}
		if data, ok := out.Data.([]float32); ok {
			dataCopy := make([]float32, len(data))
			copy(dataCopy, data)
			shapeCopy := make([]int64, len(out.Shape))
			copy(shapeCopy, out.Shape)
			tensors[out.Name] = NamedTensor{Name: out.Name, Shape: shapeCopy, Data: dataCopy}
		}
	}

	if len(tensors) == 0 && pastKV != nil {
		// Some merged decoders update the cache in place and return nothing.
		tensors = pastKV.Tensors
	}

	return &KVCache{SeqLen: seqLen, Tensors: tensors}
}

func (m *seq2SeqModel) Close() error {
	var errs []error
	for _, s := range []Session{m.encoderSession, m.decoderSession, m.decoderInitSession} {
		if s != nil {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.encoderSession = nil
	m.decoderSession = nil
	m.decoderInitSession = nil
	return errors.Join(errs...)
}
