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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Config holds configuration for entity linking models.
type Config struct {
	// ModelID is the original HuggingFace model ID.
	ModelID string `json:"model_id"`
	// ModelType should be "regen".
	ModelType string `json:"model_type"`
	// MaxInputLen caps the tokenized context fed to the encoder.
	MaxInputLen int `json:"max_input_len"`
	// MaxOutputLen caps the generated entity name length in tokens.
	MaxOutputLen int `json:"max_output_len"`
	// NumBeams is the beam width for constrained decoding.
	NumBeams int `json:"num_beams"`
	// StartMentionToken marks the mention start in the context.
	StartMentionToken string `json:"start_mention_token"`
	// EndMentionToken marks the mention end in the context.
	EndMentionToken string `json:"end_mention_token"`
}

// DefaultConfig returns the default linker configuration.
func DefaultConfig() Config {
	return Config{
		ModelType:         "regen",
		MaxInputLen:       384,
		MaxOutputLen:      15,
		NumBeams:          10,
		StartMentionToken: "[START_ENT]",
		EndMentionToken:   "[END_ENT]",
	}
}

// LoadConfig reads linker_config.json from the model directory, falling
// back to defaults for absent files or fields.
func LoadConfig(modelPath string, logger *zap.Logger) Config {
	if logger == nil {
		logger = zap.NewNop()
	}

	config := DefaultConfig()
	configPath := filepath.Join(modelPath, "linker_config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return config
	}
	if err := json.Unmarshal(data, &config); err != nil {
		logger.Warn("Failed to parse linker config", zap.Error(err))
		return DefaultConfig()
	}

	if config.MaxInputLen <= 0 {
		config.MaxInputLen = DefaultConfig().MaxInputLen
	}
	if config.MaxOutputLen <= 0 {
		config.MaxOutputLen = DefaultConfig().MaxOutputLen
	}
	if config.NumBeams <= 0 {
		config.NumBeams = DefaultConfig().NumBeams
	}
	if config.StartMentionToken == "" {
		config.StartMentionToken = DefaultConfig().StartMentionToken
	}
	if config.EndMentionToken == "" {
		config.EndMentionToken = DefaultConfig().EndMentionToken
	}

	logger.Info("Loaded linker config",
		zap.String("model_id", config.ModelID),
		zap.Int("max_input_len", config.MaxInputLen),
		zap.Int("max_output_len", config.MaxOutputLen),
		zap.Int("num_beams", config.NumBeams))
	return config
}

// IsLinkerModel checks if the model path contains an entity linking model.
// It looks for linker_config.json, or a model name suggesting GENRE/REGEN
// alongside encoder/decoder ONNX files.
func IsLinkerModel(modelPath string) bool {
	configPath := filepath.Join(modelPath, "linker_config.json")
	if _, err := os.Stat(configPath); err == nil {
		return true
	}

	modelName := strings.ToLower(filepath.Base(modelPath))
	if strings.Contains(modelName, "genre") || strings.Contains(modelName, "regen") {
		encoderPath := filepath.Join(modelPath, "encoder_model.onnx")
		if _, err := os.Stat(encoderPath); err == nil {
			return true
		}
	}

	return false
}
