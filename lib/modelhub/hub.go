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

// Package modelhub downloads linking models from HuggingFace Hub.
package modelhub

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
)

// ProgressHandler is called as files are downloaded (current == total means done).
type ProgressHandler func(current, total int64, fileName string)

// Puller downloads seq2seq linking models from HuggingFace Hub.
type Puller struct {
	token           string
	progressHandler ProgressHandler
}

// PullerOption configures the puller
type PullerOption func(*Puller)

// NewPuller creates a HuggingFace model puller
func NewPuller(opts ...PullerOption) *Puller {
	p := &Puller{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithToken sets the HuggingFace API token for gated models
func WithToken(token string) PullerOption {
	return func(p *Puller) { p.token = token }
}

// WithProgressHandler sets the progress handler for downloads
func WithProgressHandler(h ProgressHandler) PullerOption {
	return func(p *Puller) { p.progressHandler = h }
}

// Pull downloads the encoder/decoder ONNX files, tokenizer files, and configs
// for a linking model into destDir/<model-name>/. variant can be "", "fp16",
// "quantized", or "q4"; empty selects the FP32 files.
//
// Nested repo paths (onnx/encoder_model.onnx) are flattened so the model
// directory matches what the session loader expects.
func (p *Puller) Pull(ctx context.Context, repoID, destDir, variant string) error {
	repo := hub.New(repoID)
	if p.token != "" {
		repo = repo.WithAuth(p.token)
	}

	var files []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return fmt.Errorf("listing files in %s: %w", repoID, err)
		}
		files = append(files, fileName)
	}

	toDownload := selectLinkerFiles(files, variant)
	if len(toDownload) == 0 {
		return fmt.Errorf("no seq2seq model files found in %s", repoID)
	}

	modelDir := filepath.Join(destDir, ModelName(repoID))
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	for _, fileName := range toDownload {
		if err := ctx.Err(); err != nil {
			return err
		}

		localPath, err := repo.DownloadFile(fileName)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", fileName, err)
		}

		destName := filepath.Base(fileName)
		destPath := filepath.Join(modelDir, destName)

		if p.progressHandler != nil {
			p.progressHandler(0, 0, destName)
		}
		if err := copyFile(localPath, destPath); err != nil {
			return fmt.Errorf("copying %s: %w", fileName, err)
		}
		if p.progressHandler != nil {
			if info, err := os.Stat(destPath); err == nil {
				p.progressHandler(info.Size(), info.Size(), destName)
			}
		}
	}

	return nil
}

// ModelName derives the local model directory name from a repo ID,
// e.g. "ibm/regen-disambiguation" -> "regen-disambiguation".
func ModelName(repoID string) string {
	if idx := strings.LastIndex(repoID, "/"); idx >= 0 {
		return repoID[idx+1:]
	}
	return repoID
}

// selectLinkerFiles picks the files a linking model directory needs: the
// tokenizer and config files plus the encoder/decoder ONNX files matching
// the requested variant.
func selectLinkerFiles(files []string, variant string) []string {
	var result []string

	// Configs and tokenizer files, wherever they sit in the repo.
	exactNames := []string{
		"linker_config.json",
		"config.json",
		"generation_config.json",
		"tokenizer.json",
		"tokenizer_config.json",
		"special_tokens_map.json",
		"added_tokens.json",
		"vocab.json",
		"merges.txt",
	}
	for _, name := range exactNames {
		for _, f := range files {
			if filepath.Base(f) == name {
				result = append(result, f)
				break
			}
		}
	}

	suffix := ".onnx"
	switch variant {
	case "", "f32", "fp32":
		// Plain files only; variant-suffixed files are skipped below.
	case "fp16", "quantized", "q4":
		suffix = "_" + variant + ".onnx"
	default:
		suffix = "_" + variant + ".onnx"
	}

	for _, f := range files {
		base := filepath.Base(f)
		if !strings.HasSuffix(base, ".onnx") && !strings.HasSuffix(base, ".onnx_data") {
			continue
		}
		if !isSeq2SeqFile(base) {
			continue
		}
		if suffix == ".onnx" {
			// FP32: reject anything carrying a variant suffix.
			if hasVariantSuffix(base) {
				continue
			}
			result = append(result, f)
			continue
		}
		if strings.HasSuffix(base, suffix) || strings.HasSuffix(base, suffix+"_data") {
			result = append(result, f)
		}
	}

	return result
}

// isSeq2SeqFile reports whether base names an encoder or decoder model file.
func isSeq2SeqFile(base string) bool {
	for _, prefix := range []string{"encoder_model", "decoder_model", "decoder_with_past_model", "decoder-init", "decoder"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

func hasVariantSuffix(base string) bool {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(base, "_data"), ".onnx")
	for _, v := range []string{"_fp16", "_quantized", "_q4", "_q4f16", "_int8", "_uint8", "_bnb4"} {
		if strings.HasSuffix(trimmed, v) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
