// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/linkite/lib/linking"
)

// linkInput is the JSON document for one-shot linking.
type linkInput struct {
	Documents []linking.Document `json:"documents"`
	Entities  []linking.Entity   `json:"entities"`
}

type linkOutput struct {
	Spans [][]linking.Span `json:"spans"`
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link documents one-shot from a file or stdin",
	Long: `Link document mentions against an entity vocabulary without starting
the server. Input is JSON with "documents" and "entities" arrays; spans are
written to stdout as JSON.

Examples:
  # Link documents from a file
  linkite link --model regen-wiki --input docs.json

  # Pipe input through stdin
  cat docs.json | linkite link --model regen-wiki`,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)

	linkCmd.Flags().String("model", "", "linking model directory name (required)")
	linkCmd.Flags().String("input", "-", "input JSON file, - for stdin")
	_ = linkCmd.MarkFlagRequired("model")
}

func runLink(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	inputPath, _ := cmd.Flags().GetString("input")

	var in io.Reader = os.Stdin
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var input linkInput
	if err := decoder.NewStreamDecoder(in).Decode(&input); err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}
	if len(input.Documents) == 0 {
		return fmt.Errorf("input has no documents")
	}
	if len(input.Entities) == 0 {
		return fmt.Errorf("input has no entities")
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	linker, err := linking.NewRegenLinker(filepath.Join(viper.GetString("models_dir"), model), logger)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", model, err)
	}
	defer linker.Close()

	if err := linker.SetEntities(input.Entities); err != nil {
		return fmt.Errorf("setting entities: %w", err)
	}

	spans, err := linker.Predict(cmd.Context(), input.Documents)
	if err != nil {
		return fmt.Errorf("linking: %w", err)
	}

	enc := encoder.NewStreamEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(linkOutput{Spans: spans})
}
