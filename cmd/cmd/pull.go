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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/linkite/lib/modelhub"
)

var pullCmd = &cobra.Command{
	Use:   "pull <repo-id> [repo-id...]",
	Short: "Pull linking model(s) from HuggingFace Hub",
	Long: `Download one or more seq2seq linking models from HuggingFace Hub into
the models directory.

Variants:
  f32        - FP32 baseline (default, highest accuracy)
  fp16       - FP16 half precision (~50% smaller)
  quantized  - INT8 dynamic quantization (smallest, fastest CPU)

Examples:
  # Pull default FP32 model
  linkite pull ibm-research/regen-disambiguation

  # Pull the quantized variant
  linkite pull --variant quantized ibm-research/regen-disambiguation

  # Pull to a custom directory
  linkite pull --models-dir /opt/antfly/models ibm-research/regen-disambiguation`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().String("variant", "", "model variant (f32, fp16, quantized)")
	pullCmd.Flags().String("hf-token", "", "HuggingFace API token for gated models (or HF_TOKEN env)")
}

func runPull(cmd *cobra.Command, args []string) error {
	variant, _ := cmd.Flags().GetString("variant")
	token, _ := cmd.Flags().GetString("hf-token")
	if token == "" {
		token = os.Getenv("HF_TOKEN")
	}

	puller := modelhub.NewPuller(
		modelhub.WithToken(token),
		modelhub.WithProgressHandler(func(current, total int64, fileName string) {
			if current == total && total > 0 {
				fmt.Printf("  %s (%d bytes)\n", fileName, total)
			}
		}),
	)

	destDir := viper.GetString("models_dir")
	for _, repoID := range args {
		fmt.Printf("Pulling %s into %s\n", repoID, destDir)
		if err := puller.Pull(cmd.Context(), repoID, destDir, variant); err != nil {
			return fmt.Errorf("pulling %s: %w", repoID, err)
		}
		fmt.Printf("Pulled %s\n", modelhub.ModelName(repoID))
	}
	return nil
}
