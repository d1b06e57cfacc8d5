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
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/linking"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local linking models",
	Long: `List linking models installed under the models directory.

Examples:
  # List models in the default directory
  linkite list

  # List models in a custom directory
  linkite list --models-dir /opt/antfly/models`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	dir := viper.GetString("models_dir")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No models found in %s\n", dir)
			return nil
		}
		return fmt.Errorf("reading models directory: %w", err)
	}

	type modelRow struct {
		name      string
		modelType string
		beams     int
	}
	var rows []modelRow
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !linking.IsLinkerModel(path) {
			continue
		}
		cfg := linking.LoadConfig(path, zap.NewNop())
		rows = append(rows, modelRow{name: entry.Name(), modelType: cfg.ModelType, beams: cfg.NumBeams})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	if len(rows) == 0 {
		fmt.Printf("No models found in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tBEAMS")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\n", row.name, row.modelType, row.beams)
	}
	return w.Flush()
}
