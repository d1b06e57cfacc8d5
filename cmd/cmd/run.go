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
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/linkite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the linkite server",
	Long:  `Start the linkite server for generative entity linking.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("api-url", "http://0.0.0.0:8092", "API listen URL")
	runCmd.Flags().Int("pool-size", 0, "per-model linker pool size (0 = CPU count)")
	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
	mustBindPFlag("pool_size", runCmd.Flags().Lookup("pool-size"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	linkite.Version = Version
	cfg := linkite.NodeConfig{
		ApiUrl:    viper.GetString("api_url"),
		ModelsDir: viper.GetString("models_dir"),
		PoolSize:  viper.GetInt("pool_size"),
	}

	readyC := make(chan struct{})
	go func() {
		<-readyC
		logger.Info("Linkite is ready")
	}()

	return linkite.Serve(ctx, cfg, logger, readyC)
}
