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

// Command linkite runs the Linkite entity linking service.
//
// Linkite links document mentions to a constrained entity vocabulary using
// generative seq2seq models (ONNX). It can run as a standalone HTTP service
// or link documents one-shot from the command line.
//
// Usage:
//
//	linkite run                    # Start the server
//	linkite link --model <name>    # Link documents from a file or stdin
//	linkite list                   # List local models
package main

import (
	"runtime"

	"github.com/antflydb/linkite/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
//
// By default, GoReleaser will set the following 3 ldflags:
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the snapshot, if you're using the --snapshot flag
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
