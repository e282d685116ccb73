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

// Command cicada inspects and loads streaming transducer speech-recognition
// models.
//
// Usage:
//
//	cicada inspect <encoder.onnx>     # Dump metadata and detected architecture
//	cicada resolve --encoder <path>   # Resolve the architecture of a model
//	cicada list                       # List models in the models directory
//	cicada load <name>                # Load a model and print its parameters
//	cicada serve                      # Preload models and serve health/metrics
package main

import (
	"runtime"

	"github.com/antflydb/cicada/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	cmd.Version = version
	cmd.Execute()
}
