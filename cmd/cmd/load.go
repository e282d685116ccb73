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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/antflydb/cicada"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <model>",
	Short: "Load a model and print its parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

type loadResult struct {
	Name         string  `json:"name"`
	Architecture string  `json:"architecture"`
	ContextSize  int     `json:"context_size"`
	VocabSize    int     `json:"vocab_size"`
	ChunkSize    int     `json:"chunk_size"`
	ChunkShift   int     `json:"chunk_shift"`
	LoadSeconds  float64 `json:"load_seconds"`
}

func runLoad(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg := registryConfig()
	loader, err := newLoader(&cfg, logger)
	if err != nil {
		return err
	}
	registry, err := cicada.NewModelRegistry(cfg, assetFs(), loader, logger.Named("registry"))
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	start := time.Now()
	m, err := registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	res := loadResult{
		Name:         args[0],
		Architecture: m.Architecture().String(),
		ContextSize:  m.ContextSize(),
		VocabSize:    m.VocabSize(),
		ChunkSize:    m.ChunkSize(),
		ChunkShift:   m.ChunkShift(),
		LoadSeconds:  time.Since(start).Seconds(),
	}
	if jsonOut {
		return printJSON(os.Stdout, res)
	}
	fmt.Printf("Model:         %s\n", res.Name)
	fmt.Printf("Architecture:  %s\n", res.Architecture)
	fmt.Printf("Context size:  %d\n", res.ContextSize)
	fmt.Printf("Vocab size:    %d\n", res.VocabSize)
	fmt.Printf("Chunk:         %d frames, shift %d\n", res.ChunkSize, res.ChunkShift)
	fmt.Printf("Loaded in      %.2fs\n", res.LoadSeconds)
	return nil
}
