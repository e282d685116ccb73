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

	"github.com/antflydb/cicada/lib/transducer"
	"github.com/spf13/cobra"
)

var (
	resolveEncoder   string
	resolveDecoder   string
	resolveJoiner    string
	resolveModelType string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the encoder architecture of a transducer model",
	Long: `Resolve the encoder architecture of a transducer model.

A --model-type naming a known architecture is used as is. Otherwise the
encoder is opened and its "model_type" metadata entry is read.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveEncoder, "encoder", "", "path to the encoder network")
	resolveCmd.Flags().StringVar(&resolveDecoder, "decoder", "", "path to the decoder network")
	resolveCmd.Flags().StringVar(&resolveJoiner, "joiner", "", "path to the joiner network")
	resolveCmd.Flags().StringVar(&resolveModelType, "model-type", "", "architecture hint")
	_ = resolveCmd.MarkFlagRequired("encoder")
}

type resolveResult struct {
	Architecture string `json:"architecture"`
	Source       string `json:"source"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg := registryConfig()
	loader, err := newLoader(&cfg, logger)
	if err != nil {
		return err
	}

	mc := &transducer.ModelConfig{
		ModelType: resolveModelType,
		Transducer: transducer.TransducerConfig{
			Encoder: resolveEncoder,
			Decoder: resolveDecoder,
			Joiner:  resolveJoiner,
		},
		Debug: cfg.Debug,
	}
	arch, src, err := loader.ResolveArchitecture(assetFs(), mc)
	if err != nil {
		return err
	}

	res := resolveResult{Architecture: arch.String(), Source: src.String()}
	if jsonOut {
		return printJSON(os.Stdout, res)
	}
	fmt.Printf("%s (from %s)\n", res.Architecture, res.Source)
	return nil
}
