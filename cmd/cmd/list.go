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
	"text/tabwriter"

	"github.com/antflydb/cicada"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List models in the models directory",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

type listEntry struct {
	Name      string `json:"name"`
	ModelType string `json:"model_type,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Encoder   string `json:"encoder"`
}

func runList(cmd *cobra.Command, args []string) error {
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

	var entries []listEntry
	for _, name := range registry.List() {
		info, ok := registry.Info(name)
		if !ok {
			continue
		}
		entries = append(entries, listEntry{
			Name:      info.Name,
			ModelType: info.Config.ModelType,
			Variant:   info.Variant,
			Encoder:   info.Config.Transducer.Encoder,
		})
	}

	if jsonOut {
		return printJSON(os.Stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Printf("No models found in %s\n", cfg.ModelsDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMODEL TYPE\tVARIANT\tENCODER")
	for _, e := range entries {
		modelType, variant := e.ModelType, e.Variant
		if modelType == "" {
			modelType = "-"
		}
		if variant == "" {
			variant = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, modelType, variant, e.Encoder)
	}
	return w.Flush()
}
