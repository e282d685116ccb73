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

package cicada

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/antflydb/cicada/lib/assets"
	"github.com/antflydb/cicada/lib/transducer"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	modelConfigFile = "model.yaml"
	tokensFile      = "tokens.txt"
	variantInt8     = "int8"
)

// ModelInfo describes a discovered model that is not necessarily loaded.
type ModelInfo struct {
	Name    string
	Path    string
	Variant string // "" for full precision, "int8" for quantized networks
	Config  transducer.ModelConfig
}

// discoverModels returns the models under dir. A model directory holds
// encoder*.onnx, decoder*.onnx and joiner*.onnx; directories without them
// are searched one level deeper (owner/model).
func discoverModels(fsys afero.Fs, dir string, defaults transducer.ModelConfig, preferInt8 bool, logger *zap.Logger) (map[string]*ModelInfo, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	discovered := make(map[string]*ModelInfo)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		modelPath := filepath.Join(dir, entry.Name())

		info, err := inspectModelDir(fsys, modelPath, entry.Name(), defaults, preferInt8)
		if err != nil {
			logger.Warn("Skipping model directory", zap.String("path", modelPath), zap.Error(err))
			continue
		}
		if info != nil {
			discovered[info.Name] = info
			continue
		}

		// owner/model layout
		nested, err := afero.ReadDir(fsys, modelPath)
		if err != nil {
			continue
		}
		for _, sub := range nested {
			if !sub.IsDir() {
				continue
			}
			name := entry.Name() + "/" + sub.Name()
			info, err := inspectModelDir(fsys, filepath.Join(modelPath, sub.Name()), name, defaults, preferInt8)
			if err != nil {
				logger.Warn("Skipping model directory", zap.String("name", name), zap.Error(err))
				continue
			}
			if info != nil {
				discovered[info.Name] = info
			}
		}
	}
	return discovered, nil
}

// inspectModelDir returns nil, nil when dir does not look like a model.
func inspectModelDir(fsys afero.Fs, dir, name string, defaults transducer.ModelConfig, preferInt8 bool) (*ModelInfo, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	cfg := defaults
	hasOverlay := false
	if assets.Exists(fsys, filepath.Join(dir, modelConfigFile)) {
		overlay, err := readModelConfig(fsys, filepath.Join(dir, modelConfigFile))
		if err != nil {
			return nil, err
		}
		mergeModelConfig(&cfg, overlay)
		hasOverlay = true
	}

	variant := ""
	pick := func(current, prefix string) string {
		if current != "" {
			return current
		}
		f, v := pickNetwork(files, prefix, preferInt8)
		if v == variantInt8 {
			variant = variantInt8
		}
		return f
	}
	cfg.Transducer.Encoder = pick(cfg.Transducer.Encoder, "encoder")
	cfg.Transducer.Decoder = pick(cfg.Transducer.Decoder, "decoder")
	cfg.Transducer.Joiner = pick(cfg.Transducer.Joiner, "joiner")

	if cfg.Transducer.Encoder == "" || cfg.Transducer.Decoder == "" || cfg.Transducer.Joiner == "" {
		if hasOverlay {
			return nil, fmt.Errorf("%s does not locate all of encoder, decoder and joiner", modelConfigFile)
		}
		return nil, nil
	}
	if cfg.Tokens == "" && slices.Contains(files, tokensFile) {
		cfg.Tokens = tokensFile
	}

	return &ModelInfo{
		Name:    name,
		Path:    dir,
		Variant: variant,
		Config:  cfg.WithBaseDir(dir),
	}, nil
}

// pickNetwork chooses among files named prefix*.onnx. Quantized files
// (containing ".int8.") are chosen when preferInt8 is set or when they are
// the only option.
func pickNetwork(files []string, prefix string, preferInt8 bool) (string, string) {
	var full, quant string
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) || !strings.HasSuffix(f, ".onnx") {
			continue
		}
		if strings.Contains(f, "."+variantInt8+".") {
			if quant == "" {
				quant = f
			}
		} else if full == "" {
			full = f
		}
	}
	switch {
	case quant != "" && (preferInt8 || full == ""):
		return quant, variantInt8
	default:
		return full, ""
	}
}

func readModelConfig(fsys afero.Fs, name string) (transducer.ModelConfig, error) {
	var cfg transducer.ModelConfig
	data, err := assets.ReadFile(fsys, name)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", name, err)
	}
	return cfg, nil
}

// mergeModelConfig copies the fields set in overlay onto cfg.
func mergeModelConfig(cfg *transducer.ModelConfig, overlay transducer.ModelConfig) {
	if overlay.ModelType != "" {
		cfg.ModelType = overlay.ModelType
	}
	if overlay.Transducer.Encoder != "" {
		cfg.Transducer.Encoder = overlay.Transducer.Encoder
	}
	if overlay.Transducer.Decoder != "" {
		cfg.Transducer.Decoder = overlay.Transducer.Decoder
	}
	if overlay.Transducer.Joiner != "" {
		cfg.Transducer.Joiner = overlay.Transducer.Joiner
	}
	if overlay.Tokens != "" {
		cfg.Tokens = overlay.Tokens
	}
	if overlay.NumThreads != 0 {
		cfg.NumThreads = overlay.NumThreads
	}
	if overlay.Provider != "" {
		cfg.Provider = overlay.Provider
	}
	if overlay.Debug {
		cfg.Debug = true
	}
}
