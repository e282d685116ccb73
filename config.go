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

// Package cicada serves streaming transducer speech-recognition models.
//
// A ModelRegistry discovers model directories, loads them on demand through
// a transducer.Loader and unloads them after a keep-alive period.
package cicada

import (
	"fmt"
	"time"

	"github.com/antflydb/cicada/lib/backends"
)

// Config configures a ModelRegistry.
type Config struct {
	// ModelsDir holds one directory per model, optionally nested one level
	// deeper as owner/model.
	ModelsDir string `mapstructure:"models_dir"`

	// BackendPriority lists backends in order of preference, e.g. ["onnx"].
	BackendPriority []string `mapstructure:"backend_priority"`

	// KeepAlive is how long an unused model stays loaded, as a duration
	// string. Empty or "0" keeps models loaded until Close.
	KeepAlive string `mapstructure:"keep_alive"`

	// MaxLoadedModels caps the number of loaded models (0 = unlimited).
	MaxLoadedModels int `mapstructure:"max_loaded_models"`

	// NumThreads, Provider and Debug are defaults for every model; a
	// model.yaml next to the model overrides them.
	NumThreads int    `mapstructure:"num_threads"`
	Provider   string `mapstructure:"provider"`
	Debug      bool   `mapstructure:"debug"`

	// PreferInt8 selects int8-quantized networks when both variants exist.
	PreferInt8 bool `mapstructure:"prefer_int8"`

	// Preload names models to load at startup.
	Preload []string `mapstructure:"preload"`
}

func (c *Config) keepAlive() (time.Duration, error) {
	if c.KeepAlive == "" || c.KeepAlive == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.KeepAlive)
	if err != nil {
		return 0, fmt.Errorf("parsing keep_alive %q: %w", c.KeepAlive, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("keep_alive must not be negative, got %s", d)
	}
	return d, nil
}

// ApplyBackendPriority installs c.BackendPriority as the process-wide
// backend selection order.
func (c *Config) ApplyBackendPriority() error {
	if len(c.BackendPriority) == 0 {
		return nil
	}
	order, err := backends.ParseBackendPriority(c.BackendPriority)
	if err != nil {
		return err
	}
	backends.SetPriority(order)
	return nil
}
