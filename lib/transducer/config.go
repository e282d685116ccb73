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

package transducer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/antflydb/cicada/lib/backends"
)

// TransducerConfig locates the three networks of a transducer model.
type TransducerConfig struct {
	Encoder string `yaml:"encoder" mapstructure:"encoder"`
	Decoder string `yaml:"decoder" mapstructure:"decoder"`
	Joiner  string `yaml:"joiner" mapstructure:"joiner"`
}

// ModelConfig configures loading of one online transducer model.
type ModelConfig struct {
	// ModelType optionally names the encoder architecture. When it is empty
	// or not a known architecture, the encoder metadata is inspected.
	ModelType string `yaml:"model_type" mapstructure:"model_type"`

	Transducer TransducerConfig `yaml:"transducer" mapstructure:"transducer"`

	// Tokens is the symbol table path. It is not read when loading networks.
	Tokens string `yaml:"tokens" mapstructure:"tokens"`

	// NumThreads for intra-op parallelism of the model sessions (0 = auto).
	NumThreads int `yaml:"num_threads" mapstructure:"num_threads"`

	// Provider selects the execution provider: cpu, cuda, coreml or auto.
	Provider string `yaml:"provider" mapstructure:"provider"`

	// Debug dumps the encoder metadata while inspecting it.
	Debug bool `yaml:"debug" mapstructure:"debug"`
}

// Validate reports missing network locators.
func (c *ModelConfig) Validate() error {
	var errs []error
	if c.Transducer.Encoder == "" {
		errs = append(errs, errors.New("transducer encoder is not set"))
	}
	if c.Transducer.Decoder == "" {
		errs = append(errs, errors.New("transducer decoder is not set"))
	}
	if c.Transducer.Joiner == "" {
		errs = append(errs, errors.New("transducer joiner is not set"))
	}
	if c.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("num_threads must be >= 0, got %d", c.NumThreads))
	}
	switch strings.ToLower(c.Provider) {
	case "", "cpu", "cuda", "coreml", "auto":
	default:
		errs = append(errs, fmt.Errorf("unsupported provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

// WithBaseDir returns a copy of c whose relative locators are joined to dir.
func (c ModelConfig) WithBaseDir(dir string) ModelConfig {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Transducer.Encoder = join(c.Transducer.Encoder)
	c.Transducer.Decoder = join(c.Transducer.Decoder)
	c.Transducer.Joiner = join(c.Transducer.Joiner)
	c.Tokens = join(c.Tokens)
	return c
}

func (c *ModelConfig) sessionOptions() []backends.SessionOption {
	return []backends.SessionOption{
		backends.WithSessionThreads(c.NumThreads),
		backends.WithSessionGPUMode(backends.ParseGPUMode(c.Provider)),
	}
}
