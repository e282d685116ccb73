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

// Package backendstest provides an in-memory SessionFactory for tests.
//
// A fake "model" is a JSON document describing the graph name, metadata and
// tensor I/O of a network. Tests register a RunFunc per graph name to give
// sessions behavior.
package backendstest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/goccy/go-json"
)

// Model is the serialized form of a fake network.
type Model struct {
	Graph    string                 `json:"graph"`
	Metadata backends.ModelMetadata `json:"metadata"`
	Inputs   []Tensor               `json:"inputs"`
	Outputs  []Tensor               `json:"outputs"`
}

// Tensor describes one input or output of a fake network.
type Tensor struct {
	Name  string            `json:"name"`
	Shape []int64           `json:"shape"`
	Type  backends.DataType `json:"type"`
}

// RunFunc computes a session's outputs from its inputs.
type RunFunc func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error)

// Encode serializes m. It panics on failure, which only happens for
// programming errors in a test.
func Encode(m Model) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("backendstest: encoding model: %v", err))
	}
	return data
}

// Factory implements backends.SessionFactory over fake models.
type Factory struct {
	mu      sync.Mutex
	runners map[string]RunFunc
	configs []backends.SessionConfig

	created atomic.Int64
	closed  atomic.Int64
}

var _ backends.SessionFactory = (*Factory)(nil)

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{runners: make(map[string]RunFunc)}
}

// Handle registers fn as the behavior of every session whose graph is graph.
func (f *Factory) Handle(graph string, fn RunFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runners[graph] = fn
}

// CreateSession decodes model and returns a session for it.
func (f *Factory) CreateSession(model []byte, opts ...backends.SessionOption) (backends.Session, error) {
	var m Model
	if err := json.Unmarshal(model, &m); err != nil {
		return nil, fmt.Errorf("parsing fake model: %w", err)
	}

	cfg := backends.ApplySessionOptions(opts...)

	f.mu.Lock()
	f.configs = append(f.configs, *cfg)
	run := f.runners[m.Graph]
	f.mu.Unlock()

	f.created.Add(1)
	return &session{factory: f, model: m, run: run}, nil
}

func (f *Factory) Backend() backends.BackendType {
	return backends.BackendONNX
}

// Created returns how many sessions have been created.
func (f *Factory) Created() int {
	return int(f.created.Load())
}

// Open returns how many created sessions have not been closed.
func (f *Factory) Open() int {
	return int(f.created.Load() - f.closed.Load())
}

// Configs returns the session configurations in creation order.
func (f *Factory) Configs() []backends.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backends.SessionConfig, len(f.configs))
	copy(out, f.configs)
	return out
}

type session struct {
	factory *Factory
	model   Model
	run     RunFunc
	closed  atomic.Bool
}

func (s *session) Run(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session is closed")
	}
	if s.run == nil {
		return nil, fmt.Errorf("no runner registered for graph %q", s.model.Graph)
	}
	return s.run(inputs)
}

func (s *session) InputInfo() []backends.TensorInfo {
	return tensorInfos(s.model.Inputs)
}

func (s *session) OutputInfo() []backends.TensorInfo {
	return tensorInfos(s.model.Outputs)
}

func (s *session) Metadata() *backends.ModelMetadata {
	md := s.model.Metadata
	return &md
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.factory.closed.Add(1)
	}
	return nil
}

func tensorInfos(ts []Tensor) []backends.TensorInfo {
	out := make([]backends.TensorInfo, len(ts))
	for i, t := range ts {
		dt := t.Type
		if dt == "" {
			dt = backends.DataTypeFloat32
		}
		out[i] = backends.TensorInfo{Name: t.Name, Shape: t.Shape, DataType: dt}
	}
	return out
}
