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

// Package backends provides the inference-backend abstraction used to run
// transducer models:
//
//   - Session: runs named tensors through one loaded network
//   - SessionFactory: builds sessions from serialized model bytes
//   - ModelMetadata: model-level metadata embedded by the export pipeline
//   - Allocator: hands out storage for input tensors
//
// Available backends:
//   - ONNX Runtime: requires -tags="onnx,ORT" and CGO
//
// Build example:
//
//	go build -tags="onnx,ORT" ./cmd
//
// Without the build tags no backend is registered and DefaultSessionFactory
// returns an error; the rest of the module (resolution logic, decoder-input
// construction, search) still builds and is testable against fakes.
package backends

import (
	"fmt"
	"strings"
)

// BackendType identifies the inference backend
type BackendType string

const (
	// BackendONNX is the ONNX Runtime backend - fast CPU/GPU inference
	BackendONNX BackendType = "onnx"
)

// GPUMode controls how GPU acceleration is enabled.
type GPUMode string

const (
	GPUModeAuto   GPUMode = "auto"   // Auto-detect GPU availability
	GPUModeCuda   GPUMode = "cuda"   // Force CUDA
	GPUModeCoreML GPUMode = "coreml" // Force CoreML (macOS only)
	GPUModeOff    GPUMode = "off"    // CPU only
)

// GPUInfo contains information about the detected GPU
type GPUInfo struct {
	Available  bool   `json:"available"`
	Type       string `json:"type"` // "cuda", "coreml", "none"
	DeviceName string `json:"device_name,omitempty"`
	DriverVer  string `json:"driver_version,omitempty"`
}

// ParseBackendType parses a string into BackendType.
// Returns an error for unrecognized values.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(s) {
	case "onnx":
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("unknown backend type: %q (valid: onnx)", s)
	}
}

// ParseBackendPriority parses a list of backend names.
func ParseBackendPriority(priority []string) ([]BackendType, error) {
	types := make([]BackendType, 0, len(priority))
	for _, s := range priority {
		t, err := ParseBackendType(s)
		if err != nil {
			return nil, fmt.Errorf("invalid backend priority %q: %w", s, err)
		}
		types = append(types, t)
	}
	return types, nil
}

// ParseGPUMode parses a provider string into GPUMode.
// "cpu" is accepted as an alias for "off" since model configs name the
// execution provider rather than the GPU mode.
func ParseGPUMode(s string) GPUMode {
	switch strings.ToLower(s) {
	case "auto", "":
		return GPUModeAuto
	case "cuda", "gpu":
		return GPUModeCuda
	case "coreml":
		return GPUModeCoreML
	case "off", "cpu":
		return GPUModeOff
	default:
		return GPUModeAuto
	}
}

// Shape represents tensor dimensions.
type Shape []int64

// String returns a string representation of the shape.
func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// NumElements returns the product of all dimensions.
func (s Shape) NumElements() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// NewShape returns a Shape with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}
