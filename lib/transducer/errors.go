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
)

var (
	// ErrUnknownArchitecture is returned when neither the configured model
	// type nor the encoder metadata names a supported architecture.
	ErrUnknownArchitecture = errors.New("unknown transducer model type")

	// ErrModelLoad marks failures to read or open model files. Retrying the
	// same configuration will not succeed.
	ErrModelLoad = errors.New("failed to load transducer model")

	// ErrNotEntitled is returned when the entitlement gate refuses a load.
	ErrNotEntitled = errors.New("model load not permitted")

	// ErrModelClosed is returned by step functions of a closed model.
	ErrModelClosed = errors.New("transducer model is closed")
)

// ModelLoadError describes a failed step while loading a model.
type ModelLoadError struct {
	Op   string // step that failed, e.g. "read", "open session", "inspect"
	Path string // model file involved, if any
	Err  error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", ErrModelLoad, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrModelLoad, e.Op, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Is makes every ModelLoadError match ErrModelLoad.
func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

func loadError(op, path string, err error) error {
	return &ModelLoadError{Op: op, Path: path, Err: err}
}

// IsModelLoadFailure reports whether err is a fatal load failure.
func IsModelLoadFailure(err error) bool {
	return errors.Is(err, ErrModelLoad)
}

// IsUnknownArchitecture reports whether err means the architecture could not be determined.
func IsUnknownArchitecture(err error) bool {
	return errors.Is(err, ErrUnknownArchitecture)
}

var (
	errNoAssetManager = errors.New("asset manager is nil")
	errNilConfig      = errors.New("model config is nil")
)

func joinNotEntitled(err error) error {
	if errors.Is(err, ErrNotEntitled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNotEntitled, err)
}
