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

// Package assets reads model files through an asset manager.
//
// An asset manager is any afero.Fs: the OS filesystem, a read-only view
// rooted at an application bundle, or an in-memory filesystem in tests.
package assets

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

// ErrEmptyAsset is returned when an asset exists but has no content.
var ErrEmptyAsset = errors.New("asset is empty")

// ReadFile returns the full contents of name from fsys.
func ReadFile(fsys afero.Fs, name string) ([]byte, error) {
	if fsys == nil {
		return nil, fmt.Errorf("reading %s: no asset manager", name)
	}
	if name == "" {
		return nil, errors.New("reading asset: empty name")
	}
	data, err := afero.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("reading %s: %w", name, ErrEmptyAsset)
	}
	return data, nil
}

// Exists reports whether name is a regular file in fsys.
func Exists(fsys afero.Fs, name string) bool {
	fi, err := fsys.Stat(name)
	return err == nil && !fi.IsDir()
}

// NewRootFs returns a read-only asset manager whose paths resolve under root.
func NewRootFs(root string) afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), root))
}
