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
	"os"
	"path/filepath"
	"testing"

	"github.com/antflydb/cicada/lib/assets"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetFsBundleRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "zip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "zip", "encoder.onnx"), []byte("onnx"), 0o644))

	viper.Set("bundle_root", root)
	t.Cleanup(func() { viper.Set("bundle_root", "") })

	fsys := assetFs()
	data, err := assets.ReadFile(fsys, "zip/encoder.onnx")
	require.NoError(t, err)
	assert.Equal(t, []byte("onnx"), data)

	assert.Error(t, afero.WriteFile(fsys, "zip/decoder.onnx", []byte("x"), 0o644), "bundles are read-only")
	_, err = os.Stat(filepath.Join(root, "zip", "decoder.onnx"))
	assert.True(t, os.IsNotExist(err))
}

func TestAssetFsDefault(t *testing.T) {
	viper.Set("bundle_root", "")

	name := filepath.Join(t.TempDir(), "joiner.onnx")
	require.NoError(t, os.WriteFile(name, []byte("onnx"), 0o644))

	data, err := assets.ReadFile(assetFs(), name)
	require.NoError(t, err)
	assert.Equal(t, []byte("onnx"), data)
}
