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
	"sync/atomic"
	"testing"

	"github.com/antflydb/cicada/lib/backends/backendstest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// writeModel stores a fake transducer under dir and returns a config locating it.
func writeModel(t *testing.T, fsys afero.Fs, dir string, tr backendstest.Transducer) *ModelConfig {
	t.Helper()
	enc, dec, join, err := tr.Write(fsys, dir)
	require.NoError(t, err)
	return &ModelConfig{
		Transducer: TransducerConfig{Encoder: enc, Decoder: dec, Joiner: join},
	}
}

type countingInspector struct {
	inner Inspector
	calls atomic.Int32
}

func (c *countingInspector) DetectArchitecture(buf []byte, debug bool) (Architecture, error) {
	c.calls.Add(1)
	return c.inner.DetectArchitecture(buf, debug)
}

func fakeTransducer(modelType string) backendstest.Transducer {
	return backendstest.Transducer{
		ModelType:   modelType,
		ContextSize: 2,
		VocabSize:   500,
	}
}
