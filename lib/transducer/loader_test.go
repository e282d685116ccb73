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
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/backends/backendstest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCreateModelHintSkipsInspection(t *testing.T) {
	wantTypes := map[Architecture]Model{
		ArchitectureConformer:     (*ConformerModel)(nil),
		ArchitectureEbranchformer: (*EbranchformerModel)(nil),
		ArchitectureLstm:          (*LstmModel)(nil),
		ArchitectureZipformer:     (*ZipformerModel)(nil),
		ArchitectureZipformer2:    (*Zipformer2Model)(nil),
	}

	for _, arch := range Architectures() {
		t.Run(arch.String(), func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			// The encoder metadata claims another architecture; the hint must win
			// without the encoder being inspected.
			tr := fakeTransducer(arch.String())
			tr.Extra = map[string]string{"model_type": "transformer"}
			cfg := writeModel(t, fsys, "model", tr)
			cfg.ModelType = arch.String()

			factory := backendstest.NewFactory()
			inspector := &countingInspector{inner: NewSessionInspector(factory, nil)}
			loader := NewLoader(factory, zap.NewNop(), WithInspector(inspector))

			m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
			require.NoError(t, err)
			defer m.Close()

			assert.IsType(t, wantTypes[arch], m)
			assert.Equal(t, arch, m.Architecture())
			assert.Equal(t, int32(0), inspector.calls.Load())
			assert.Equal(t, 3, factory.Created(), "only the three model sessions are opened")
		})
	}
}

func TestResolveArchitectureFromMetadata(t *testing.T) {
	for _, arch := range Architectures() {
		t.Run(arch.String(), func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			cfg := writeModel(t, fsys, "model", fakeTransducer(arch.String()))

			factory := backendstest.NewFactory()
			loader := NewLoader(factory, nil)

			got, src, err := loader.ResolveArchitecture(fsys, cfg)
			require.NoError(t, err)
			assert.Equal(t, arch, got)
			assert.Equal(t, SourceMetadata, src)
			assert.Equal(t, 0, factory.Open(), "inspection session is closed")

			m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
			require.NoError(t, err)
			assert.Equal(t, arch, m.Architecture())
			require.NoError(t, m.Close())
			assert.Equal(t, 0, factory.Open())
		})
	}
}

func TestCreateModelUnknownArchitecture(t *testing.T) {
	tests := []struct {
		name      string
		modelType string
		hint      string
		wantLog   string
	}{
		{name: "missing model_type", modelType: "", wantLog: "outdated"},
		{name: "unsupported model_type", modelType: "transformer", wantLog: "Unsupported model_type"},
		{name: "wrong case", modelType: "Zipformer2", wantLog: "Unsupported model_type"},
		{name: "unknown hint and metadata", modelType: "paraformer", hint: "paraformer", wantLog: "Unsupported model_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			cfg := writeModel(t, fsys, "model", fakeTransducer(tt.modelType))
			cfg.ModelType = tt.hint

			core, logs := observer.New(zapcore.DebugLevel)
			factory := backendstest.NewFactory()
			loader := NewLoader(factory, zap.New(core))

			m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
			assert.Nil(t, m)
			require.ErrorIs(t, err, ErrUnknownArchitecture)
			assert.True(t, IsUnknownArchitecture(err))
			assert.False(t, IsModelLoadFailure(err))
			assert.Equal(t, 1, factory.Created(), "only the inspection session is opened")
			assert.Equal(t, 0, factory.Open())

			assert.Equal(t, 1, logs.FilterMessageSnippet(tt.wantLog).FilterLevelExact(zapcore.ErrorLevel).Len())
			assert.Equal(t, 1, logs.FilterMessage("Unknown model type in online transducer").Len())

			arch, _, err := loader.ResolveArchitecture(fsys, cfg)
			assert.Equal(t, ArchitectureUnknown, arch)
			assert.ErrorIs(t, err, ErrUnknownArchitecture)
		})
	}
}

func TestUnrecognizedHintFallsBackToMetadata(t *testing.T) {
	for _, hint := range []string{"Zipformer2", "zipformer-2", " lstm"} {
		t.Run(hint, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer2"))
			cfg.ModelType = hint

			core, logs := observer.New(zapcore.DebugLevel)
			factory := backendstest.NewFactory()
			inspector := &countingInspector{inner: NewSessionInspector(factory, nil)}
			loader := NewLoader(factory, zap.New(core), WithInspector(inspector))

			m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
			require.NoError(t, err)
			defer m.Close()

			assert.IsType(t, (*Zipformer2Model)(nil), m)
			assert.Equal(t, int32(1), inspector.calls.Load())
			assert.Equal(t, 1, logs.FilterMessageSnippet("trying to load the model").FilterLevelExact(zapcore.WarnLevel).Len())
		})
	}
}

func TestCreateModelFromOSFilesystem(t *testing.T) {
	dir := t.TempDir()
	cfg := writeModel(t, afero.NewOsFs(), filepath.Join(dir, "model"), fakeTransducer("lstm"))

	factory := backendstest.NewFactory()
	loader := NewLoader(factory, nil)

	m, err := loader.CreateModel(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.IsType(t, (*LstmModel)(nil), m)

	// The same files through a rooted asset manager.
	rooted := *cfg
	rooted.Transducer = TransducerConfig{Encoder: "encoder.onnx", Decoder: "decoder.onnx", Joiner: "joiner.onnx"}
	m2, err := loader.CreateModelFromManager(context.Background(), afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(dir, "model")), &rooted)
	require.NoError(t, err)
	defer m2.Close()
	assert.Equal(t, ArchitectureLstm, m2.Architecture())
}

func TestCreateModelLoadFailures(t *testing.T) {
	t.Run("missing encoder file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer"))
		cfg.Transducer.Encoder = "model/missing.onnx"

		m, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
		assert.Nil(t, m)
		require.True(t, IsModelLoadFailure(err))

		var mle *ModelLoadError
		require.ErrorAs(t, err, &mle)
		assert.Equal(t, "read", mle.Op)
		assert.Equal(t, "model/missing.onnx", mle.Path)
	})

	t.Run("corrupt encoder during inspection", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer"))
		require.NoError(t, afero.WriteFile(fsys, cfg.Transducer.Encoder, []byte("not a model"), 0o644))

		_, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
		var mle *ModelLoadError
		require.ErrorAs(t, err, &mle)
		assert.Equal(t, "inspect", mle.Op)
		assert.Equal(t, cfg.Transducer.Encoder, mle.Path)
		assert.ErrorIs(t, err, ErrModelLoad)
	})

	t.Run("corrupt joiner closes opened sessions", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer"))
		cfg.ModelType = "zipformer"
		require.NoError(t, afero.WriteFile(fsys, cfg.Transducer.Joiner, []byte("{"), 0o644))

		factory := backendstest.NewFactory()
		m, err := NewLoader(factory, nil).CreateModelFromManager(context.Background(), fsys, cfg)
		assert.Nil(t, m)
		assert.True(t, IsModelLoadFailure(err))
		assert.Equal(t, 2, factory.Created())
		assert.Equal(t, 0, factory.Open())
	})

	t.Run("missing context size", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		tr := fakeTransducer("conformer")
		tr.ContextSize = 0
		cfg := writeModel(t, fsys, "model", tr)

		factory := backendstest.NewFactory()
		_, err := NewLoader(factory, nil).CreateModelFromManager(context.Background(), fsys, cfg)
		require.True(t, IsModelLoadFailure(err))
		assert.Contains(t, err.Error(), "context_size")
		assert.Equal(t, 0, factory.Open())
	})

	t.Run("missing architecture parameter", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		tr := fakeTransducer("zipformer2")
		tr.Extra = map[string]string{"query_head_dims": ""}
		cfg := writeModel(t, fsys, "model", tr)

		factory := backendstest.NewFactory()
		_, err := NewLoader(factory, nil).CreateModelFromManager(context.Background(), fsys, cfg)
		require.True(t, IsModelLoadFailure(err))
		assert.Contains(t, err.Error(), "query_head_dims")
		assert.Equal(t, 0, factory.Open())
	})

	t.Run("mismatched stack lists", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		tr := fakeTransducer("zipformer")
		tr.Extra = map[string]string{"left_context_len": "64,32"}
		cfg := writeModel(t, fsys, "model", tr)

		_, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
		require.True(t, IsModelLoadFailure(err))
		assert.Contains(t, err.Error(), "left_context_len")
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), afero.NewMemMapFs(), &ModelConfig{})
		assert.True(t, IsModelLoadFailure(err))

		_, err = NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), afero.NewMemMapFs(), nil)
		assert.True(t, IsModelLoadFailure(err))
	})

	t.Run("nil asset manager", func(t *testing.T) {
		_, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), nil, &ModelConfig{})
		assert.True(t, IsModelLoadFailure(err))
	})
}

func TestCreateModelVocabSizeFromJoiner(t *testing.T) {
	fsys := afero.NewMemMapFs()
	tr := fakeTransducer("zipformer2")
	tr.VocabSize = 0
	cfg := writeModel(t, fsys, "model", tr)
	// Rewrite the joiner with a static output dimension.
	require.NoError(t, afero.WriteFile(fsys, cfg.Transducer.Joiner, backendstest.Encode(backendstest.Model{
		Graph:   backendstest.JoinerGraph,
		Inputs:  []backendstest.Tensor{{Name: "encoder_out"}, {Name: "decoder_out"}},
		Outputs: []backendstest.Tensor{{Name: "logit", Shape: []int64{-1, 6254}}},
	}), 0o644))

	m, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 6254, m.VocabSize())

	// With neither metadata nor a static dimension the load fails.
	tr.VocabSize = 0
	cfg = writeModel(t, fsys, "other", tr)
	_, err = NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
	assert.True(t, IsModelLoadFailure(err))
}

func TestCreateModelGate(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("lstm"))

	refused := errors.New("license expired")
	var admitted []string
	gate := GateFunc(func(_ context.Context, c *ModelConfig) error {
		admitted = append(admitted, c.Transducer.Encoder)
		if c.ModelType == "lstm" {
			return nil
		}
		return refused
	})

	factory := backendstest.NewFactory()
	loader := NewLoader(factory, nil, WithGate(gate))

	m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
	assert.Nil(t, m)
	require.ErrorIs(t, err, ErrNotEntitled)
	assert.ErrorIs(t, err, refused)
	assert.True(t, IsModelLoadFailure(err))
	assert.Equal(t, 0, factory.Created(), "refused loads never touch the model")

	cfg.ModelType = "lstm"
	m, err = loader.CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.Len(t, admitted, 2)
}

func TestCreateModelObserver(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("ebranchformer"))

	type resolution struct {
		arch Architecture
		src  Source
	}
	var seen []resolution
	loader := NewLoader(backendstest.NewFactory(), nil, WithObserver(ObserverFunc(func(a Architecture, s Source) {
		seen = append(seen, resolution{a, s})
	})))

	m, err := loader.CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	cfg.ModelType = "ebranchformer"
	m, err = loader.CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.Equal(t, []resolution{
		{ArchitectureEbranchformer, SourceMetadata},
		{ArchitectureEbranchformer, SourceHint},
	}, seen)
}

func TestCreateModelCanceledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("lstm"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	factory := backendstest.NewFactory()
	_, err := NewLoader(factory, nil).CreateModelFromManager(ctx, fsys, cfg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, factory.Created())
}

func TestSessionOptionsFromConfig(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer"))
	cfg.NumThreads = 4
	cfg.Provider = "cpu"

	factory := backendstest.NewFactory()
	m, err := NewLoader(factory, nil).CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	defer m.Close()

	configs := factory.Configs()
	require.Len(t, configs, 4)

	// Inspection runs single-threaded on the CPU.
	assert.Equal(t, 1, configs[0].NumThreads)
	assert.Equal(t, 1, configs[0].InterOpThreads)
	assert.Equal(t, backends.GPUModeOff, configs[0].GPUMode)

	for _, c := range configs[1:] {
		assert.Equal(t, 4, c.NumThreads)
		assert.Equal(t, backends.GPUModeOff, c.GPUMode)
	}
}

func TestInspectorDebugDump(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer2"))
	buf, err := afero.ReadFile(fsys, cfg.Transducer.Encoder)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	inspector := NewSessionInspector(backendstest.NewFactory(), zap.New(core))

	arch, err := inspector.DetectArchitecture(buf, false)
	require.NoError(t, err)
	assert.Equal(t, ArchitectureZipformer2, arch)
	assert.Equal(t, 0, logs.Len())

	arch, err = inspector.DetectArchitecture(buf, true)
	require.NoError(t, err)
	assert.Equal(t, ArchitectureZipformer2, arch)

	dumps := logs.FilterMessage("Encoder model metadata").All()
	require.Len(t, dumps, 1)
	md, ok := dumps[0].ContextMap()["metadata"].(map[string]interface{})
	require.True(t, ok)
	custom, ok := md["custom"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "zipformer2", custom["model_type"])
}

func TestEndToEndZipformer2(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := writeModel(t, fsys, "model", fakeTransducer("zipformer2"))
	cfg.ModelType = ""

	m, err := NewLoader(backendstest.NewFactory(), nil).CreateModelFromManager(context.Background(), fsys, cfg)
	require.NoError(t, err)
	defer m.Close()

	z, ok := m.(*Zipformer2Model)
	require.True(t, ok)
	assert.Equal(t, 6, z.NumStacks())
	assert.Equal(t, []int{2, 2, 3, 4, 3, 2}, z.Params().NumEncoderLayers)

	y := BuildDecoderInput(m, []DecoderResult{{Tokens: []int64{1, 2, 3, 4, 5}}})
	assert.Equal(t, DecoderInputName, y.Name)
	assert.Equal(t, []int64{1, 2}, y.Shape)
	assert.Equal(t, []int64{4, 5}, y.Data)
}
