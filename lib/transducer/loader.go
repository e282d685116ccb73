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

	"github.com/antflydb/cicada/lib/assets"
	"github.com/antflydb/cicada/lib/backends"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Gate decides whether a model may be loaded. It is consulted once per load,
// before the architecture is resolved.
type Gate interface {
	Admit(ctx context.Context, cfg *ModelConfig) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, cfg *ModelConfig) error

func (f GateFunc) Admit(ctx context.Context, cfg *ModelConfig) error { return f(ctx, cfg) }

// Observer is notified of every successful architecture resolution.
type Observer interface {
	ObserveResolution(arch Architecture, src Source)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(arch Architecture, src Source)

func (f ObserverFunc) ObserveResolution(arch Architecture, src Source) { f(arch, src) }

// Option configures a Loader.
type Option func(*Loader)

// WithInspector replaces the default session-based inspector.
func WithInspector(i Inspector) Option {
	return func(l *Loader) { l.inspector = i }
}

// WithGate installs an entitlement gate.
func WithGate(g Gate) Option {
	return func(l *Loader) { l.gate = g }
}

// WithObserver installs a resolution observer.
func WithObserver(o Observer) Option {
	return func(l *Loader) { l.observer = o }
}

// Loader resolves the architecture of transducer models and constructs the
// matching Model. A Loader holds no per-load state and may be shared.
type Loader struct {
	sessions  backends.SessionFactory
	inspector Inspector
	gate      Gate
	observer  Observer
	logger    *zap.Logger
}

// NewLoader returns a Loader that opens sessions through sessions.
func NewLoader(sessions backends.SessionFactory, logger *zap.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.inspector == nil {
		l.inspector = NewSessionInspector(sessions, logger.Named("inspector"))
	}
	return l
}

// CreateModel loads the model described by cfg from the local filesystem.
func (l *Loader) CreateModel(ctx context.Context, cfg *ModelConfig) (Model, error) {
	return l.createModel(ctx, afero.NewOsFs(), cfg)
}

// CreateModelFromManager loads the model described by cfg through the asset
// manager mgr. Locators in cfg are paths within mgr.
func (l *Loader) CreateModelFromManager(ctx context.Context, mgr afero.Fs, cfg *ModelConfig) (Model, error) {
	if mgr == nil {
		return nil, loadError("open asset manager", "", errNoAssetManager)
	}
	return l.createModel(ctx, mgr, cfg)
}

// ResolveArchitecture determines the architecture of the model described by
// cfg, reading the encoder from fsys only when the configured model type does
// not name a known architecture.
func (l *Loader) ResolveArchitecture(fsys afero.Fs, cfg *ModelConfig) (Architecture, Source, error) {
	arch, src, err := l.resolveArchitecture(fsys, cfg)
	if err != nil {
		return ArchitectureUnknown, SourceNone, err
	}
	if arch == ArchitectureUnknown {
		return ArchitectureUnknown, src, ErrUnknownArchitecture
	}
	return arch, src, nil
}

func (l *Loader) resolveArchitecture(fsys afero.Fs, cfg *ModelConfig) (Architecture, Source, error) {
	if cfg.ModelType != "" {
		if arch := ParseArchitecture(cfg.ModelType); arch != ArchitectureUnknown {
			return arch, SourceHint, nil
		}
		l.logger.Warn("Unknown model_type in config, trying to load the model to get its type",
			zap.String("model_type", cfg.ModelType))
	}

	buf, err := assets.ReadFile(fsys, cfg.Transducer.Encoder)
	if err != nil {
		return ArchitectureUnknown, SourceNone, loadError("read", cfg.Transducer.Encoder, err)
	}
	arch, err := l.inspector.DetectArchitecture(buf, cfg.Debug)
	if err != nil {
		var mle *ModelLoadError
		if errors.As(err, &mle) && mle.Path == "" {
			mle.Path = cfg.Transducer.Encoder
		}
		return ArchitectureUnknown, SourceNone, err
	}
	return arch, SourceMetadata, nil
}

func (l *Loader) createModel(ctx context.Context, fsys afero.Fs, cfg *ModelConfig) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, loadError("validate config", "", errNilConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, loadError("validate config", "", err)
	}

	if l.gate != nil {
		if err := l.gate.Admit(ctx, cfg); err != nil {
			l.logger.Error("Model load refused by entitlement gate", zap.Error(err))
			return nil, loadError("admit", cfg.Transducer.Encoder, joinNotEntitled(err))
		}
	}

	arch, src, err := l.resolveArchitecture(fsys, cfg)
	if err != nil {
		return nil, err
	}

	var newModel func(*transducerModel) (Model, error)
	switch arch {
	case ArchitectureConformer:
		newModel = newConformerModel
	case ArchitectureEbranchformer:
		newModel = newEbranchformerModel
	case ArchitectureLstm:
		newModel = newLstmModel
	case ArchitectureZipformer:
		newModel = newZipformerModel
	case ArchitectureZipformer2:
		newModel = newZipformer2Model
	case ArchitectureUnknown:
		l.logger.Error("Unknown model type in online transducer",
			zap.String("encoder", cfg.Transducer.Encoder))
		return nil, ErrUnknownArchitecture
	}
	if newModel == nil {
		l.logger.Error("Unsupported architecture value", zap.Uint8("architecture", uint8(arch)))
		return nil, ErrUnknownArchitecture
	}

	if l.observer != nil {
		l.observer.ObserveResolution(arch, src)
	}

	base, err := openTransducer(fsys, cfg, arch, l.sessions, l.logger.Named(arch.String()))
	if err != nil {
		return nil, err
	}
	m, err := newModel(base)
	if err != nil {
		_ = base.Close()
		return nil, loadError("read metadata", cfg.Transducer.Encoder, err)
	}

	l.logger.Info("Created online transducer model",
		zap.Stringer("architecture", arch),
		zap.Stringer("source", src),
		zap.Int("context_size", m.ContextSize()),
		zap.Int("vocab_size", m.VocabSize()))
	return m, nil
}
