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
	"fmt"
	"sync"

	"github.com/antflydb/cicada/lib/assets"
	"github.com/antflydb/cicada/lib/backends"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Model is a loaded streaming transducer. Each architecture has its own
// concrete type; callers own the model and must Close it.
type Model interface {
	// Architecture returns the encoder architecture of the model.
	Architecture() Architecture

	// ContextSize is the number of trailing tokens the decoder consumes.
	ContextSize() int

	// VocabSize is the number of output symbols of the joiner.
	VocabSize() int

	// ChunkSize is the number of feature frames the encoder consumes per call.
	ChunkSize() int

	// ChunkShift is the number of feature frames to advance after each call.
	ChunkShift() int

	// Allocator returns the allocator for tensors fed to the model.
	Allocator() backends.Allocator

	// InitStates returns zeroed encoder states for a single stream.
	InitStates() []backends.NamedTensor

	// RunEncoder runs one chunk of features through the encoder and returns
	// the encoder output and the updated states.
	RunEncoder(ctx context.Context, features backends.NamedTensor, states []backends.NamedTensor) (backends.NamedTensor, []backends.NamedTensor, error)

	// RunDecoder runs the decoder on a (batch, context_size) token tensor.
	RunDecoder(ctx context.Context, y backends.NamedTensor) (backends.NamedTensor, error)

	// RunJoiner combines encoder and decoder outputs into (batch, vocab) logits.
	RunJoiner(ctx context.Context, encoderOut, decoderOut backends.NamedTensor) (backends.NamedTensor, error)

	// Close releases the sessions held by the model.
	Close() error
}

// transducerModel holds the parts shared by every architecture: the three
// sessions and the decoder and chunking parameters.
type transducerModel struct {
	arch Architecture

	encoder backends.Session
	decoder backends.Session
	joiner  backends.Session

	encoderMeta *backends.ModelMetadata

	contextSize int
	vocabSize   int
	chunkSize   int
	chunkShift  int

	alloc  backends.Allocator
	logger *zap.Logger

	// mu guards the sessions against Close while a step is running.
	mu     sync.RWMutex
	closed bool
}

func openTransducer(fsys afero.Fs, cfg *ModelConfig, arch Architecture, factory backends.SessionFactory, logger *zap.Logger) (*transducerModel, error) {
	m := &transducerModel{
		arch:   arch,
		alloc:  backends.HeapAllocator{},
		logger: logger,
	}
	opts := cfg.sessionOptions()

	var err error
	if m.encoder, err = openSession(fsys, cfg.Transducer.Encoder, factory, opts); err != nil {
		return nil, err
	}
	if m.decoder, err = openSession(fsys, cfg.Transducer.Decoder, factory, opts); err != nil {
		_ = m.Close()
		return nil, err
	}
	if m.joiner, err = openSession(fsys, cfg.Transducer.Joiner, factory, opts); err != nil {
		_ = m.Close()
		return nil, err
	}
	if err := m.readMetadata(cfg); err != nil {
		_ = m.Close()
		return nil, err
	}

	logger.Debug("Opened transducer sessions",
		zap.Stringer("architecture", arch),
		zap.Int("context_size", m.contextSize),
		zap.Int("vocab_size", m.vocabSize),
		zap.Int("chunk_size", m.chunkSize),
		zap.Int("chunk_shift", m.chunkShift))
	return m, nil
}

func openSession(fsys afero.Fs, name string, factory backends.SessionFactory, opts []backends.SessionOption) (backends.Session, error) {
	buf, err := assets.ReadFile(fsys, name)
	if err != nil {
		return nil, loadError("read", name, err)
	}
	s, err := factory.CreateSession(buf, opts...)
	if err != nil {
		return nil, loadError("open session", name, err)
	}
	return s, nil
}

func (m *transducerModel) readMetadata(cfg *ModelConfig) error {
	decoderMeta := m.decoder.Metadata()

	contextSize, err := decoderMeta.LookupInt("context_size")
	if err != nil {
		return loadError("read metadata", cfg.Transducer.Decoder, err)
	}
	if contextSize <= 0 {
		return loadError("read metadata", cfg.Transducer.Decoder,
			fmt.Errorf("context_size must be positive, got %d", contextSize))
	}
	m.contextSize = contextSize

	vocabSize, err := decoderMeta.LookupIntOr("vocab_size", 0)
	if err != nil {
		return loadError("read metadata", cfg.Transducer.Decoder, err)
	}
	if vocabSize <= 0 {
		vocabSize = joinerOutputDim(m.joiner)
	}
	if vocabSize <= 0 {
		return loadError("read metadata", cfg.Transducer.Joiner,
			errors.New("vocab_size is missing and the joiner output dimension is dynamic"))
	}
	m.vocabSize = vocabSize

	m.encoderMeta = m.encoder.Metadata()
	if m.chunkSize, err = m.encoderMeta.LookupInt("T"); err != nil {
		return loadError("read metadata", cfg.Transducer.Encoder, err)
	}
	if m.chunkShift, err = m.encoderMeta.LookupInt("decode_chunk_len"); err != nil {
		return loadError("read metadata", cfg.Transducer.Encoder, err)
	}
	return nil
}

func joinerOutputDim(s backends.Session) int {
	out := s.OutputInfo()
	if len(out) == 0 || len(out[0].Shape) == 0 {
		return 0
	}
	return int(out[0].Shape[len(out[0].Shape)-1])
}

func (m *transducerModel) Architecture() Architecture { return m.arch }
func (m *transducerModel) ContextSize() int { return m.contextSize }
func (m *transducerModel) VocabSize() int { return m.vocabSize }
func (m *transducerModel) ChunkSize() int { return m.chunkSize }
func (m *transducerModel) ChunkShift() int { return m.chunkShift }
func (m *transducerModel) Allocator() backends.Allocator { return m.alloc }

// EncoderMetadata returns the metadata embedded in the encoder.
func (m *transducerModel) EncoderMetadata() *backends.ModelMetadata { return m.encoderMeta }

// InitStates allocates one zeroed tensor per encoder state input, taking the
// declared shapes with dynamic dimensions set to a batch of one.
func (m *transducerModel) InitStates() []backends.NamedTensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	in := m.encoder.InputInfo()
	if len(in) < 2 {
		return nil
	}
	states := make([]backends.NamedTensor, 0, len(in)-1)
	for _, info := range in[1:] {
		shape := make(backends.Shape, len(info.Shape))
		for i, d := range info.Shape {
			if d < 0 {
				d = 1
			}
			shape[i] = d
		}
		states = append(states, m.allocState(info.Name, info.DataType, shape))
	}
	return states
}

func (m *transducerModel) allocState(name string, dt backends.DataType, shape backends.Shape) backends.NamedTensor {
	if dt == backends.DataTypeInt64 {
		return m.alloc.AllocInt64(name, shape)
	}
	return m.alloc.AllocFloat32(name, shape)
}

func (m *transducerModel) RunEncoder(ctx context.Context, features backends.NamedTensor, states []backends.NamedTensor) (backends.NamedTensor, []backends.NamedTensor, error) {
	if err := ctx.Err(); err != nil {
		return backends.NamedTensor{}, nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return backends.NamedTensor{}, nil, ErrModelClosed
	}
	in := m.encoder.InputInfo()
	if len(in) == 0 {
		return backends.NamedTensor{}, nil, errors.New("encoder has no inputs")
	}
	if len(states) != len(in)-1 {
		return backends.NamedTensor{}, nil, fmt.Errorf("encoder expects %d states, got %d", len(in)-1, len(states))
	}

	inputs := make([]backends.NamedTensor, 0, len(in))
	features.Name = in[0].Name
	inputs = append(inputs, features)
	for i, s := range states {
		s.Name = in[i+1].Name
		inputs = append(inputs, s)
	}

	outputs, err := m.encoder.Run(inputs)
	if err != nil {
		return backends.NamedTensor{}, nil, fmt.Errorf("running encoder: %w", err)
	}
	if len(outputs) == 0 {
		return backends.NamedTensor{}, nil, errors.New("encoder returned no outputs")
	}
	return outputs[0], outputs[1:], nil
}

func (m *transducerModel) RunDecoder(ctx context.Context, y backends.NamedTensor) (backends.NamedTensor, error) {
	if err := ctx.Err(); err != nil {
		return backends.NamedTensor{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return backends.NamedTensor{}, ErrModelClosed
	}
	in := m.decoder.InputInfo()
	if len(in) > 0 {
		y.Name = in[0].Name
	}
	outputs, err := m.decoder.Run([]backends.NamedTensor{y})
	if err != nil {
		return backends.NamedTensor{}, fmt.Errorf("running decoder: %w", err)
	}
	if len(outputs) == 0 {
		return backends.NamedTensor{}, errors.New("decoder returned no outputs")
	}
	return outputs[0], nil
}

func (m *transducerModel) RunJoiner(ctx context.Context, encoderOut, decoderOut backends.NamedTensor) (backends.NamedTensor, error) {
	if err := ctx.Err(); err != nil {
		return backends.NamedTensor{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return backends.NamedTensor{}, ErrModelClosed
	}
	in := m.joiner.InputInfo()
	if len(in) < 2 {
		return backends.NamedTensor{}, fmt.Errorf("joiner expects 2 inputs, has %d", len(in))
	}
	encoderOut.Name = in[0].Name
	decoderOut.Name = in[1].Name
	outputs, err := m.joiner.Run([]backends.NamedTensor{encoderOut, decoderOut})
	if err != nil {
		return backends.NamedTensor{}, fmt.Errorf("running joiner: %w", err)
	}
	if len(outputs) == 0 {
		return backends.NamedTensor{}, errors.New("joiner returned no outputs")
	}
	return outputs[0], nil
}

// Close releases all sessions and waits for running steps. It is safe to
// call on a partially opened model and more than once; later steps return
// ErrModelClosed.
func (m *transducerModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var errs []error
	for _, s := range []*backends.Session{&m.encoder, &m.decoder, &m.joiner} {
		if *s == nil {
			continue
		}
		if err := (*s).Close(); err != nil {
			errs = append(errs, err)
		}
		*s = nil
	}
	return errors.Join(errs...)
}

// metadataReader parses architecture parameters from encoder metadata and
// keeps the first error.
type metadataReader struct {
	md  *backends.ModelMetadata
	err error
}

func (r *metadataReader) getInt(key string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.md.LookupInt(key)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *metadataReader) getInts(key string) []int {
	if r.err != nil {
		return nil
	}
	v, err := r.md.LookupInts(key)
	if err != nil {
		r.err = err
	}
	return v
}

// sameLength records an error unless every list has n entries.
func (r *metadataReader) sameLength(n int, lists map[string][]int) {
	if r.err != nil {
		return
	}
	for key, l := range lists {
		if len(l) != n {
			r.err = fmt.Errorf("metadata key %q has %d entries, want %d", key, len(l), n)
			return
		}
	}
}
