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

package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel emits the symbol stored in each encoder frame unless it was
// the last symbol emitted. Frame value 0 always yields blank.
type scriptedModel struct {
	contextSize int
	vocab       int

	decoderCalls atomic.Int32
}

var _ transducer.Model = (*scriptedModel)(nil)

func (m *scriptedModel) Architecture() transducer.Architecture {
	return transducer.ArchitectureZipformer2
}
func (m *scriptedModel) ContextSize() int { return m.contextSize }
func (m *scriptedModel) VocabSize() int { return m.vocab }
func (m *scriptedModel) ChunkSize() int { return 1 }
func (m *scriptedModel) ChunkShift() int { return 1 }
func (m *scriptedModel) Allocator() backends.Allocator { return backends.HeapAllocator{} }
func (m *scriptedModel) InitStates() []backends.NamedTensor { return nil }
func (m *scriptedModel) Close() error { return nil }

func (m *scriptedModel) RunEncoder(context.Context, backends.NamedTensor, []backends.NamedTensor) (backends.NamedTensor, []backends.NamedTensor, error) {
	return backends.NamedTensor{}, nil, errors.New("not used")
}

// RunDecoder outputs the last token of each row.
func (m *scriptedModel) RunDecoder(ctx context.Context, y backends.NamedTensor) (backends.NamedTensor, error) {
	if err := ctx.Err(); err != nil {
		return backends.NamedTensor{}, err
	}
	m.decoderCalls.Add(1)
	data, err := y.Int64s()
	if err != nil {
		return backends.NamedTensor{}, err
	}
	rows := int(y.Shape[0])
	out := make([]float32, rows)
	for r := 0; r < rows; r++ {
		out[r] = float32(data[(r+1)*m.contextSize-1])
	}
	return backends.NamedTensor{Name: "decoder_out", Shape: []int64{int64(rows), 1}, Data: out}, nil
}

func (m *scriptedModel) RunJoiner(_ context.Context, enc, dec backends.NamedTensor) (backends.NamedTensor, error) {
	encData, err := enc.Float32s()
	if err != nil {
		return backends.NamedTensor{}, err
	}
	decData, err := dec.Float32s()
	if err != nil {
		return backends.NamedTensor{}, err
	}
	rows := len(decData)
	logits := make([]float32, rows*m.vocab)
	for r := 0; r < rows; r++ {
		target, last := int(encData[r]), int(decData[r])
		if target != 0 && target != last {
			logits[r*m.vocab+target] = 5
		} else {
			logits[r*m.vocab] = 5
		}
	}
	return backends.NamedTensor{Name: "logit", Shape: []int64{int64(rows), int64(m.vocab)}, Data: logits}, nil
}

// encoderOutput builds an (N, T, 1) tensor whose frames hold the given targets.
func encoderOutput(targets ...[]float32) backends.NamedTensor {
	frames := len(targets[0])
	var data []float32
	for _, t := range targets {
		data = append(data, t...)
	}
	return backends.NamedTensor{
		Name:  "encoder_out",
		Shape: []int64{int64(len(targets)), int64(frames), 1},
		Data:  data,
	}
}

func TestGreedySearch(t *testing.T) {
	m := &scriptedModel{contextSize: 2, vocab: 6}
	results := []transducer.DecoderResult{
		transducer.NewDecoderResult(2, 0),
		transducer.NewDecoderResult(2, 0),
	}

	err := GreedySearch(context.Background(), m,
		encoderOutput(
			[]float32{1, 1, 2, 0, 3},
			[]float32{0, 0, 4, 4, 0},
		), results, Options{})
	require.NoError(t, err)

	assert.Equal(t, []int64{-1, 0, 1, 2, 3}, results[0].Tokens)
	assert.Equal(t, []int32{0, 2, 4}, results[0].Timestamps)
	assert.Equal(t, 0, results[0].NumTrailingBlanks)
	assert.Equal(t, 5, results[0].FrameOffset)

	assert.Equal(t, []int64{-1, 0, 4}, results[1].Tokens)
	assert.Equal(t, []int32{2}, results[1].Timestamps)
	assert.Equal(t, 2, results[1].NumTrailingBlanks)

	// One initial decoder run plus one per frame that emitted anything.
	assert.Equal(t, int32(4), m.decoderCalls.Load())

	// The next chunk continues the frame count.
	err = GreedySearch(context.Background(), m,
		encoderOutput([]float32{5}, []float32{0}), results, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5}, results[0].Decoded(2))
	assert.Equal(t, []int32{0, 2, 4, 5}, results[0].Timestamps)
	assert.Equal(t, 6, results[1].FrameOffset)
	assert.Equal(t, 3, results[1].NumTrailingBlanks)
}

func TestGreedySearchErrors(t *testing.T) {
	m := &scriptedModel{contextSize: 2, vocab: 6}
	results := []transducer.DecoderResult{transducer.NewDecoderResult(2, 0)}

	err := GreedySearch(context.Background(), m, encoderOutput([]float32{1}, []float32{1}), results, Options{})
	assert.ErrorIs(t, err, errBatchMismatch)

	err = GreedySearch(context.Background(), m, backends.NamedTensor{Shape: []int64{1, 1}, Data: []float32{1}}, results, Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = GreedySearch(ctx, m, encoderOutput([]float32{1}), results, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

// wrongTypeAllocator hands out float64 storage for float32 requests.
type wrongTypeAllocator struct{ backends.HeapAllocator }

func (wrongTypeAllocator) AllocFloat32(name string, shape backends.Shape) backends.NamedTensor {
	return backends.NamedTensor{Name: name, Shape: shape, Data: make([]float64, shape.NumElements())}
}

type wrongAllocModel struct{ *scriptedModel }

func (wrongAllocModel) Allocator() backends.Allocator { return wrongTypeAllocator{} }

func TestSearchRejectsMistypedAllocation(t *testing.T) {
	m := wrongAllocModel{&scriptedModel{contextSize: 2, vocab: 6}}
	enc := encoderOutput([]float32{1, 0})

	results := []transducer.DecoderResult{transducer.NewDecoderResult(2, 0)}
	err := GreedySearch(context.Background(), m, enc, results, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocating joiner input")

	streams := []transducer.Hypotheses{transducer.NewHypotheses(transducer.NewHypothesis(2, 0))}
	err = ModifiedBeamSearch(context.Background(), m, enc, streams, 0, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocating joiner input")
}

func TestModifiedBeamSearch(t *testing.T) {
	m := &scriptedModel{contextSize: 2, vocab: 6}
	streams := []transducer.Hypotheses{
		transducer.NewHypotheses(transducer.NewHypothesis(2, 0)),
		transducer.NewHypotheses(transducer.NewHypothesis(2, 0)),
	}

	err := ModifiedBeamSearch(context.Background(), m,
		encoderOutput(
			[]float32{1, 1, 2, 0, 3},
			[]float32{0, 0, 4, 4, 0},
		), streams, 10, Options{MaxActivePaths: 3})
	require.NoError(t, err)

	best, ok := streams[0].MostProbable(false)
	require.True(t, ok)
	assert.Equal(t, []int64{-1, 0, 1, 2, 3}, best.Ys)
	assert.Equal(t, []int32{10, 12, 14}, best.Timestamps)
	assert.Less(t, best.LogProb, 0.0)

	best, ok = streams[1].MostProbable(false)
	require.True(t, ok)
	assert.Equal(t, []int64{-1, 0, 4}, best.Ys)
	assert.Equal(t, 2, best.NumTrailingBlanks)

	for _, s := range streams {
		assert.LessOrEqual(t, s.Len(), 3)
	}
}

func TestModifiedBeamSearchErrors(t *testing.T) {
	m := &scriptedModel{contextSize: 2, vocab: 6}

	err := ModifiedBeamSearch(context.Background(), m, encoderOutput([]float32{1}),
		[]transducer.Hypotheses{{}}, 0, Options{})
	assert.Error(t, err, "empty streams are rejected")

	err = ModifiedBeamSearch(context.Background(), m, encoderOutput([]float32{1}, []float32{2}),
		[]transducer.Hypotheses{transducer.NewHypotheses(transducer.NewHypothesis(2, 0))}, 0, Options{})
	assert.ErrorIs(t, err, errBatchMismatch)
}

func TestTopK(t *testing.T) {
	assert.Equal(t, []int{2, 0}, topK([]float64{-1, -3, 0.5, -2}, 2))
	assert.Equal(t, []int{1, 0}, topK([]float64{1, 2}, 5))
}
