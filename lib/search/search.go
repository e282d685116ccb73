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

// Package search implements transducer decoding over a loaded model:
// greedy search and modified beam search with at most one symbol per frame.
package search

import (
	"errors"
	"fmt"

	"github.com/antflydb/cicada/lib/backends"
)

// DefaultMaxActivePaths is the beam width used when Options leaves it unset.
const DefaultMaxActivePaths = 4

// Options configures a search.
type Options struct {
	// BlankID is the blank symbol of the vocabulary.
	BlankID int64

	// MaxActivePaths is the number of hypotheses kept per stream by
	// ModifiedBeamSearch.
	MaxActivePaths int
}

func (o Options) maxActivePaths() int {
	if o.MaxActivePaths <= 0 {
		return DefaultMaxActivePaths
	}
	return o.MaxActivePaths
}

// encoderFrames validates an (N, T, D) encoder output.
type encoderFrames struct {
	batch, frames, dim int
	data               []float32
}

func newEncoderFrames(out backends.NamedTensor) (encoderFrames, error) {
	if len(out.Shape) != 3 {
		return encoderFrames{}, fmt.Errorf("encoder output must be 3-D, got shape %v", out.Shape)
	}
	data, err := out.Float32s()
	if err != nil {
		return encoderFrames{}, err
	}
	f := encoderFrames{
		batch:  int(out.Shape[0]),
		frames: int(out.Shape[1]),
		dim:    int(out.Shape[2]),
		data:   data,
	}
	if len(data) != f.batch*f.frames*f.dim {
		return encoderFrames{}, fmt.Errorf("encoder output has %d values for shape %v", len(data), out.Shape)
	}
	return f, nil
}

// frame returns frame t of stream i.
func (f encoderFrames) frame(i, t int) []float32 {
	off := (i*f.frames + t) * f.dim
	return f.data[off : off+f.dim]
}

// allocFrames allocates the (rows, dim) joiner input for one frame.
func allocFrames(alloc backends.Allocator, rows, dim int) (backends.NamedTensor, []float32, error) {
	t := alloc.AllocFloat32("encoder_out", backends.NewShape(int64(rows), int64(dim)))
	data, err := t.Float32s()
	if err != nil {
		return backends.NamedTensor{}, nil, fmt.Errorf("allocating joiner input: %w", err)
	}
	if len(data) != rows*dim {
		return backends.NamedTensor{}, nil, fmt.Errorf("allocating joiner input: got %d values for %d rows of %d", len(data), rows, dim)
	}
	return t, data, nil
}

// joinerLogits returns the logits data and the vocabulary size for rows rows.
func joinerLogits(logits backends.NamedTensor, rows int) ([]float32, int, error) {
	data, err := logits.Float32s()
	if err != nil {
		return nil, 0, err
	}
	if rows == 0 || len(data)%rows != 0 || len(data) == 0 {
		return nil, 0, fmt.Errorf("joiner returned %d logits for %d rows", len(data), rows)
	}
	return data, len(data) / rows, nil
}

var errBatchMismatch = errors.New("encoder batch does not match the number of streams")

func toFloat64(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}
