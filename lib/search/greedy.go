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
	"fmt"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	"gonum.org/v1/gonum/floats"
)

// GreedySearch decodes one chunk of encoder output, appending the most
// probable symbol of each frame to results. encoderOut has shape
// (len(results), T, D). Results must be primed with
// transducer.NewDecoderResult.
func GreedySearch(ctx context.Context, m transducer.Model, encoderOut backends.NamedTensor, results []transducer.DecoderResult, opts Options) error {
	enc, err := newEncoderFrames(encoderOut)
	if err != nil {
		return err
	}
	if enc.batch != len(results) {
		return fmt.Errorf("%w: %d vs %d", errBatchMismatch, enc.batch, len(results))
	}
	if len(results) == 0 {
		return nil
	}

	decoderOut, err := m.RunDecoder(ctx, transducer.BuildDecoderInput(m, results))
	if err != nil {
		return err
	}

	alloc := m.Allocator()
	var row []float64
	for t := 0; t < enc.frames; t++ {
		cur, curData, err := allocFrames(alloc, enc.batch, enc.dim)
		if err != nil {
			return err
		}
		for i := range results {
			copy(curData[i*enc.dim:(i+1)*enc.dim], enc.frame(i, t))
		}

		logits, err := m.RunJoiner(ctx, cur, decoderOut)
		if err != nil {
			return err
		}
		data, vocab, err := joinerLogits(logits, len(results))
		if err != nil {
			return err
		}
		if len(row) != vocab {
			row = make([]float64, vocab)
		}

		emitted := false
		for i := range results {
			toFloat64(row, data[i*vocab:(i+1)*vocab])
			y := int64(floats.MaxIdx(row))

			r := &results[i]
			if y == opts.BlankID {
				r.NumTrailingBlanks++
				continue
			}
			emitted = true
			r.Tokens = append(r.Tokens, y)
			r.Timestamps = append(r.Timestamps, int32(r.FrameOffset+t))
			r.NumTrailingBlanks = 0
		}

		if emitted {
			decoderOut, err = m.RunDecoder(ctx, transducer.BuildDecoderInput(m, results))
			if err != nil {
				return err
			}
		}
	}

	for i := range results {
		results[i].FrameOffset += enc.frames
	}
	return nil
}
