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
	"sort"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	"gonum.org/v1/gonum/floats"
)

// ModifiedBeamSearch decodes one chunk of encoder output for several
// streams, emitting at most one symbol per frame. encoderOut has shape
// (len(streams), T, D) and frameOffset is the index of its first frame
// within the stream. Every stream must hold at least one hypothesis.
func ModifiedBeamSearch(ctx context.Context, m transducer.Model, encoderOut backends.NamedTensor, streams []transducer.Hypotheses, frameOffset int, opts Options) error {
	enc, err := newEncoderFrames(encoderOut)
	if err != nil {
		return err
	}
	if enc.batch != len(streams) {
		return fmt.Errorf("%w: %d vs %d", errBatchMismatch, enc.batch, len(streams))
	}
	for i := range streams {
		if streams[i].Len() == 0 {
			return fmt.Errorf("stream %d has no hypotheses", i)
		}
	}

	beam := opts.maxActivePaths()
	alloc := m.Allocator()

	for t := 0; t < enc.frames; t++ {
		// Flatten the hypotheses of all streams; stream i owns rows
		// offsets[i] to offsets[i+1].
		var all []transducer.Hypothesis
		offsets := make([]int, len(streams)+1)
		for i := range streams {
			all = append(all, streams[i].Slice()...)
			offsets[i+1] = len(all)
		}

		decoderOut, err := m.RunDecoder(ctx, transducer.BuildDecoderInput(m, all))
		if err != nil {
			return err
		}

		cur, curData, err := allocFrames(alloc, len(all), enc.dim)
		if err != nil {
			return err
		}
		for i := range streams {
			frame := enc.frame(i, t)
			for r := offsets[i]; r < offsets[i+1]; r++ {
				copy(curData[r*enc.dim:(r+1)*enc.dim], frame)
			}
		}

		logits, err := m.RunJoiner(ctx, cur, decoderOut)
		if err != nil {
			return err
		}
		data, vocab, err := joinerLogits(logits, len(all))
		if err != nil {
			return err
		}

		// Log-softmax each row and add the path score.
		scores := make([]float64, len(data))
		toFloat64(scores, data)
		for r := range all {
			row := scores[r*vocab : (r+1)*vocab]
			floats.AddConst(all[r].LogProb-floats.LogSumExp(row), row)
		}

		for i := range streams {
			lo := offsets[i] * vocab
			hi := offsets[i+1] * vocab

			var next transducer.Hypotheses
			for _, k := range topK(scores[lo:hi], beam) {
				src := all[offsets[i]+k/vocab]
				y := int64(k % vocab)

				h := src.Clone()
				h.LogProb = scores[lo+k]
				if y == opts.BlankID {
					h.NumTrailingBlanks++
				} else {
					h.Ys = append(h.Ys, y)
					h.Timestamps = append(h.Timestamps, int32(frameOffset+t))
					h.NumTrailingBlanks = 0
				}
				next.Add(h)
			}
			streams[i] = next
		}
	}
	return nil
}

// topK returns the indices of the k largest values, largest first.
func topK(values []float64, k int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] > values[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
