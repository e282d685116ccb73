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
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator records how many tensors it hands out.
type countingAllocator struct {
	backends.HeapAllocator
	mu    sync.Mutex
	count int
}

func (a *countingAllocator) AllocInt64(name string, shape backends.Shape) backends.NamedTensor {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
	return a.HeapAllocator.AllocInt64(name, shape)
}

func TestBuildDecoderInputRows(t *testing.T) {
	tests := []struct {
		name        string
		contextSize int
		histories   [][]int64
		want        []int64
	}{
		{
			name:        "exact length",
			contextSize: 2,
			histories:   [][]int64{{-1, 0}},
			want:        []int64{-1, 0},
		},
		{
			name:        "trailing tokens",
			contextSize: 2,
			histories:   [][]int64{{-1, 0, 7, 9, 11}, {-1, 0, 3}},
			want:        []int64{9, 11, 0, 3},
		},
		{
			name:        "context size one",
			contextSize: 1,
			histories:   [][]int64{{5}, {1, 2, 3}, {8, 8}},
			want:        []int64{5, 3, 8},
		},
		{
			name:        "empty batch",
			contextSize: 3,
			histories:   nil,
			want:        []int64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]DecoderResult, len(tt.histories))
			for i, h := range tt.histories {
				results[i] = DecoderResult{Tokens: h}
			}
			alloc := &countingAllocator{}

			y := BuildDecoderInputWith(alloc, tt.contextSize, results)

			assert.Equal(t, DecoderInputName, y.Name)
			assert.Equal(t, []int64{int64(len(tt.histories)), int64(tt.contextSize)}, y.Shape)
			data, err := y.Int64s()
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
			assert.Equal(t, 1, alloc.count)
		})
	}
}

func TestBuildDecoderInputHypotheses(t *testing.T) {
	hyps := []Hypothesis{
		{Ys: []int64{-1, 0, 4}, LogProb: -1},
		{Ys: []int64{-1, 0, 4, 4, 6}, LogProb: -2},
	}
	y := BuildDecoderInputWith(backends.HeapAllocator{}, 3, hyps)
	assert.Equal(t, []int64{2, 3}, y.Shape)
	assert.Equal(t, []int64{-1, 0, 4, 4, 4, 6}, y.Data)
}

func TestBuildDecoderInputDoesNotMutate(t *testing.T) {
	results := []DecoderResult{
		{Tokens: []int64{-1, 0, 1, 2}, Timestamps: []int32{0, 3}, NumTrailingBlanks: 2},
	}
	y := BuildDecoderInputWith(backends.HeapAllocator{}, 2, results)
	data, err := y.Int64s()
	require.NoError(t, err)
	data[0] = 99

	assert.Equal(t, []int64{-1, 0, 1, 2}, results[0].Tokens, "output does not alias the history")
	assert.Equal(t, 2, results[0].NumTrailingBlanks)
}

func TestBuildDecoderInputPermutation(t *testing.T) {
	const contextSize = 3
	rng := rand.New(rand.NewPCG(1, 2))

	items := make([]Hypothesis, 16)
	for i := range items {
		ys := make([]int64, contextSize+rng.IntN(10))
		for j := range ys {
			ys[j] = rng.Int64N(500)
		}
		items[i] = Hypothesis{Ys: ys}
	}
	base := BuildDecoderInputWith(backends.HeapAllocator{}, contextSize, items)
	baseData := base.Data.([]int64)

	perm := rng.Perm(len(items))
	shuffled := make([]Hypothesis, len(items))
	for i, p := range perm {
		shuffled[i] = items[p]
	}
	got := BuildDecoderInputWith(backends.HeapAllocator{}, contextSize, shuffled)
	gotData := got.Data.([]int64)

	for i, p := range perm {
		assert.Equal(t,
			baseData[p*contextSize:(p+1)*contextSize],
			gotData[i*contextSize:(i+1)*contextSize],
			"row %d", i)
	}
}

func TestBuildDecoderInputConcurrent(t *testing.T) {
	const (
		workers     = 8
		contextSize = 2
	)
	batches := make([][]DecoderResult, workers)
	for w := range batches {
		for i := 0; i < 5; i++ {
			base := int64(w*100 + i*10)
			batches[w] = append(batches[w], DecoderResult{Tokens: []int64{base, base + 1, base + 2}})
		}
	}

	want := make([][]int64, workers)
	for w, b := range batches {
		want[w] = BuildDecoderInputWith(backends.HeapAllocator{}, contextSize, b).Data.([]int64)
	}

	got := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := range batches {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for range 50 {
				got[w] = BuildDecoderInputWith(backends.HeapAllocator{}, contextSize, batches[w]).Data.([]int64)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, want, got)
}

func TestBuildDecoderInputShortHistoryPanics(t *testing.T) {
	results := []DecoderResult{
		{Tokens: []int64{1, 2, 3}},
		{Tokens: []int64{1}},
	}
	assert.PanicsWithValue(t,
		fmt.Sprintf("transducer: item %d has %d tokens, fewer than the context size %d", 1, 1, 2),
		func() { BuildDecoderInputWith(backends.HeapAllocator{}, 2, results) })

	assert.Panics(t, func() { BuildDecoderInputWith(backends.HeapAllocator{}, 0, results) })
}
