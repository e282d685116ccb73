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

import "fmt"

// Zipformer2Params are the per-stack encoder parameters of a streaming
// Zipformer2.
type Zipformer2Params struct {
	EncoderDims      []int
	QueryHeadDims    []int
	ValueHeadDims    []int
	NumHeads         []int
	NumEncoderLayers []int
	CNNModuleKernels []int
	LeftContextLen   []int
}

// Zipformer2Model is a streaming Zipformer2 transducer.
type Zipformer2Model struct {
	*transducerModel
	params Zipformer2Params
}

func newZipformer2Model(base *transducerModel) (Model, error) {
	r := &metadataReader{md: base.encoderMeta}
	p := Zipformer2Params{
		EncoderDims:      r.getInts("encoder_dims"),
		QueryHeadDims:    r.getInts("query_head_dims"),
		ValueHeadDims:    r.getInts("value_head_dims"),
		NumHeads:         r.getInts("num_heads"),
		NumEncoderLayers: r.getInts("num_encoder_layers"),
		CNNModuleKernels: r.getInts("cnn_module_kernels"),
		LeftContextLen:   r.getInts("left_context_len"),
	}
	r.sameLength(len(p.EncoderDims), map[string][]int{
		"query_head_dims":    p.QueryHeadDims,
		"value_head_dims":    p.ValueHeadDims,
		"num_heads":          p.NumHeads,
		"num_encoder_layers": p.NumEncoderLayers,
		"cnn_module_kernels": p.CNNModuleKernels,
		"left_context_len":   p.LeftContextLen,
	})
	if r.err != nil {
		return nil, fmt.Errorf("zipformer2 encoder: %w", r.err)
	}
	return &Zipformer2Model{transducerModel: base, params: p}, nil
}

func (m *Zipformer2Model) Params() Zipformer2Params { return m.params }

// NumStacks returns the number of encoder stacks.
func (m *Zipformer2Model) NumStacks() int { return len(m.params.EncoderDims) }
