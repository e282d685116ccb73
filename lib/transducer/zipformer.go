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

// ZipformerParams are the per-stack encoder parameters of a streaming
// Zipformer. Every list has one entry per encoder stack.
type ZipformerParams struct {
	EncoderDims      []int
	AttentionDims    []int
	NumEncoderLayers []int
	CNNModuleKernels []int
	LeftContextLen   []int
}

// ZipformerModel is a streaming Zipformer transducer.
type ZipformerModel struct {
	*transducerModel
	params ZipformerParams
}

func newZipformerModel(base *transducerModel) (Model, error) {
	r := &metadataReader{md: base.encoderMeta}
	p := ZipformerParams{
		EncoderDims:      r.getInts("encoder_dims"),
		AttentionDims:    r.getInts("attention_dims"),
		NumEncoderLayers: r.getInts("num_encoder_layers"),
		CNNModuleKernels: r.getInts("cnn_module_kernels"),
		LeftContextLen:   r.getInts("left_context_len"),
	}
	r.sameLength(len(p.EncoderDims), map[string][]int{
		"attention_dims":     p.AttentionDims,
		"num_encoder_layers": p.NumEncoderLayers,
		"cnn_module_kernels": p.CNNModuleKernels,
		"left_context_len":   p.LeftContextLen,
	})
	if r.err != nil {
		return nil, fmt.Errorf("zipformer encoder: %w", r.err)
	}
	return &ZipformerModel{transducerModel: base, params: p}, nil
}

func (m *ZipformerModel) Params() ZipformerParams { return m.params }

// NumStacks returns the number of encoder stacks.
func (m *ZipformerModel) NumStacks() int { return len(m.params.EncoderDims) }
