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

// EbranchformerParams are the encoder parameters of a streaming E-Branchformer.
type EbranchformerParams struct {
	NumHiddenLayers  int
	HiddenSize       int
	IntermediateSize int
	CSGUKernelSize   int
	MergeConvKernel  int
	LeftContextLen   int
	NumHeads         int
	HeadDim          int
}

// EbranchformerModel is a streaming E-Branchformer transducer.
type EbranchformerModel struct {
	*transducerModel
	params EbranchformerParams
}

func newEbranchformerModel(base *transducerModel) (Model, error) {
	r := &metadataReader{md: base.encoderMeta}
	p := EbranchformerParams{
		NumHiddenLayers:  r.getInt("num_hidden_layers"),
		HiddenSize:       r.getInt("hidden_size"),
		IntermediateSize: r.getInt("intermediate_size"),
		CSGUKernelSize:   r.getInt("csgu_kernel_size"),
		MergeConvKernel:  r.getInt("merge_conv_kernel"),
		LeftContextLen:   r.getInt("left_context_len"),
		NumHeads:         r.getInt("num_heads"),
		HeadDim:          r.getInt("head_dim"),
	}
	if r.err != nil {
		return nil, fmt.Errorf("ebranchformer encoder: %w", r.err)
	}
	return &EbranchformerModel{transducerModel: base, params: p}, nil
}

func (m *EbranchformerModel) Params() EbranchformerParams { return m.params }
