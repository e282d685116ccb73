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

// ConformerParams are the encoder parameters of a streaming conformer.
type ConformerParams struct {
	NumEncoderLayers int
	EncoderDim       int
	LeftContext      int
	CNNModuleKernel  int
	PadLength        int
}

// ConformerModel is a streaming conformer transducer.
type ConformerModel struct {
	*transducerModel
	params ConformerParams
}

func newConformerModel(base *transducerModel) (Model, error) {
	r := &metadataReader{md: base.encoderMeta}
	p := ConformerParams{
		NumEncoderLayers: r.getInt("num_encoder_layers"),
		EncoderDim:       r.getInt("encoder_dim"),
		LeftContext:      r.getInt("left_context"),
		CNNModuleKernel:  r.getInt("cnn_module_kernel"),
		PadLength:        r.getInt("pad_length"),
	}
	if r.err != nil {
		return nil, fmt.Errorf("conformer encoder: %w", r.err)
	}
	return &ConformerModel{transducerModel: base, params: p}, nil
}

// Params returns the encoder parameters read from the model metadata.
func (m *ConformerModel) Params() ConformerParams { return m.params }
