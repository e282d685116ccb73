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

	"github.com/antflydb/cicada/lib/backends"
)

// LstmParams are the encoder parameters of a streaming LSTM transducer.
type LstmParams struct {
	NumEncoderLayers int
	DModel           int
	RNNHiddenSize    int
}

// LstmModel is a streaming LSTM transducer. Its encoder carries a hidden
// state h and a cell state c between chunks.
type LstmModel struct {
	*transducerModel
	params LstmParams
}

func newLstmModel(base *transducerModel) (Model, error) {
	r := &metadataReader{md: base.encoderMeta}
	p := LstmParams{
		NumEncoderLayers: r.getInt("num_encoder_layers"),
		DModel:           r.getInt("d_model"),
		RNNHiddenSize:    r.getInt("rnn_hidden_size"),
	}
	if r.err != nil {
		return nil, fmt.Errorf("lstm encoder: %w", r.err)
	}
	if n := len(base.encoder.InputInfo()); n != 3 {
		return nil, fmt.Errorf("lstm encoder: expected 3 inputs (x, h, c), got %d", n)
	}
	return &LstmModel{transducerModel: base, params: p}, nil
}

func (m *LstmModel) Params() LstmParams { return m.params }

// InitStates returns h of shape (layers, 1, d_model) and c of shape
// (layers, 1, rnn_hidden_size).
func (m *LstmModel) InitStates() []backends.NamedTensor {
	layers := int64(m.params.NumEncoderLayers)
	return []backends.NamedTensor{
		m.alloc.AllocFloat32("h", backends.NewShape(layers, 1, int64(m.params.DModel))),
		m.alloc.AllocFloat32("c", backends.NewShape(layers, 1, int64(m.params.RNNHiddenSize))),
	}
}
