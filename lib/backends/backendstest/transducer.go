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

package backendstest

import (
	"maps"
	"path"
	"strconv"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/spf13/afero"
)

// Graph names used by the fake transducer trio.
const (
	EncoderGraph = "encoder"
	DecoderGraph = "decoder"
	JoinerGraph  = "joiner"
)

// Transducer describes a fake encoder/decoder/joiner trio.
type Transducer struct {
	// ModelType is stored under "model_type" in the encoder metadata.
	// Empty omits the key, like exports that predate it.
	ModelType string

	ContextSize int
	VocabSize   int
	EncoderDim  int

	// Extra is merged into the encoder metadata after the defaults for
	// ModelType, so tests can override or blank out keys.
	Extra map[string]string
}

// ArchitectureMetadata returns well-formed encoder metadata for the named
// architecture.
func ArchitectureMetadata(modelType string) map[string]string {
	md := map[string]string{
		"T":                "39",
		"decode_chunk_len": "32",
	}
	switch modelType {
	case "conformer":
		md["num_encoder_layers"] = "12"
		md["encoder_dim"] = "512"
		md["left_context"] = "64"
		md["cnn_module_kernel"] = "31"
		md["pad_length"] = "7"
	case "ebranchformer":
		md["num_hidden_layers"] = "12"
		md["hidden_size"] = "256"
		md["intermediate_size"] = "1024"
		md["csgu_kernel_size"] = "31"
		md["merge_conv_kernel"] = "31"
		md["left_context_len"] = "64"
		md["num_heads"] = "4"
		md["head_dim"] = "64"
	case "lstm":
		md["num_encoder_layers"] = "12"
		md["d_model"] = "512"
		md["rnn_hidden_size"] = "1024"
	case "zipformer":
		md["encoder_dims"] = "384,384,384,384,384"
		md["attention_dims"] = "192,192,192,192,192"
		md["num_encoder_layers"] = "2,4,3,2,4"
		md["cnn_module_kernels"] = "31,31,31,31,31"
		md["left_context_len"] = "64,32,16,8,32"
	case "zipformer2":
		md["encoder_dims"] = "192,256,384,512,384,256"
		md["query_head_dims"] = "32,32,32,32,32,32"
		md["value_head_dims"] = "12,12,12,12,12,12"
		md["num_heads"] = "4,4,4,8,4,4"
		md["num_encoder_layers"] = "2,2,3,4,3,2"
		md["cnn_module_kernels"] = "31,31,15,15,15,31"
		md["left_context_len"] = "128,64,32,16,32,64"
	}
	return md
}

func (t Transducer) encoderDim() int64 {
	if t.EncoderDim > 0 {
		return int64(t.EncoderDim)
	}
	return 4
}

// Encoder returns the serialized fake encoder.
func (t Transducer) Encoder() []byte {
	custom := ArchitectureMetadata(t.ModelType)
	if t.ModelType != "" {
		custom["model_type"] = t.ModelType
	}
	maps.Copy(custom, t.Extra)

	inputs := []Tensor{{Name: "x", Shape: []int64{-1, -1, 80}}}
	outputs := []Tensor{{Name: "encoder_out", Shape: []int64{-1, -1, t.encoderDim()}}}
	if t.ModelType == "lstm" {
		inputs = append(inputs,
			Tensor{Name: "h", Shape: []int64{-1, -1, -1}},
			Tensor{Name: "c", Shape: []int64{-1, -1, -1}})
		outputs = append(outputs,
			Tensor{Name: "new_h", Shape: []int64{-1, -1, -1}},
			Tensor{Name: "new_c", Shape: []int64{-1, -1, -1}})
	} else {
		inputs = append(inputs, Tensor{Name: "cached_state", Shape: []int64{2, -1, 3}})
		outputs = append(outputs, Tensor{Name: "new_cached_state", Shape: []int64{2, -1, 3}})
	}

	return Encode(Model{
		Graph:    EncoderGraph,
		Metadata: backends.ModelMetadata{ProducerName: "backendstest", Custom: custom},
		Inputs:   inputs,
		Outputs:  outputs,
	})
}

// Decoder returns the serialized fake decoder.
func (t Transducer) Decoder() []byte {
	custom := map[string]string{}
	if t.ContextSize != 0 {
		custom["context_size"] = strconv.Itoa(t.ContextSize)
	}
	if t.VocabSize != 0 {
		custom["vocab_size"] = strconv.Itoa(t.VocabSize)
	}
	return Encode(Model{
		Graph:    DecoderGraph,
		Metadata: backends.ModelMetadata{ProducerName: "backendstest", Custom: custom},
		Inputs:   []Tensor{{Name: "y", Shape: []int64{-1, int64(t.ContextSize)}, Type: backends.DataTypeInt64}},
		Outputs:  []Tensor{{Name: "decoder_out", Shape: []int64{-1, t.encoderDim()}}},
	})
}

// Joiner returns the serialized fake joiner. Its output dimension is the
// vocabulary size, or -1 when VocabSize is zero.
func (t Transducer) Joiner() []byte {
	vocab := int64(t.VocabSize)
	if vocab == 0 {
		vocab = -1
	}
	return Encode(Model{
		Graph:    JoinerGraph,
		Metadata: backends.ModelMetadata{ProducerName: "backendstest"},
		Inputs: []Tensor{
			{Name: "encoder_out", Shape: []int64{-1, t.encoderDim()}},
			{Name: "decoder_out", Shape: []int64{-1, t.encoderDim()}},
		},
		Outputs: []Tensor{{Name: "logit", Shape: []int64{-1, vocab}}},
	})
}

// Write stores the trio under dir in fsys as encoder.onnx, decoder.onnx and
// joiner.onnx, and returns their paths.
func (t Transducer) Write(fsys afero.Fs, dir string) (encoder, decoder, joiner string, err error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", err
	}
	encoder = path.Join(dir, "encoder.onnx")
	decoder = path.Join(dir, "decoder.onnx")
	joiner = path.Join(dir, "joiner.onnx")
	for name, data := range map[string][]byte{
		encoder: t.Encoder(),
		decoder: t.Decoder(),
		joiner:  t.Joiner(),
	} {
		if err := afero.WriteFile(fsys, name, data, 0o644); err != nil {
			return "", "", "", err
		}
	}
	return encoder, decoder, joiner, nil
}
