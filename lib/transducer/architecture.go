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

// Package transducer loads streaming transducer models and builds the
// decoder inputs used by transducer search.
//
// A model is three networks (encoder, decoder, joiner) exported to ONNX.
// The encoder architecture is taken from the configured model type when it
// names a known architecture, and otherwise from the "model_type" entry of
// the encoder's embedded metadata.
package transducer

// Architecture identifies the encoder architecture of a transducer model.
type Architecture uint8

const (
	ArchitectureUnknown Architecture = iota
	ArchitectureConformer
	ArchitectureEbranchformer
	ArchitectureLstm
	ArchitectureZipformer
	ArchitectureZipformer2
)

var architectureNames = [...]string{
	ArchitectureUnknown:       "unknown",
	ArchitectureConformer:     "conformer",
	ArchitectureEbranchformer: "ebranchformer",
	ArchitectureLstm:          "lstm",
	ArchitectureZipformer:     "zipformer",
	ArchitectureZipformer2:    "zipformer2",
}

// Architectures lists the known architectures in declaration order.
func Architectures() []Architecture {
	return []Architecture{
		ArchitectureConformer,
		ArchitectureEbranchformer,
		ArchitectureLstm,
		ArchitectureZipformer,
		ArchitectureZipformer2,
	}
}

func (a Architecture) String() string {
	if int(a) < len(architectureNames) {
		return architectureNames[a]
	}
	return "unknown"
}

// Known reports whether a names one of the supported architectures.
func (a Architecture) Known() bool {
	return a != ArchitectureUnknown && int(a) < len(architectureNames)
}

// ParseArchitecture maps a model-type string to an Architecture.
// Matching is exact and case-sensitive; anything else is ArchitectureUnknown.
func ParseArchitecture(s string) Architecture {
	switch s {
	case "conformer":
		return ArchitectureConformer
	case "ebranchformer":
		return ArchitectureEbranchformer
	case "lstm":
		return ArchitectureLstm
	case "zipformer":
		return ArchitectureZipformer
	case "zipformer2":
		return ArchitectureZipformer2
	default:
		return ArchitectureUnknown
	}
}

// Source records how an architecture was resolved.
type Source uint8

const (
	SourceNone Source = iota
	SourceHint
	SourceMetadata
)

func (s Source) String() string {
	switch s {
	case SourceHint:
		return "hint"
	case SourceMetadata:
		return "metadata"
	default:
		return "none"
	}
}
