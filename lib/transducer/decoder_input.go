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

// DecoderInputName is the name of tensors produced by BuildDecoderInput.
const DecoderInputName = "y"

// TokenHistory is implemented by anything that carries a decoded token
// sequence, such as DecoderResult and Hypothesis.
type TokenHistory interface {
	History() []int64
}

// BuildDecoderInput returns a (len(items), m.ContextSize()) int64 tensor whose
// row i holds the last ContextSize tokens of items[i].
//
// Every item must carry at least ContextSize tokens; histories start with
// ContextSize blank placeholders, so this only fails on a programming error
// and panics.
func BuildDecoderInput[H TokenHistory](m Model, items []H) backends.NamedTensor {
	return BuildDecoderInputWith(m.Allocator(), m.ContextSize(), items)
}

// BuildDecoderInputWith is BuildDecoderInput with an explicit allocator and
// context size.
func BuildDecoderInputWith[H TokenHistory](alloc backends.Allocator, contextSize int, items []H) backends.NamedTensor {
	if contextSize <= 0 {
		panic(fmt.Sprintf("transducer: context size must be positive, got %d", contextSize))
	}
	for i, item := range items {
		if n := len(item.History()); n < contextSize {
			panic(fmt.Sprintf("transducer: item %d has %d tokens, fewer than the context size %d", i, n, contextSize))
		}
	}

	y := alloc.AllocInt64(DecoderInputName, backends.NewShape(int64(len(items)), int64(contextSize)))
	data, err := y.Int64s()
	if err != nil {
		panic(fmt.Sprintf("transducer: allocator returned %v", err))
	}
	for i, item := range items {
		h := item.History()
		copy(data[i*contextSize:(i+1)*contextSize], h[len(h)-contextSize:])
	}
	return y
}
