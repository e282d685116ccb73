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

package backends

import "fmt"

// Allocator hands out storage for input tensors.
// Every call returns fresh storage owned by the caller.
type Allocator interface {
	// AllocInt64 returns a zeroed int64 tensor of the given shape.
	AllocInt64(name string, shape Shape) NamedTensor

	// AllocFloat32 returns a zeroed float32 tensor of the given shape.
	AllocFloat32(name string, shape Shape) NamedTensor
}

// HeapAllocator allocates tensors on the Go heap.
type HeapAllocator struct{}

var _ Allocator = HeapAllocator{}

func (HeapAllocator) AllocInt64(name string, shape Shape) NamedTensor {
	return NamedTensor{
		Name:  name,
		Shape: cloneShape(shape),
		Data:  make([]int64, numElements(shape)),
	}
}

func (HeapAllocator) AllocFloat32(name string, shape Shape) NamedTensor {
	return NamedTensor{
		Name:  name,
		Shape: cloneShape(shape),
		Data:  make([]float32, numElements(shape)),
	}
}

func numElements(shape Shape) int {
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("backends: negative dimension in shape %v", shape))
		}
	}
	return int(shape.NumElements())
}

func cloneShape(shape Shape) []int64 {
	out := make([]int64, len(shape))
	copy(out, shape)
	return out
}
