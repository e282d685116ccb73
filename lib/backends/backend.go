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

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Backend is an inference runtime that can create sessions.
// Backends register themselves from init functions guarded by build tags.
type Backend interface {
	Type() BackendType

	// Name returns a human-readable name (e.g., "ONNX Runtime (cuda)").
	Name() string

	// Available reports whether the runtime can be loaded in this process.
	Available() bool

	// Priority orders backends when no explicit priority is configured
	// (lower wins).
	Priority() int

	SessionFactory() SessionFactory
}

var (
	mu       sync.RWMutex
	registry = make(map[BackendType]Backend)
	priority []BackendType
)

// RegisterBackend registers b, replacing any backend of the same type.
func RegisterBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	registry[b.Type()] = b
}

// SetPriority sets the order in which backends are tried. Types missing from
// order are tried afterwards by their own Priority. An empty order restores
// the default.
func SetPriority(order []BackendType) {
	mu.Lock()
	defer mu.Unlock()
	priority = slices.Clone(order)
}

// Registered returns the registered backends in selection order, available
// or not.
func Registered() []Backend {
	mu.RLock()
	defer mu.RUnlock()

	rank := func(b Backend) int {
		if i := slices.Index(priority, b.Type()); i >= 0 {
			return i - len(priority)
		}
		return b.Priority()
	}
	out := make([]Backend, 0, len(registry))
	for _, b := range registry {
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b Backend) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(string(a.Type()), string(b.Type()))
	})
	return out
}

// DefaultSessionFactory returns the session factory of the first available
// backend in selection order.
func DefaultSessionFactory() (SessionFactory, error) {
	var unavailable []string
	for _, b := range Registered() {
		if b.Available() {
			return b.SessionFactory(), nil
		}
		unavailable = append(unavailable, b.Name())
	}
	if len(unavailable) > 0 {
		return nil, fmt.Errorf("no available backends (registered but unavailable: %s)", strings.Join(unavailable, ", "))
	}
	return nil, fmt.Errorf("no available backends: build with -tags=\"onnx,ORT\" to enable ONNX Runtime")
}
