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
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ModelMetadata holds the model-level metadata of a serialized network.
// Export pipelines store architecture parameters as string pairs in Custom.
type ModelMetadata struct {
	ProducerName string            `json:"producer_name,omitempty"`
	GraphName    string            `json:"graph_name,omitempty"`
	Domain       string            `json:"domain,omitempty"`
	Description  string            `json:"description,omitempty"`
	Version      int64             `json:"version,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Lookup returns the custom metadata value for key.
// An empty value is reported as absent.
func (m *ModelMetadata) Lookup(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.Custom[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// LookupInt parses the custom metadata value for key as an integer.
func (m *ModelMetadata) LookupInt(key string) (int, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return 0, fmt.Errorf("metadata key %q not found", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("metadata key %q: parsing %q as int: %w", key, v, err)
	}
	return n, nil
}

// LookupIntOr returns LookupInt(key), or def when the key is absent.
// A present but malformed value is still an error.
func (m *ModelMetadata) LookupIntOr(key string, def int) (int, error) {
	if _, ok := m.Lookup(key); !ok {
		return def, nil
	}
	return m.LookupInt(key)
}

// LookupInts parses a comma-separated list of integers, e.g. "384,384,384".
func (m *ModelMetadata) LookupInts(key string) ([]int, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("metadata key %q not found", key)
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: parsing %q as int list: %w", key, v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Keys returns the custom metadata keys in sorted order.
func (m *ModelMetadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.Custom))
	for k := range m.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalLogObject implements zapcore.ObjectMarshaler so the full metadata
// can be dumped with zap.Object.
func (m *ModelMetadata) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if m == nil {
		return nil
	}
	enc.AddString("producer_name", m.ProducerName)
	enc.AddString("graph_name", m.GraphName)
	enc.AddString("domain", m.Domain)
	enc.AddString("description", m.Description)
	enc.AddInt64("version", m.Version)
	return enc.AddObject("custom", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, k := range m.Keys() {
			enc.AddString(k, m.Custom[k])
		}
		return nil
	}))
}
