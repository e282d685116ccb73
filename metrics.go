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

package cicada

import (
	"errors"

	"github.com/antflydb/cicada/lib/transducer"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	architectureResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "cicada",
			Name:      "architecture_resolutions_total",
			Help:      "The total number of resolved model architectures.",
		},
		[]string{"architecture", "source"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "cicada",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a model.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "architecture"},
	)

	modelLoadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "cicada",
			Name:      "model_load_failures_total",
			Help:      "The total number of failed model loads.",
		},
		[]string{"model", "kind"},
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "antfly",
			Subsystem: "cicada",
			Name:      "loaded_models",
			Help:      "Number of models currently loaded.",
		},
	)
)

// RegisterMetrics registers the cicada collectors with reg.
// Collectors that are already registered are skipped.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		architectureResolutions,
		modelLoadDuration,
		modelLoadFailures,
		loadedModels,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordArchitectureResolution counts a resolved architecture. It has the
// signature of transducer.ObserverFunc.
func RecordArchitectureResolution(arch transducer.Architecture, src transducer.Source) {
	architectureResolutions.WithLabelValues(arch.String(), src.String()).Inc()
}

// RecordModelLoadDuration records the time taken to load a model.
func RecordModelLoadDuration(model string, arch transducer.Architecture, seconds float64) {
	modelLoadDuration.WithLabelValues(model, arch.String()).Observe(seconds)
}

// RecordModelLoadFailure counts a failed load, classified by failureKind.
func RecordModelLoadFailure(model string, err error) {
	modelLoadFailures.WithLabelValues(model, failureKind(err)).Inc()
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, transducer.ErrNotEntitled):
		return "not_entitled"
	case transducer.IsUnknownArchitecture(err):
		return "unknown_architecture"
	case transducer.IsModelLoadFailure(err):
		return "load"
	default:
		return "other"
	}
}
