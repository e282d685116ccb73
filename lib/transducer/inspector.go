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
	"github.com/antflydb/cicada/lib/backends"
	"go.uber.org/zap"
)

// Inspector determines the architecture of an encoder from its bytes.
type Inspector interface {
	DetectArchitecture(buf []byte, debug bool) (Architecture, error)
}

// SessionInspector reads the "model_type" metadata entry of an encoder by
// opening a throwaway session on it.
type SessionInspector struct {
	sessions backends.SessionFactory
	logger   *zap.Logger
}

var _ Inspector = (*SessionInspector)(nil)

// NewSessionInspector returns an inspector that opens sessions through sessions.
func NewSessionInspector(sessions backends.SessionFactory, logger *zap.Logger) *SessionInspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionInspector{sessions: sessions, logger: logger}
}

// DetectArchitecture returns the architecture named by the encoder metadata.
// A missing or unrecognized model_type yields ArchitectureUnknown with a nil
// error; failing to open the encoder is a ModelLoadError.
func (i *SessionInspector) DetectArchitecture(buf []byte, debug bool) (Architecture, error) {
	// Inspection only reads metadata, so keep it to one thread.
	sess, err := i.sessions.CreateSession(buf,
		backends.WithSessionThreads(1),
		backends.WithSessionInterOpThreads(1),
		backends.WithSessionGPUMode(backends.GPUModeOff))
	if err != nil {
		return ArchitectureUnknown, loadError("inspect", "", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			i.logger.Warn("Error closing inspection session", zap.Error(err))
		}
	}()

	meta := sess.Metadata()
	if debug {
		i.logger.Info("Encoder model metadata", zap.Object("metadata", meta))
	}

	modelType, ok := meta.Lookup("model_type")
	if !ok {
		i.logger.Error("No model_type in the metadata. The export script used to generate the model is likely outdated; please re-export it.")
		return ArchitectureUnknown, nil
	}

	arch := ParseArchitecture(modelType)
	if arch == ArchitectureUnknown {
		i.logger.Error("Unsupported model_type in the metadata",
			zap.String("model_type", modelType))
		return ArchitectureUnknown, nil
	}
	return arch, nil
}
