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

//go:build onnx && ORT

package backends

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	RegisterBackend(&onnxBackend{})
}

// coremlFlagUseNone enables CoreML with default compute units.
const coremlFlagUseNone = 0

// onnxBackend runs models on ONNX Runtime through cgo. The shared library
// is located at first use: $ONNXRUNTIME_ROOT/<os>-<arch>/lib,
// $ONNXRUNTIME_ROOT/lib, then the dynamic loader path.
type onnxBackend struct {
	initOnce sync.Once
	initErr  error
}

func (b *onnxBackend) Type() BackendType { return BackendONNX }

func (b *onnxBackend) Name() string {
	if info := DetectGPU(); info.Available {
		return "ONNX Runtime (" + info.Type + ")"
	}
	return "ONNX Runtime (CPU)"
}

// Available is always true: this file only builds when ONNX Runtime is linked.
func (b *onnxBackend) Available() bool { return true }

func (b *onnxBackend) Priority() int { return 10 }

func (b *onnxBackend) SessionFactory() SessionFactory {
	return &onnxSessionFactory{backend: b}
}

func (b *onnxBackend) init() error {
	b.initOnce.Do(func() {
		if lib := ortLibrary(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		b.initErr = ort.InitializeEnvironment()
	})
	return b.initErr
}

// ortLibrary returns the path of the ONNX Runtime shared library, or "" to
// let the dynamic loader find it.
func ortLibrary() string {
	var name string
	switch runtime.GOOS {
	case "windows":
		name = "onnxruntime.dll"
	case "darwin":
		name = "libonnxruntime.dylib"
	default:
		name = "libonnxruntime.so"
	}

	var dirs []string
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		dirs = append(dirs,
			filepath.Join(root, runtime.GOOS+"-"+runtime.GOARCH, "lib"),
			filepath.Join(root, "lib"))
	}
	loaderPath := os.Getenv("LD_LIBRARY_PATH")
	if dyld := os.Getenv("DYLD_LIBRARY_PATH"); runtime.GOOS == "darwin" && dyld != "" {
		loaderPath = dyld
	}
	dirs = append(dirs, filepath.SplitList(loaderPath)...)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if lib := filepath.Join(dir, name); fileExists(lib) {
			return lib
		}
	}
	return ""
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// onnxSessionFactory implements SessionFactory for ONNX Runtime.
type onnxSessionFactory struct {
	backend *onnxBackend
}

func (f *onnxSessionFactory) CreateSession(model []byte, opts ...SessionOption) (Session, error) {
	if err := f.backend.init(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	cfg := ApplySessionOptions(opts...)

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}
	inputNames, inputInfo := convertInfo(inputs)
	outputNames, outputInfo := convertInfo(outputs)

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}

	if cfg.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting intra-op thread count: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := sessionOpts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting inter-op thread count: %w", err)
		}
	}

	if provider := Accelerator(cfg.GPUMode); provider != "" {
		f.appendGPUProvider(sessionOpts, provider)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	meta, err := readOrtMetadata(session)
	if err != nil {
		session.Destroy()
		sessionOpts.Destroy()
		return nil, fmt.Errorf("reading model metadata: %w", err)
	}

	return &onnxSession{
		session:     session,
		sessionOpts: sessionOpts,
		inputInfo:   inputInfo,
		outputInfo:  outputInfo,
		metadata:    meta,
	}, nil
}

// appendGPUProvider enables the platform accelerator when it can be configured.
// Failures leave the session on CPU.
func (f *onnxSessionFactory) appendGPUProvider(sessionOpts *ort.SessionOptions, provider string) {
	switch provider {
	case "coreml":
		_ = sessionOpts.AppendExecutionProviderCoreML(coremlFlagUseNone)
	case "cuda":
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return
		}
		defer cudaOpts.Destroy()
		_ = sessionOpts.AppendExecutionProviderCUDA(cudaOpts)
	}
}

func (f *onnxSessionFactory) Backend() BackendType {
	return BackendONNX
}

func convertInfo(infos []ort.InputOutputInfo) ([]string, []TensorInfo) {
	names := make([]string, len(infos))
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		names[i] = info.Name
		out[i] = TensorInfo{
			Name:     info.Name,
			Shape:    info.Dimensions,
			DataType: onnxDataType(info.DataType),
		}
	}
	return names, out
}

// readOrtMetadata copies the session's model metadata into a ModelMetadata.
func readOrtMetadata(session *ort.DynamicAdvancedSession) (*ModelMetadata, error) {
	md, err := session.GetModelMetadata()
	if err != nil {
		return nil, err
	}
	defer func() { _ = md.Destroy() }()

	meta := &ModelMetadata{Custom: make(map[string]string)}
	if meta.ProducerName, err = md.GetProducerName(); err != nil {
		return nil, fmt.Errorf("producer name: %w", err)
	}
	if meta.GraphName, err = md.GetGraphName(); err != nil {
		return nil, fmt.Errorf("graph name: %w", err)
	}
	if meta.Domain, err = md.GetDomain(); err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}
	if meta.Description, err = md.GetDescription(); err != nil {
		return nil, fmt.Errorf("description: %w", err)
	}
	if meta.Version, err = md.GetVersion(); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	keys, err := md.GetCustomMetadataMapKeys()
	if err != nil {
		return nil, fmt.Errorf("custom metadata keys: %w", err)
	}
	for _, k := range keys {
		v, ok, err := md.LookupCustomMetadataMap(k)
		if err != nil {
			return nil, fmt.Errorf("custom metadata %q: %w", k, err)
		}
		if ok {
			meta.Custom[k] = v
		}
	}
	return meta, nil
}

// onnxDataType converts ONNX data type to our DataType.
func onnxDataType(dt ort.TensorElementDataType) DataType {
	switch dt {
	case ort.TensorElementDataTypeFloat:
		return DataTypeFloat32
	case ort.TensorElementDataTypeFloat16:
		return DataTypeFloat16
	case ort.TensorElementDataTypeInt64:
		return DataTypeInt64
	case ort.TensorElementDataTypeInt32:
		return DataTypeInt32
	case ort.TensorElementDataTypeBool:
		return DataTypeBool
	default:
		return DataTypeFloat32
	}
}

// onnxSession wraps a DynamicAdvancedSession. Run may be called
// concurrently; Close waits for in-flight runs.
type onnxSession struct {
	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
	metadata    *ModelMetadata
}

func (s *onnxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	// The session expects its inputs in InputInfo order; callers may pass
	// them in any order.
	ortInputs := make([]ort.Value, len(s.inputInfo))
	defer destroyValues(ortInputs)
	for i, info := range s.inputInfo {
		j := slices.IndexFunc(inputs, func(t NamedTensor) bool { return t.Name == info.Name })
		if j < 0 {
			return nil, fmt.Errorf("missing input tensor %q", info.Name)
		}
		v, err := createOrtTensor(inputs[j])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", info.Name, err)
		}
		ortInputs[i] = v
	}

	ortOutputs := make([]ort.Value, len(s.outputInfo))
	defer destroyValues(ortOutputs)
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}

	outputs := make([]NamedTensor, 0, len(ortOutputs))
	for i, v := range ortOutputs {
		name := s.outputInfo[i].Name
		if v == nil {
			return nil, fmt.Errorf("output %q was not produced", name)
		}
		out, err := extractOrtTensor(v, name)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func destroyValues(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func (s *onnxSession) InputInfo() []TensorInfo { return s.inputInfo }

func (s *onnxSession) OutputInfo() []TensorInfo { return s.outputInfo }

func (s *onnxSession) Metadata() *ModelMetadata { return s.metadata }

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		err = errors.Join(err, s.sessionOpts.Destroy())
		s.sessionOpts = nil
	}
	return err
}

// createOrtTensor creates an ORT tensor from a NamedTensor.
func createOrtTensor(input NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(input.Shape...)

	switch data := input.Data.(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []int64:
		return ort.NewTensor(shape, data)
	case []int32:
		return ort.NewTensor(shape, data)
	}
	return nil, fmt.Errorf("unsupported tensor data %T", input.Data)
}

// extractOrtTensor copies an ORT tensor into a NamedTensor.
func extractOrtTensor(v ort.Value, name string) (NamedTensor, error) {
	shape := v.GetShape()

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]float32(nil), t.GetData()...)}, nil
	case *ort.Tensor[int64]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]int64(nil), t.GetData()...)}, nil
	case *ort.Tensor[int32]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]int32(nil), t.GetData()...)}, nil
	default:
		return NamedTensor{}, fmt.Errorf("unsupported tensor type %T", v)
	}
}
