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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// DetectGPU reports the accelerator available to ONNX Runtime on this host.
// Detection runs once per process.
var DetectGPU = sync.OnceValue(func() GPUInfo {
	switch runtime.GOOS {
	case "darwin":
		return GPUInfo{Available: true, Type: "coreml"}
	case "linux", "windows":
		if info, ok := queryNvidiaSMI(); ok {
			return info
		}
		if findLibrary(cudaLibraryDirs(), "libcudart.so*") {
			return GPUInfo{Available: true, Type: "cuda", DeviceName: "CUDA (libraries detected)"}
		}
	}
	return GPUInfo{Type: "none"}
})

// ShouldUseGPU determines if GPU should be used based on mode and availability.
func ShouldUseGPU(mode GPUMode) bool {
	return Accelerator(mode) != ""
}

// Accelerator returns the execution provider a session configured with mode
// should append: "cuda", "coreml", or "" for CPU. Forced modes return their
// provider even when nothing was detected; session creation then fails or
// falls back inside ONNX Runtime.
func Accelerator(mode GPUMode) string {
	switch mode {
	case GPUModeOff:
		return ""
	case GPUModeCuda:
		return "cuda"
	case GPUModeCoreML:
		return "coreml"
	}
	if info := DetectGPU(); info.Available {
		return info.Type
	}
	return ""
}

func queryNvidiaSMI() (GPUInfo, bool) {
	bin, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return GPUInfo{}, false
	}
	out, err := exec.Command(bin, "--query-gpu=name,driver_version", "--format=csv,noheader,nounits").Output() //nolint:gosec // G204: bin comes from LookPath
	if err != nil {
		return GPUInfo{}, false
	}
	// One line per device: "name, driver"; the first device is reported.
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	name, driver, _ := strings.Cut(line, ",")
	return GPUInfo{
		Available:  true,
		Type:       "cuda",
		DeviceName: strings.TrimSpace(name),
		DriverVer:  strings.TrimSpace(driver),
	}, true
}

func cudaLibraryDirs() []string {
	dirs := []string{"/usr/local/cuda/lib64", "/usr/lib/x86_64-linux-gnu", "/usr/lib64"}
	if ld := os.Getenv("LD_LIBRARY_PATH"); ld != "" {
		dirs = append(filepath.SplitList(ld), dirs...)
	}
	return dirs
}

func findLibrary(dirs []string, pattern string) bool {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if matches, _ := filepath.Glob(filepath.Join(dir, pattern)); len(matches) > 0 {
			return true
		}
	}
	return false
}
