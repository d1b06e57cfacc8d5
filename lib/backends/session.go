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

// Package backends provides the inference-session layer the linker runs on.
//
// A Session is a raw tensor-in/tensor-out computation; the seq2seq model type
// in this package composes encoder and decoder sessions into an
// encoder-decoder Model that a generation loop can drive step by step.
//
// The only compiled-in backend is ONNX Runtime, enabled with
// -tags="onnx,ORT" (CGO required, libonnxruntime on LD_LIBRARY_PATH).
// Without those tags DefaultBackend returns an error at load time.
package backends

import (
	"errors"
	"sort"
	"sync"
)

// BackendType identifies the inference backend.
type BackendType string

// BackendONNX is the ONNX Runtime backend.
const BackendONNX BackendType = "onnx"

// Session represents a low-level inference session that runs tensor
// computations without knowledge of model semantics.
type Session interface {
	// Run executes the session with the given named inputs and returns the
	// named outputs.
	Run(inputs []NamedTensor) ([]NamedTensor, error)

	// InputInfo returns metadata about expected inputs.
	InputInfo() []TensorInfo

	// OutputInfo returns metadata about outputs.
	OutputInfo() []TensorInfo

	// Close releases resources associated with the session.
	Close() error
}

// SessionFactory creates sessions from ONNX files.
type SessionFactory interface {
	// CreateSession creates a session for the model file at path.
	CreateSession(path string) (Session, error)

	// Backend returns the backend type sessions are created on.
	Backend() BackendType
}

// NamedTensor associates a name with tensor data.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any // []float32, []int64, []int32, []bool
}

// TensorInfo describes a tensor's metadata.
type TensorInfo struct {
	Name     string
	Shape    []int64 // -1 for dynamic dimensions
	DataType DataType
}

// DataType represents tensor element types.
type DataType string

const (
	DataTypeFloat32 DataType = "float32"
	DataTypeInt64   DataType = "int64"
	DataTypeInt32   DataType = "int32"
	DataTypeBool    DataType = "bool"
)

// Backend is a compiled-in inference runtime.
type Backend interface {
	// Type identifies the backend.
	Type() BackendType

	// Name is a human-readable backend description for logs.
	Name() string

	// Priority orders backends when several are compiled in; higher wins.
	Priority() int

	// SessionFactory returns a factory for creating sessions on this backend.
	SessionFactory() SessionFactory
}

var (
	backendsMu sync.RWMutex
	registered []Backend
)

// ErrNoBackend is returned when no inference backend was compiled into the
// binary. Rebuild with -tags="onnx,ORT".
var ErrNoBackend = errors.New("no inference backend compiled in (build with -tags=\"onnx,ORT\")")

// RegisterBackend registers a backend. Called from backend init functions.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	registered = append(registered, b)
	sort.SliceStable(registered, func(i, j int) bool {
		return registered[i].Priority() > registered[j].Priority()
	})
}

// DefaultBackend returns the highest-priority registered backend, or
// ErrNoBackend if the binary was built without one.
func DefaultBackend() (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	if len(registered) == 0 {
		return nil, ErrNoBackend
	}
	return registered[0], nil
}
