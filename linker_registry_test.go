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

package linkite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeLinkerModelDir(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "linker_config.json"), []byte(`{"model_type":"regen"}`), 0o644))
}

func TestLinkerRegistryDiscovery(t *testing.T) {
	modelsDir := t.TempDir()
	writeLinkerModelDir(t, modelsDir, "regen-wiki")
	writeLinkerModelDir(t, modelsDir, "genre-aida")
	// Not a linking model, must be ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, "some-embedder"), 0o755))
	// Stray files in the models dir are ignored too.
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "README.md"), []byte("models"), 0o644))

	registry, err := NewLinkerRegistry(modelsDir, 1, nil, zap.NewNop())
	require.NoError(t, err)
	defer registry.Close()

	assert.Equal(t, []string{"genre-aida", "regen-wiki"}, registry.List())
}

func TestLinkerRegistryMissingDir(t *testing.T) {
	_, err := NewLinkerRegistry(filepath.Join(t.TempDir(), "nope"), 1, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestLinkerRegistryGetUnknown(t *testing.T) {
	registry, err := NewLinkerRegistry(t.TempDir(), 1, nil, zap.NewNop())
	require.NoError(t, err)
	defer registry.Close()

	_, err = registry.Get("missing")
	assert.ErrorContains(t, err, "unknown linking model")
}

func TestLinkerRegistryGetWithoutBackend(t *testing.T) {
	modelsDir := t.TempDir()
	writeLinkerModelDir(t, modelsDir, "regen-wiki")

	registry, err := NewLinkerRegistry(modelsDir, 1, nil, zap.NewNop())
	require.NoError(t, err)
	defer registry.Close()

	// No inference backend is compiled into the test binary.
	_, err = registry.Get("regen-wiki")
	assert.ErrorContains(t, err, "regen-wiki")
}
