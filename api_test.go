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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/linking"
)

// fakeProvider serves canned linkers without touching the filesystem.
type fakeProvider struct {
	linkers map[string]linking.Linker
}

func (p *fakeProvider) Get(modelName string) (linking.Linker, error) {
	linker, ok := p.linkers[modelName]
	if !ok {
		return nil, fmt.Errorf("unknown linking model: %s", modelName)
	}
	return linker, nil
}

func (p *fakeProvider) List() []string {
	names := make([]string, 0, len(p.linkers))
	for name := range p.linkers {
		names = append(names, name)
	}
	return names
}

func (p *fakeProvider) Close() error { return nil }

func newTestServer(t *testing.T, provider LinkerProvider) *httptest.Server {
	t.Helper()
	node := NewLinkiteNode(provider, nil, zap.NewNop())
	server := httptest.NewServer(node.Handler())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleLink(t *testing.T) {
	inner := newCountingLinker()
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{"regen-wiki": inner}})

	resp := postJSON(t, server.URL+"/api/link", LinkRequest{
		Model: "regen-wiki",
		Documents: []linking.Document{
			{Text: "York is a city", Mentions: []linking.Mention{{Start: 0, End: 4}}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[LinkResponse](t, resp)
	assert.Equal(t, "regen-wiki", body.Model)
	require.Len(t, body.Spans, 1)
	require.Len(t, body.Spans[0], 1)
	assert.Equal(t, "York", body.Spans[0][0].Label)
	assert.Equal(t, uint64(1), inner.calls.Load())
}

func TestHandleLinkWithEntities(t *testing.T) {
	inner := newCountingLinker()
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{"regen-wiki": inner}})

	resp := postJSON(t, server.URL+"/api/link", LinkRequest{
		Model:     "regen-wiki",
		Documents: []linking.Document{{Text: "York"}},
		Entities:  []linking.Entity{{Name: "New York"}, {Name: "York"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), inner.entities.Load())
}

func TestHandleLinkValidation(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{}})

	tests := []struct {
		name   string
		req    LinkRequest
		status int
	}{
		{"missing model", LinkRequest{Documents: []linking.Document{{Text: "x"}}}, http.StatusBadRequest},
		{"missing documents", LinkRequest{Model: "m"}, http.StatusBadRequest},
		{"unknown model", LinkRequest{Model: "m", Documents: []linking.Document{{Text: "x"}}}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+"/api/link", tc.req)
			assert.Equal(t, tc.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandleLinkMalformedBody(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{}})

	resp, err := http.Post(server.URL+"/api/link", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSetEntities(t *testing.T) {
	inner := newCountingLinker()
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{"regen-wiki": inner}})

	resp := postJSON(t, server.URL+"/api/entities", SetEntitiesRequest{
		Model:    "regen-wiki",
		Entities: []linking.Entity{{Name: "New York", Description: "city"}},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, uint64(1), inner.entities.Load())

	resp = postJSON(t, server.URL+"/api/entities", SetEntitiesRequest{Model: "regen-wiki"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleModels(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{
		"regen-wiki": newCountingLinker(),
	}})

	resp, err := http.Get(server.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[ModelsResponse](t, resp)
	assert.Equal(t, []string{"regen-wiki"}, body.Models)
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{
		"regen-wiki": newCountingLinker(),
	}})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decodeBody[ReadyResponse](t, resp)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 1, ready.Models)
}

func TestReadyzNoModels(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{}})

	resp, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	ready := decodeBody[ReadyResponse](t, resp)
	assert.Equal(t, "not_ready", ready.Status)
}

func TestVersionEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeProvider{linkers: map[string]linking.Linker{}})

	resp, err := http.Get(server.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[VersionResponse](t, resp)
	assert.Equal(t, "dev", body.Version)
}
