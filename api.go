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
	"net/http"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/linkite/lib/linking"
)

// LinkRequest is the request body for POST /api/link.
type LinkRequest struct {
	// Model selects the linking model by directory name.
	Model string `json:"model"`

	// Documents to link, each with its mention offsets.
	Documents []linking.Document `json:"documents"`

	// Entities optionally replaces the model's vocabulary before linking.
	Entities []linking.Entity `json:"entities,omitempty"`
}

// LinkResponse is the response body for POST /api/link.
type LinkResponse struct {
	Model string           `json:"model"`
	Spans [][]linking.Span `json:"spans"`
}

// SetEntitiesRequest is the request body for POST /api/entities.
type SetEntitiesRequest struct {
	Model    string           `json:"model"`
	Entities []linking.Entity `json:"entities"`
}

// ModelsResponse is the response body for GET /api/models.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// handleLink links document mentions against the model's vocabulary.
func (ln *LinkiteNode) handleLink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LinkRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}

	linker, err := ln.linkerProvider.Get(req.Model)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if len(req.Entities) > 0 {
		if err := linker.SetEntities(req.Entities); err != nil {
			writeError(w, http.StatusInternalServerError, "setting entities: "+err.Error())
			return
		}
	}

	RecordLinkRequest(req.Model)
	spans, err := linker.Predict(r.Context(), req.Documents)
	if err != nil {
		ln.logger.Error("Linking failed",
			zap.String("model", req.Model),
			zap.Error(err))
		status := http.StatusInternalServerError
		RecordRequestDuration("link", req.Model, "500", time.Since(start).Seconds())
		writeError(w, status, err.Error())
		return
	}

	linked := 0
	for _, docSpans := range spans {
		linked += len(docSpans)
	}
	RecordSpansLinked(req.Model, linked)

	ln.logger.Debug("Linking request completed",
		zap.String("model", req.Model),
		zap.Int("num_docs", len(req.Documents)),
		zap.Int("spans", linked),
		zap.Duration("duration", time.Since(start)))

	writeJSON(w, http.StatusOK, LinkResponse{Model: req.Model, Spans: spans})
}

// handleSetEntities replaces a model's entity vocabulary.
func (ln *LinkiteNode) handleSetEntities(w http.ResponseWriter, r *http.Request) {
	var req SetEntitiesRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities are required")
		return
	}

	linker, err := ln.linkerProvider.Get(req.Model)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := linker.SetEntities(req.Entities); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ln.logger.Info("Entity vocabulary replaced",
		zap.String("model", req.Model),
		zap.Int("entities", len(req.Entities)))
	w.WriteHeader(http.StatusNoContent)
}

// handleModels lists the discovered linking models.
func (ln *LinkiteNode) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Models: ln.linkerProvider.List()})
}
