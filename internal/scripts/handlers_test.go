package scripts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roost/internal/models"
)

// TestHandlers_ProblemBodies tests status codes and problem titles on the
// operator surface.
func TestHandlers_ProblemBodies(t *testing.T) {
	// Setup
	r := mux.NewRouter()
	NewHTTP(NewService(nil)).RegisterRoutes(r)

	post := func(path string, body map[string]any) *httptest.ResponseRecorder {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
		return w
	}
	problem := func(w *httptest.ResponseRecorder) models.Problem {
		var p models.Problem
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		return p
	}

	// Execute + Assert: empty code on publish
	w := post("/api/v1/scripts", map[string]any{"scope": "type", "target": "sensor", "code": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "Invalid script", problem(w).Title)

	// unknown library entry
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/library/999", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", problem(w).Title)

	// duplicate library name
	w = post("/api/v1/library", map[string]any{"name": "blink", "code": blinkCode})
	require.Equal(t, http.StatusCreated, w.Code)
	w = post("/api/v1/library", map[string]any{"name": "blink", "code": blinkCode})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Name taken", problem(w).Title)
}
