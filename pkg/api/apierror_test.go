package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/api"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestWriteError(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil)
	w := httptest.NewRecorder()
	w.Header().Set(api.RequestIDHeader, "req-7")
	api.WriteBadRequest(w, r, "config is missing")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "urn:warpgate:problem:400", p.Type)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, 400, p.Status)
	assert.Equal(t, "config is missing", p.Detail)
	assert.Equal(t, "/api/v1/evaluate", p.Instance)
	assert.Equal(t, "req-7", p.TraceID)
	assert.Equal(t, "Bad Request: config is missing", p.Error())
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/certificates", nil)
	w := httptest.NewRecorder()
	api.WriteInternal(w, r, nil, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.NotContains(t, p.Detail, "10.0.0.1")
}

func TestWriteTooManyRequests(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, r, 3)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	p := decodeProblem(t, w)
	assert.True(t, strings.HasPrefix(p.Detail, "Rate limit exceeded"))
}
