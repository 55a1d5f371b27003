package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("with payload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := WriteJSON(rec, 200, map[string]string{"verdict": "ALLOW"})
		require.NoError(t, err)
		assert.Equal(t, 200, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ALLOW", body["verdict"])
	})

	t.Run("nil payload writes no body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteJSON(rec, 204, nil))
		assert.Equal(t, 204, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w *httptest.ResponseRecorder) error
		code    int
		errName string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) error {
			return WriteBadRequest(w, "invalid field", map[string]interface{}{"field": "actor_id"})
		}, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) error {
			return WriteUnauthorized(w, "")
		}, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) error {
			return WriteForbidden(w, "actor mismatch")
		}, 403, "forbidden"},
		{"internal", func(w *httptest.ResponseRecorder) error {
			return WriteInternalError(w)
		}, 500, "internal_error"},
		{"unavailable", func(w *httptest.ResponseRecorder) error {
			return WriteServiceUnavailable(w, "")
		}, 503, "service_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, tt.write(rec))
			assert.Equal(t, tt.code, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.errName, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}
