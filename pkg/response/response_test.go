package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"id": "r1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Nil(t, body.Error)
	assert.Equal(t, map[string]interface{}{"id": "r1"}, body.Data)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		field  string
	}{
		{name: "bad request", write: func(w http.ResponseWriter) { BadRequest(w, "nope") }, status: http.StatusBadRequest},
		{name: "field error", write: func(w http.ResponseWriter) { FieldError(w, "device_id", "nope") }, status: http.StatusBadRequest, field: "device_id"},
		{name: "unauthorized", write: func(w http.ResponseWriter) { Unauthorized(w, "nope") }, status: http.StatusUnauthorized},
		{name: "not found", write: func(w http.ResponseWriter) { NotFound(w, "nope") }, status: http.StatusNotFound},
		{name: "internal", write: func(w http.ResponseWriter) { InternalError(w, "nope") }, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, "nope", body.Error.Message)
			assert.Equal(t, tt.field, body.Error.Field)
		})
	}
}
