package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "unknown field",
			body:        `{"name": "test", "amount": 5}`,
			expectError: true,
		},
		{
			name:        "trailing object",
			body:        `{"name": "test"} {"name": "again"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest struct {
				Name string `json:"name"`
			}

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest.Name)
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{invalid}`))
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestParseJSON_EmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(""))
	var dest map[string]string
	assert.ErrorIs(t, ParseJSON(req, &dest), ErrEmptyBody)
}

func TestParseJSONOrError_TooLarge(t *testing.T) {
	var parsed bool
	handler := MaxBytesMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]string
		parsed = ParseJSONOrError(w, r, &dest)
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{"notes": "far more than sixteen bytes"}`))
	handler.ServeHTTP(w, req)

	assert.False(t, parsed)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 16 bytes")
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/invoices/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})

	val, err := ParsePathString(req, "id")
	assert.NoError(t, err)
	assert.Equal(t, "abc", val)

	_, err = ParsePathString(req, "clientId")
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "clientId")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		expectValue int
		expectError bool
	}{
		{name: "present", query: "?month=3", expectValue: 3},
		{name: "absent uses default", query: "", expectValue: 7},
		{name: "padded", query: "?month=%204", expectValue: 4},
		{name: "not a number", query: "?month=march", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/invoices"+tt.query, nil)

			val, err := ParseQueryInt(req, "month", 7)

			if tt.expectError {
				var paramErr *QueryParamError
				assert.ErrorAs(t, err, &paramErr)
				assert.Equal(t, "month", paramErr.Param)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectValue, val)
			}
		})
	}
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/doc?disposition=attachment", nil)
	assert.Equal(t, "attachment", ParseQueryString(req, "disposition", "inline"))
	assert.Equal(t, "x", ParseQueryString(req, "missing", "x"))
}
