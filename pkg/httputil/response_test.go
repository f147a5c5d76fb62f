package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]int{"total": 3})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"total":3}`, w.Body.String())
}

func TestWriteJSON_UnencodableLeavesResponseUnwritten(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	assert.Error(t, err)
	assert.False(t, w.Flushed)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Type"))
}

func TestWriteJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSONOrError(w, http.StatusOK, make(chan int), "failed to encode statistics")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"failed to encode statistics"}`, w.Body.String())
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"message", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusConflict, "boom") }, http.StatusConflict, "boom"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "days must be positive") }, http.StatusBadRequest, "days must be positive"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "access denied") }, http.StatusForbidden, "access denied"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.body+`"}`, w.Body.String())
		})
	}
}

func TestWriteErrorMessage_EchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(HeaderRequestID, "req-7")

	WriteForbidden(w, "access denied")

	assert.JSONEq(t, `{"error":"access denied","request_id":"req-7"}`, w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/audit/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "kaboom")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	h := Chain(LoggingMiddleware(logger), MaxBytesMiddleware(8))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, observability.GetLogger(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/audit/events", strings.NewReader("{}")))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/audit/events"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestMaxBytesMiddleware_RejectsDeclaredOversize(t *testing.T) {
	h := MaxBytesMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/audit/events", strings.NewReader(`{"resource":"folder"}`)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
