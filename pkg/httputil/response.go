package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// HeaderRequestID carries the per-request correlation id
const HeaderRequestID = "X-Request-Id"

const contentTypeJSON = "application/json"

// ErrorResponse is the body of every error reply. RequestID echoes the
// correlation header so clients can quote it when reporting problems.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON encodes data and writes it with status. Encoding happens before
// the header is sent, so a failure leaves the response untouched.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteJSONOrError writes data, falling back to a 500 when it cannot be encoded
func WriteJSONOrError(w http.ResponseWriter, status int, data interface{}, errMsg string) {
	if err := WriteJSON(w, status, data); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, errMsg)
	}
}

// WriteErrorMessage writes an error body with the given status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	body := ErrorResponse{
		Error:     message,
		RequestID: w.Header().Get(HeaderRequestID),
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteInternalError writes a generic 500. Details stay in the logs.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
}
