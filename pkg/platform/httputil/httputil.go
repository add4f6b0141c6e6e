// Package httputil writes JSON responses and translates errors into HTTP
// status codes with a stable error envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"qgate/pkg/platform/sentinel"
)

const maxBodyBytes = 1 << 20

// Error is an error with an explicit HTTP status and error code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "bad_request", Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Message: msg}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and writes {"error", "error_description"}.
// Descriptions of 5xx errors are omitted.
func WriteError(w http.ResponseWriter, err error) {
	e := toError(err)
	body := map[string]string{"error": e.Code}
	if e.Status < http.StatusInternalServerError && e.Message != "" {
		body["error_description"] = e.Message
	}
	WriteJSON(w, e.Status, body)
}

func toError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrInvalidState):
		return &Error{Status: http.StatusConflict, Code: "conflict", Message: err.Error()}
	case errors.Is(err, sentinel.ErrUnavailable):
		return &Error{Status: http.StatusServiceUnavailable, Code: "unavailable"}
	default:
		return &Error{Status: http.StatusInternalServerError, Code: "internal_error"}
	}
}

// DecodeJSON decodes a bounded request body into T, rejecting unknown
// fields. On failure it writes a 400 and returns false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		WriteError(w, BadRequest("invalid JSON body"))
		return v, false
	}
	return v, true
}
