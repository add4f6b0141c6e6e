package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qgate/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, BadRequest("invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})

	t.Run("sentinels map to statuses", func(t *testing.T) {
		cases := map[error]int{
			fmt.Errorf("x: %w", sentinel.ErrNotFound):    http.StatusNotFound,
			fmt.Errorf("x: %w", sentinel.ErrConflict):    http.StatusConflict,
			fmt.Errorf("x: %w", sentinel.ErrUnavailable): http.StatusServiceUnavailable,
		}
		for err, want := range cases {
			w := httptest.NewRecorder()
			WriteError(w, err)
			if w.Code != want {
				t.Fatalf("%v: expected status %d, got %d", err, want, w.Code)
			}
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Destination string `json:"destination"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"destination":"GDEST"}`))
	w := httptest.NewRecorder()
	got, ok := DecodeJSON[payload](w, r)
	if !ok || got.Destination != "GDEST" {
		t.Fatalf("expected decoded payload, got %+v ok=%v", got, ok)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"destination":"GDEST","extra":1}`))
	w = httptest.NewRecorder()
	if _, ok := DecodeJSON[payload](w, r); ok {
		t.Fatalf("expected unknown field to be rejected")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
