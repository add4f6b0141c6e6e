package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		header   string
		generate bool
	}{
		{name: "reuses inbound id", header: "req-123"},
		{name: "generates when missing", generate: true},
		{name: "replaces oversized id", header: strings.Repeat("x", 200), generate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
			if tt.generate {
				assert.NotEqual(t, tt.header, seen)
				assert.Len(t, seen, 36)
			} else {
				assert.Equal(t, tt.header, seen)
			}
		})
	}
}
