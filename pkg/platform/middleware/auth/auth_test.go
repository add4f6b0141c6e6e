package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"qgate/pkg/requestcontext"
)

type stubValidator map[string]*JWTClaims

func (s stubValidator) ValidateToken(token string) (*JWTClaims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

func TestRequireOperator(t *testing.T) {
	validator := stubValidator{
		"ops":    {OperatorID: "ops-1", Role: "operator"},
		"viewer": {OperatorID: "ops-2", Role: "viewer"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.OperatorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireOperator(validator, logger, "operator")(next)

	tests := []struct {
		name     string
		header   string
		status   int
		operator string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "role not allowed", header: "Bearer viewer", status: http.StatusForbidden},
		{name: "valid operator", header: "Bearer ops", status: http.StatusNoContent, operator: "ops-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.operator, seen)
		})
	}
}
