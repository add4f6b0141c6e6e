package testutil

import (
	"context"
	"net/http"

	"qgate/pkg/requestcontext"
)

// WithOperator adds an operator ID and role to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithOperator(req *http.Request, operatorID, role string) *http.Request {
	ctx := requestcontext.WithOperatorID(req.Context(), operatorID)
	if role != "" {
		ctx = requestcontext.WithRole(ctx, role)
	}
	return req.WithContext(ctx)
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
