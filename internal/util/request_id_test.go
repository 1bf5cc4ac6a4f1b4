package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "well formed id is kept", incoming: "req-incoming_1.2", keep: true},
		{name: "missing id is generated"},
		{name: "id with spaces is replaced", incoming: "req id"},
		{name: "newline injection is replaced", incoming: "abc\nlevel=ERROR"},
		{name: "overlong id is replaced", incoming: strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-Id", tc.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-Id")
			if got == "" || got != seen {
				t.Fatalf("header %q and context %q should carry the same id", got, seen)
			}
			if tc.keep != (got == tc.incoming) {
				t.Fatalf("incoming %q, got %q (keep=%v)", tc.incoming, got, tc.keep)
			}
		})
	}
}

func TestContextWithRequestID(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id outside a request, got %q", got)
	}
	ctx := ContextWithRequestID(context.Background(), "job-7")
	if got := RequestIDFromContext(ctx); got != "job-7" {
		t.Fatalf("unexpected id %q", got)
	}
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("expected a context logger")
	}
}
