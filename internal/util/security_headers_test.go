package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public" {
			w.Header().Set("Cache-Control", "public, max-age=60")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		path, proto  string
		cacheControl string
		hsts         bool
	}{
		{path: "/", cacheControl: "no-store"},
		{path: "/", proto: "https", cacheControl: "no-store", hsts: true},
		{path: "/public", cacheControl: "public, max-age=60"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.proto != "" {
			req.Header.Set("X-Forwarded-Proto", tc.proto)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		for _, kv := range apiHeaders[:5] {
			if got := rec.Header().Get(kv[0]); got != kv[1] {
				t.Fatalf("%s: %s = %q, want %q", tc.path, kv[0], got, kv[1])
			}
		}
		if got := rec.Header().Get("Cache-Control"); got != tc.cacheControl {
			t.Fatalf("%s: Cache-Control = %q, want %q", tc.path, got, tc.cacheControl)
		}
		if got := rec.Header().Get("Strict-Transport-Security"); (got != "") != tc.hsts {
			t.Fatalf("%s proto=%q: unexpected HSTS %q", tc.path, tc.proto, got)
		}
	}
}
