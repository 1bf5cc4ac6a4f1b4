package storage

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestPublicReadPolicyAllowsOnlyObjectReads(t *testing.T) {
	raw, err := publicReadPolicy("wallpapers")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	var doc bucketPolicy
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("policy is not valid json: %v", err)
	}
	if len(doc.Statement) != 1 {
		t.Fatalf("expected one statement, got %d", len(doc.Statement))
	}
	st := doc.Statement[0]
	if st.Effect != "Allow" || len(st.Action) != 1 || st.Action[0] != "s3:GetObject" {
		t.Fatalf("unexpected statement %+v", st)
	}
	if len(st.Resource) != 1 || st.Resource[0] != "arn:aws:s3:::wallpapers/*" {
		t.Fatalf("unexpected resource %v", st.Resource)
	}
	if p := st.Principal["AWS"]; len(p) != 1 || p[0] != "*" {
		t.Fatalf("expected anonymous principal, got %v", st.Principal)
	}

	if _, err := publicReadPolicy(" "); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}

// fakeS3 answers the bucket calls NewMinioStore makes at start-up.
type fakeS3 struct {
	mu     sync.Mutex
	policy string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
	case q.Has("policy") && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.policy = string(body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestNewMinioStoreAppliesPublicReadPolicy(t *testing.T) {
	for _, public := range []bool{true, false} {
		fake := &fakeS3{}
		srv := httptest.NewServer(fake)

		_, err := NewMinioStore(MinioConfig{
			Endpoint:   strings.TrimPrefix(srv.URL, "http://"),
			AccessKey:  "minio",
			SecretKey:  "minio-secret",
			Bucket:     "wallpapers",
			PublicRead: public,
		})
		srv.Close()
		if err != nil {
			t.Fatalf("public=%v: new store: %v", public, err)
		}
		fake.mu.Lock()
		got := fake.policy
		fake.mu.Unlock()
		if public && !strings.Contains(got, "arn:aws:s3:::wallpapers/*") {
			t.Fatalf("expected public read policy, got %q", got)
		}
		if !public && got != "" {
			t.Fatalf("policy set without public read: %q", got)
		}
	}
}
