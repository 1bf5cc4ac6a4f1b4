package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
)

func TestClassifyMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"Failed to get document because the client is offline.", Network},
		{"network-error while uploading", Network},
		{"Connection reset by peer", Network},
		{"request aborted", Network},
		{"service unavailable", Network},
		{"deadline-exceeded", Network},
		{"Missing or insufficient permissions.", Permission},
		{"permission-denied", Permission},
		{"The query requires an index. You can create it here: https://...", IndexMissing},
		{"Transaction lock timeout", LockTimeout},
		{"could not acquire lock on row", LockTimeout},
		{"something odd happened", Generic},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("Classify(%q)=%s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != None {
		t.Fatalf("expected none, got %s", got)
	}
}

func TestClassifyTypedErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), Network},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, Network},
		{"pg connection", &pgconn.PgError{Code: "08006", Message: "boom"}, Network},
		{"pg lock", &pgconn.PgError{Code: "55P03", Message: "could not obtain lock"}, LockTimeout},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, LockTimeout},
		{"pg privilege", &pgconn.PgError{Code: "42501"}, Permission},
		{"pg unique", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, Generic},
		{"minio denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, Permission},
		{"minio slow", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, Network},
		{"already classified", Wrap(IndexMissing, "query", errors.New("x")), IndexMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestTypedSignalBeatsMessage(t *testing.T) {
	// message says "permission" but the code says connection failure
	err := &pgconn.PgError{Code: "08001", Message: "permission denied for host"}
	if got := Classify(err); got != Network {
		t.Fatalf("expected network, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[Class]bool{
		Network:      true,
		IndexMissing: true,
		LockTimeout:  true,
		Permission:   false,
		Generic:      false,
		None:         false,
	}
	for class, want := range retryable {
		if class.Retryable() != want {
			t.Fatalf("%s.Retryable()=%v, want %v", class, !want, want)
		}
	}
}

func TestErrorIsMatchesClass(t *testing.T) {
	err := fmt.Errorf("update: %w", Wrap(Permission, "owner check", errors.New("not owner")))
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected errors.Is to match permission sentinel")
	}
	if errors.Is(err, ErrNetwork) {
		t.Fatalf("did not expect network match")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Class: Network, Op: "read", Attempts: 3, Err: errors.New("offline")}
	if got := err.Error(); got != "read: offline (after 3 attempts)" {
		t.Fatalf("unexpected message %q", got)
	}
}
