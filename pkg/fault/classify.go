package fault

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
)

// Classify maps an arbitrary error onto the taxonomy. Typed signals from the
// drivers win; message matching is the fallback for errors that carry
// nothing better.
func Classify(err error) Class {
	if err == nil {
		return None
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Class != None {
		return classified.Class
	}
	if c := classifyTransport(err); c != None {
		return c
	}
	if c := classifyPostgres(err); c != None {
		return c
	}
	if c := classifyObjectStore(err); c != None {
		return c
	}
	return classifyMessage(err.Error())
}

// IsRetryable is shorthand for Classify(err).Retryable().
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

func classifyTransport(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return Network
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Network
	}
	return None
}

func classifyPostgres(err error) Class {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) {
			return Network
		}
		return None
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "08"):
		return Network
	case pgErr.Code == "55P03", pgErr.Code == "40P01", pgErr.Code == "40001":
		return LockTimeout
	case pgErr.Code == "42501":
		return Permission
	case pgErr.Code == "57P01", pgErr.Code == "57P03":
		// admin shutdown, cannot connect now
		return Network
	}
	return None
}

func classifyObjectStore(err error) Class {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		if c := classifyStorageCode(resp.Code, resp.StatusCode); c != None {
			return c
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classifyStorageCode(apiErr.ErrorCode(), 0)
	}
	return None
}

func classifyStorageCode(code string, status int) Class {
	switch code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
		return Permission
	case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return Network
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Permission
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		return Network
	}
	return None
}

var (
	lockMarkers       = []string{"timeout", "timed out", "acquire"}
	permissionMarkers = []string{"permission-denied", "permission denied", "insufficient permissions", "unauthorized", "forbidden", "access denied"}
	networkMarkers    = []string{"network", "offline", "connection", "aborted", "unavailable", "deadline-exceeded", "deadline exceeded", "timeout", "timed out"}
)

func classifyMessage(msg string) Class {
	msg = strings.ToLower(msg)
	if strings.Contains(msg, "requires an index") {
		return IndexMissing
	}
	// lock messages usually mention a timeout too, so they go before network
	if strings.Contains(msg, "lock") && containsAny(msg, lockMarkers) {
		return LockTimeout
	}
	if containsAny(msg, permissionMarkers) {
		return Permission
	}
	if containsAny(msg, networkMarkers) {
		return Network
	}
	return Generic
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
