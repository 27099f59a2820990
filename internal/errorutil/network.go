package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
)

// NetworkKind classifies why a request never produced an HTTP response.
type NetworkKind string

const (
	KindTimeout           NetworkKind = "timeout"
	KindDNS               NetworkKind = "dns"
	KindConnectionRefused NetworkKind = "connection_refused"
	KindUnreachable       NetworkKind = "unreachable"
	KindOther             NetworkKind = "other"
)

// NetworkError represents a network-related error with additional context
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "geocode search")
	URL        string // The URL that was being accessed
	Kind       NetworkKind
	Underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed for %s (%s): %v", e.Operation, e.URL, e.Kind, e.Underlying)
}

func (e *NetworkError) Unwrap() error {
	return e.Underlying
}

// NewNetworkError classifies err and wraps it with operation context.
func NewNetworkError(operation, url string, err error) *NetworkError {
	return &NetworkError{
		Operation:  operation,
		URL:        url,
		Kind:       ClassifyNetworkError(err),
		Underlying: err,
	}
}

// ClassifyNetworkError inspects the error chain for well-known transport failures.
func ClassifyNetworkError(err error) NetworkKind {
	switch {
	case err == nil:
		return KindOther
	case IsTimeout(err):
		return KindTimeout
	case isDNS(err):
		return KindDNS
	case isConnectionRefused(err):
		return KindConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH):
		return KindUnreachable
	default:
		return KindOther
	}
}

// IsTimeout reports whether err is a deadline or net timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isDNS reports whether err came from name resolution.
func isDNS(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isConnectionRefused reports whether the remote end refused the connection.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

// LogNetworkError logs a network error at warn level and returns it.
func LogNetworkError(logger *slog.Logger, netErr *NetworkError, attrs ...slog.Attr) *NetworkError {
	if logger == nil || netErr == nil {
		return netErr
	}
	all := []slog.Attr{
		slog.String("operation", netErr.Operation),
		slog.String("url", netErr.URL),
		slog.String("kind", string(netErr.Kind)),
		slog.String("error", netErr.Underlying.Error()),
	}
	all = append(all, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelWarn, "Network operation failed", all...)
	return netErr
}
