package stream

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors for the failure categories of a stream.
// These can be checked with errors.Is().
var (
	// ErrTransport indicates the server could not be reached or the body broke mid-read.
	ErrTransport = errors.New("stream: transport failure")

	// ErrProtocol indicates a non-2xx HTTP status.
	ErrProtocol = errors.New("stream: unexpected HTTP status")

	// ErrUpstream indicates the server reported an error inside the stream.
	ErrUpstream = errors.New("stream: upstream error")

	// ErrDecode indicates a malformed line. It is logged, never surfaced.
	ErrDecode = errors.New("stream: malformed line")
)

// TransportError wraps a connection or read failure with a friendly message.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return describeTransport(e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError is a non-2xx response. Message is the user-readable text.
type ProtocolError struct {
	Provider   string
	StatusCode int
	Body       string
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// UpstreamError is an error field reported by the server as the last record.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string { return e.Message }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// DecodeError records a line that could not be parsed.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed line %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// StatusDescriber turns a non-2xx status and a bounded body snippet into a
// user-readable message. Returning "" falls back to DescribeStatus.
type StatusDescriber func(status int, body string) string

// DescribeStatus is the provider-neutral status message.
func DescribeStatus(status int, body string) string {
	body = strings.TrimSpace(body)
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return "model not found on the server: " + body
	case status == 401 || status == 403:
		return fmt.Sprintf("authentication failed (status %d), check your API key", status)
	case status == 404:
		return "endpoint not found (status 404), check the base URL"
	case status == 429:
		return "rate limited by the server (status 429), try again later"
	case status >= 500:
		return fmt.Sprintf("server error (status %d): %s", status, truncate(body, 200))
	default:
		return fmt.Sprintf("API error (status %d): %s", status, truncate(body, 200))
	}
}

func describeTransport(url string, err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Sprintf("could not reach %s, is the server running?", url)
	case errors.Is(err, syscall.ECONNRESET):
		return fmt.Sprintf("connection to %s was reset", url)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("request to %s timed out", url)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("could not resolve host %s", dnsErr.Name)
	}
	return fmt.Sprintf("request to %s failed: %v", url, err)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
