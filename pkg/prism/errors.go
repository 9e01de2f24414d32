package prism

import (
	"errors"
	"fmt"
)

// maxSnippet bounds how much of a response body is kept on errors.
const maxSnippet = 512

// TransportError is returned when a request fails before a response arrives
// (DNS, connection refused, TLS handshake, context cancellation).
type TransportError struct {
	// Op is the API operation, e.g. "list-vms".
	Op string

	// URL is the request URL.
	URL string

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s %s returned status %d", e.Op, e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s %s returned status %d: %s", e.Op, e.Method, e.URL, e.StatusCode, e.Body)
}

// ParseError is returned when a response body is not valid JSON or does not
// match the expected shape.
type ParseError struct {
	Op   string
	URL  string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse response from %s: %v", e.Op, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status carried by err. It returns 0 when err
// did not come from a completed HTTP exchange.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}

func snippet(b []byte) string {
	if len(b) > maxSnippet {
		return string(b[:maxSnippet]) + "..."
	}
	return string(b)
}
