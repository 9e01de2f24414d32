package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/transports/ssh"
)

// ErrorClass classifies a fatal run error by where it came from.
type ErrorClass string

const (
	// ErrorClassTransport covers connection, TLS and SSH session failures.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassParse covers responses that are not the JSON we expect.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassAPI covers non-2xx responses from the cluster API.
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassConfig covers invalid configuration and policy errors.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassCommand covers remote commands that failed or exited non-zero.
	ErrorClassCommand ErrorClass = "command"

	// ErrorClassCancelled covers runs stopped by context cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// ErrEscalated reports that the shutdown budget was exhausted with guest VMs
// still on. Whether they were then forced off depends on the run's options.
// It is an outcome, not a failure of the run itself.
var ErrEscalated = errors.New("guest VMs did not shut down within the attempt budget")

// RunError is a classified fatal error with the phase it happened in.
type RunError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Phase is the run phase that failed.
	Phase Phase `json:"phase"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %v", e.Class, e.Phase, e.Message, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches another *RunError with the same class and code.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithCode adds an error code to an error.
func (e *RunError) WithCode(code string) *RunError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RunError) WithDetail(key string, value interface{}) *RunError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewRunError creates a RunError of an explicit class.
func NewRunError(class ErrorClass, phase Phase, message string, err error) *RunError {
	return &RunError{
		Class:   class,
		Phase:   phase,
		Message: message,
		Err:     err,
	}
}

// wrapError classifies err by its type. Errors of no known type get fallback.
func wrapError(phase Phase, message string, err error, fallback ErrorClass) *RunError {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}
	return NewRunError(Classify(err, fallback), phase, message, err)
}

// apiError wraps a failed cluster API call, keeping the HTTP status the
// server answered with.
func apiError(phase Phase, message string, err error, status int) *RunError {
	runErr := wrapError(phase, message, err, ErrorClassAPI)
	if status > 0 {
		runErr.WithDetail("http_status", status)
	}
	return runErr
}

// Classify returns the class of err, or fallback when nothing matches.
func Classify(err error, fallback ErrorClass) ErrorClass {
	var (
		runErr       *RunError
		prismTrans   *prism.TransportError
		prismParse   *prism.ParseError
		prismStatus  *prism.StatusError
		commandErr   *remote.CommandError
		sshTransport *ssh.TransportError
	)

	switch {
	case err == nil:
		return fallback
	case errors.As(err, &runErr):
		return runErr.Class
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassCancelled
	case errors.As(err, &prismStatus):
		return ErrorClassAPI
	case errors.As(err, &prismParse):
		return ErrorClassParse
	case errors.As(err, &prismTrans):
		return ErrorClassTransport
	case errors.As(err, &commandErr):
		return ErrorClassCommand
	case errors.As(err, &sshTransport):
		return ErrorClassTransport
	default:
		return fallback
	}
}

// ClassOf returns the class of a RunError in err's chain, or "".
func ClassOf(err error) ErrorClass {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Class
	}
	return ""
}

// Error codes.
const (
	ErrCodeAppStopTimeout = "APP_STOP_TIMEOUT"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
)
