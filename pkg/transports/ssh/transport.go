// Package ssh runs commands on a cluster controller VM and copies files onto
// it over SFTP.
package ssh

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Transport is the connection to one controller VM.
type Transport interface {
	// Connect establishes the SSH connection. Calling it on a live
	// connection is a no-op.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck runs a no-op command to verify the connection.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs cmd and waits for it to exit. A non-zero exit
	// status is returned as a *TransportError alongside the populated result.
	ExecuteCommand(ctx context.Context, cmd string) (*ExecResult, error)

	// UploadBytes writes data to remotePath over SFTP, creating parent
	// directories as needed.
	UploadBytes(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Command is the command line as sent
	Command string

	// Stdout and Stderr are trimmed of surrounding whitespace
	Stdout string
	Stderr string

	// ExitCode is -1 when the command did not report an exit status
	ExitCode int

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// ExitStatus returns the remote exit status carried by err, or -1 if err does
// not come from a command that exited.
func ExitStatus(err error) int {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}
