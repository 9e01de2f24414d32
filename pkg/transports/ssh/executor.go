package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// signalGrace is how long a cancelled command gets between SIGTERM and SIGKILL.
const signalGrace = 100 * time.Millisecond

// ExecuteCommand runs a command on the remote host, bounded by the configured
// command timeout.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (*ExecResult, error) {
	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	result := &ExecResult{
		Command:   cmd,
		ExitCode:  -1,
		StartedAt: time.Now(),
	}

	c.logger.Debug().Str("command", cmd).Msg("executing command")

	sshClient, err := c.getClient()
	if err != nil {
		return result, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return result, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(signalGrace)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = strings.TrimSpace(stdoutBuf.String())
	result.Stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	if exitErr, ok := execErr.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("command exited with code %d: %s: %w", exitErr.ExitStatus(), result.Stderr, exitErr),
		}
	}

	return result, &TransportError{
		Op:          "execute",
		Err:         execErr,
		IsTemporary: true,
	}
}
