package remote

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/powerdown/pkg/transports/ssh"
)

// reportMode is the permission set on uploaded files.
const reportMode = 0o644

// SSHChannel runs commands on a controller VM over an SSH transport.
type SSHChannel struct {
	transport ssh.Transport
	logger    zerolog.Logger
}

var (
	_ Channel  = (*SSHChannel)(nil)
	_ Uploader = (*SSHChannel)(nil)
)

// NewSSHChannel wraps transport. The connection is opened lazily on the
// first Send.
func NewSSHChannel(transport ssh.Transport, logger zerolog.Logger) *SSHChannel {
	return &SSHChannel{
		transport: transport,
		logger:    logger.With().Str("channel", string(ModeSSH)).Logger(),
	}
}

// Send validates cmd and starts it on the remote host.
func (c *SSHChannel) Send(ctx context.Context, cmd Command) (*Handle, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	h := newHandle(cmd)
	line := cmd.Render()

	c.logger.Info().
		Str("handle", h.ID).
		Str("kind", string(cmd.Kind)).
		Int("targets", len(cmd.Targets)).
		Str("command", line).
		Msg("sending command")

	go func() {
		res, err := c.transport.ExecuteCommand(ctx, line)
		result := Result{Command: line, ExitCode: -1}
		if res != nil {
			result.ExitCode = res.ExitCode
			result.Stdout = res.Stdout
			result.Stderr = res.Stderr
			result.Duration = res.Duration
		}
		if err != nil && result.ExitCode > 0 {
			err = &CommandError{Command: line, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
		}
		h.complete(result, err)
	}()

	return h, nil
}

// Await waits for the command's exit status.
func (c *SSHChannel) Await(ctx context.Context, h *Handle) (Result, error) {
	result, err := h.wait(ctx)
	ev := c.logger.Debug()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("command", result.Command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")
	return result, err
}

// Upload writes data to remotePath on the controller VM.
func (c *SSHChannel) Upload(ctx context.Context, data []byte, remotePath string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return c.transport.UploadBytes(ctx, data, remotePath, reportMode)
}

// Check connects if needed, runs a no-op command on the remote host and
// returns the connection details.
func (c *SSHChannel) Check(ctx context.Context) (ssh.ConnectionInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return ssh.ConnectionInfo{}, err
	}
	if err := c.transport.HealthCheck(ctx); err != nil {
		return ssh.ConnectionInfo{}, fmt.Errorf("checking command channel: %w", err)
	}
	return c.transport.GetConnectionInfo(), nil
}

// Close disconnects the transport.
func (c *SSHChannel) Close() error {
	return c.transport.Disconnect()
}

func (c *SSHChannel) ensureConnected(ctx context.Context) error {
	if c.transport.IsConnected() {
		return nil
	}
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting command channel: %w", err)
	}

	info := c.transport.GetConnectionInfo()
	c.logger.Info().
		Str("host", info.Host).
		Int("port", info.Port).
		Str("user", info.User).
		Time("connected_at", info.ConnectedAt).
		Msg("command channel connected")
	return nil
}
