package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var errClosed = errors.New("channel is closed")

// DryRunChannel records commands without transmitting them.
type DryRunChannel struct {
	logger zerolog.Logger

	mu      sync.Mutex
	sent    []Command
	uploads map[string][]byte
	closed  bool
}

var (
	_ Channel  = (*DryRunChannel)(nil)
	_ Uploader = (*DryRunChannel)(nil)
)

// NewDryRunChannel returns a channel that logs and records every command.
func NewDryRunChannel(logger zerolog.Logger) *DryRunChannel {
	return &DryRunChannel{
		logger:  logger.With().Str("channel", string(ModeDryRun)).Logger(),
		uploads: make(map[string][]byte),
	}
}

// Send records cmd. The returned handle is already complete.
func (c *DryRunChannel) Send(_ context.Context, cmd Command) (*Handle, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	c.sent = append(c.sent, Command{Kind: cmd.Kind, Targets: append([]string(nil), cmd.Targets...)})
	c.mu.Unlock()

	h := newHandle(cmd)
	line := cmd.Render()

	c.logger.Info().
		Str("handle", h.ID).
		Str("kind", string(cmd.Kind)).
		Str("command", line).
		Msg("dry run: command not transmitted")

	h.complete(Result{Command: line, DryRun: true}, nil)
	return h, nil
}

// Await returns the recorded result immediately.
func (c *DryRunChannel) Await(ctx context.Context, h *Handle) (Result, error) {
	return h.wait(ctx)
}

// Upload keeps data in memory under remotePath.
func (c *DryRunChannel) Upload(_ context.Context, data []byte, remotePath string) error {
	c.mu.Lock()
	c.uploads[remotePath] = append([]byte(nil), data...)
	c.mu.Unlock()

	c.logger.Info().Str("remote", remotePath).Int("size", len(data)).Msg("dry run: upload skipped")
	return nil
}

// Sent returns the commands recorded so far, in order.
func (c *DryRunChannel) Sent() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.sent))
	copy(out, c.sent)
	return out
}

// Uploaded returns the data recorded for remotePath.
func (c *DryRunChannel) Uploaded(remotePath string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.uploads[remotePath]
	return data, ok
}

// Close marks the channel closed.
func (c *DryRunChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
