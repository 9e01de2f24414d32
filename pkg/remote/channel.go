// Package remote delivers power-control commands to the cluster's command
// interpreter and reports their outcome.
package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a power-control command.
type Kind string

const (
	// KindShutdown asks guests to shut down gracefully.
	KindShutdown Kind = "shutdown"

	// KindPowerOff cuts power to guests.
	KindPowerOff Kind = "power-off"
)

// Mode selects the Channel implementation.
type Mode string

const (
	ModeSSH    Mode = "ssh"
	ModeDryRun Mode = "dry-run"
)

var verbs = map[Kind]string{
	KindShutdown: "vm.shutdown",
	KindPowerOff: "vm.off",
}

// Command is a power-control command addressed to a list of VMs by name.
type Command struct {
	Kind    Kind     `json:"kind" yaml:"kind"`
	Targets []string `json:"targets" yaml:"targets"`
}

// ShutdownCommand returns a graceful shutdown command for targets.
func ShutdownCommand(targets []string) Command {
	return Command{Kind: KindShutdown, Targets: append([]string(nil), targets...)}
}

// PowerOffCommand returns a forced power-off command for targets.
func PowerOffCommand(targets []string) Command {
	return Command{Kind: KindPowerOff, Targets: append([]string(nil), targets...)}
}

// Validate rejects commands that would render to something acli cannot parse.
func (c Command) Validate() error {
	if _, ok := verbs[c.Kind]; !ok {
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("%s command has no targets", c.Kind)
	}
	for _, name := range c.Targets {
		if name == "" {
			return fmt.Errorf("%s command has an empty target name", c.Kind)
		}
		if strings.Contains(name, ",") {
			return fmt.Errorf("target name %q contains the list separator", name)
		}
	}
	return nil
}

// Render returns the command line, e.g. "acli vm.shutdown VM1,VM2". The
// target list is single-quoted only when it contains shell metacharacters.
func (c Command) Render() string {
	return "acli " + verbs[c.Kind] + " " + shellQuote(strings.Join(c.Targets, ","))
}

func (c Command) String() string {
	return c.Render()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Result is the outcome of a delivered command.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

// Handle tracks one in-flight command returned by Send.
type Handle struct {
	ID      string
	Command Command
	SentAt  time.Time

	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newHandle(cmd Command) *Handle {
	return &Handle{
		ID:      uuid.NewString(),
		Command: cmd,
		SentAt:  time.Now(),
		done:    make(chan struct{}),
	}
}

func (h *Handle) complete(result Result, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// wait blocks until the handle completes or ctx ends.
func (h *Handle) wait(ctx context.Context) (Result, error) {
	if h == nil {
		return Result{}, fmt.Errorf("await: nil handle")
	}
	select {
	case <-ctx.Done():
		return Result{Command: h.Command.Render(), ExitCode: -1}, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// Channel delivers commands to the cluster.
type Channel interface {
	// Send starts delivery of cmd and returns without waiting for it.
	Send(ctx context.Context, cmd Command) (*Handle, error)

	// Await blocks until the command behind h has finished.
	Await(ctx context.Context, h *Handle) (Result, error)

	// Close releases the underlying connection.
	Close() error
}

// Uploader is implemented by channels that can place a file on the cluster.
type Uploader interface {
	Upload(ctx context.Context, data []byte, remotePath string) error
}

// CommandError reports a command that ran and exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
