package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// DefaultMaxAttempts is the number of graceful shutdown commands sent
// before escalating.
const DefaultMaxAttempts = 5

// ConvergenceOptions tunes the shutdown loop.
type ConvergenceOptions struct {
	// MaxAttempts is the graceful shutdown budget. The loop samples
	// MaxAttempts+1 times before escalating.
	MaxAttempts int

	// ForceOff sends a power-off command on escalation.
	ForceOff bool

	// Backoff shapes the wait after each shutdown command.
	Backoff BackoffOptions
}

// DefaultConvergenceOptions returns the default loop options.
func DefaultConvergenceOptions() ConvergenceOptions {
	return ConvergenceOptions{
		MaxAttempts: DefaultMaxAttempts,
		ForceOff:    true,
		Backoff:     DefaultBackoffOptions(),
	}
}

// ConvergenceState is the loop's position: the guest VMs still on and the
// shutdown commands sent so far.
type ConvergenceState struct {
	Phase     LoopPhase `json:"phase" yaml:"phase"`
	Attempts  int       `json:"attempts" yaml:"attempts"`
	Remaining []string  `json:"remaining" yaml:"remaining"`
}

// CommandRecord is one power-control command issued by the loop.
type CommandRecord struct {
	Kind     remote.Kind `json:"kind" yaml:"kind"`
	Command  string      `json:"command" yaml:"command"`
	Targets  []string    `json:"targets" yaml:"targets"`
	Attempt  int         `json:"attempt" yaml:"attempt"`
	SentAt   time.Time   `json:"sent_at" yaml:"sent_at"`
	ExitCode int         `json:"exit_code" yaml:"exit_code"`
	DryRun   bool        `json:"dry_run" yaml:"dry_run"`
	Duration string      `json:"duration" yaml:"duration"`
}

// ConvergenceResult is how the loop ended.
type ConvergenceResult struct {
	Outcome   Outcome         `json:"outcome" yaml:"outcome"`
	Attempts  int             `json:"attempts" yaml:"attempts"`
	Rounds    int             `json:"rounds" yaml:"rounds"`
	Remaining []string        `json:"remaining" yaml:"remaining"`
	Commands  []CommandRecord `json:"commands" yaml:"commands"`
}

// GuestSet returns the names of powered-on VMs that are not excluded, in
// list order and without duplicates.
func GuestSet(vms []prism.VM, exclusions *ExclusionSet) []string {
	seen := make(map[string]struct{}, len(vms))
	guests := make([]string, 0, len(vms))
	for _, vm := range vms {
		if !vm.IsOn() || vm.Name == "" || exclusions.Contains(vm.Name) {
			continue
		}
		if _, dup := seen[vm.Name]; dup {
			continue
		}
		seen[vm.Name] = struct{}{}
		guests = append(guests, vm.Name)
	}
	return guests
}

// ConvergenceLoop drives guest VMs to powered off: sample, send a graceful
// shutdown to whatever is still on, wait, and sample again until nothing is
// left or the budget is spent.
type ConvergenceLoop struct {
	client     VMLister
	channel    remote.Channel
	exclusions *ExclusionSet
	opts       ConvergenceOptions
	tel        *telemetry.Telemetry
	sleep      sleepFunc

	state ConvergenceState
}

// NewConvergenceLoop creates a loop over the guest VMs outside exclusions.
func NewConvergenceLoop(client VMLister, channel remote.Channel, exclusions *ExclusionSet, opts ConvergenceOptions, tel *telemetry.Telemetry) *ConvergenceLoop {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	return &ConvergenceLoop{
		client:     client,
		channel:    channel,
		exclusions: exclusions,
		opts:       opts,
		tel:        orNoop(tel),
		sleep:      sleepContext,
		state:      ConvergenceState{Phase: LoopSampling},
	}
}

// State returns a copy of the loop's current state.
func (l *ConvergenceLoop) State() ConvergenceState {
	s := l.state
	s.Remaining = append([]string(nil), l.state.Remaining...)
	return s
}

// Run executes the loop to a terminal phase. Escalation is reported in the
// result, not as an error. Any query or command failure is fatal.
func (l *ConvergenceLoop) Run(ctx context.Context) (*ConvergenceResult, error) {
	logger := l.tel.Logger.WithPhase(string(PhaseConverge))
	result := &ConvergenceResult{}
	backoff := l.opts.Backoff.newBackoff()

	for {
		l.transition(LoopSampling)
		vms, status, err := l.client.ListVMs(ctx)
		if err != nil {
			return l.fail(result, apiError(PhaseConverge, "failed to sample VMs", err, status))
		}
		guests := GuestSet(vms, l.exclusions)
		l.state.Remaining = guests
		result.Rounds++
		result.Remaining = guests

		l.tel.Metrics.RecordRound(len(guests))
		publish(ctx, l.tel, PhaseConverge, telemetry.EventTypeSampled, telemetry.EventLevelInfo,
			"guest VMs sampled", map[string]any{
				"round":     result.Rounds,
				"attempts":  l.state.Attempts,
				"remaining": guests,
			})

		l.transition(LoopDeciding)
		switch {
		case len(guests) == 0:
			l.transition(LoopConverged)
			result.Outcome = OutcomeConverged
			result.Attempts = l.state.Attempts
			publish(ctx, l.tel, PhaseConverge, telemetry.EventTypeConverged, telemetry.EventLevelInfo,
				"all guest VMs are off", map[string]any{"rounds": result.Rounds, "attempts": l.state.Attempts})
			logger.Infof("All guest VMs are off after %d shutdown attempts", l.state.Attempts)
			return result, nil

		case l.state.Attempts < l.opts.MaxAttempts:
			logger.WithField("remaining", guests).
				Infof("Shutdown attempt %d of %d", l.state.Attempts+1, l.opts.MaxAttempts)
			rec, err := l.send(ctx, remote.ShutdownCommand(guests), l.state.Attempts+1)
			if err != nil {
				return l.fail(result, err)
			}
			result.Commands = append(result.Commands, rec)
			l.state.Attempts++
			result.Attempts = l.state.Attempts

			l.transition(LoopRetrying)
			wait := backoff.Step()
			logger.Debugf("Waiting %s before sampling again", wait)
			if err := l.sleep(ctx, wait); err != nil {
				return l.fail(result, wrapError(PhaseConverge, "interrupted while waiting for guest VMs", err, ErrorClassCancelled))
			}

		default:
			l.transition(LoopEscalated)
			result.Outcome = OutcomeEscalated
			result.Attempts = l.state.Attempts
			l.tel.Metrics.RecordEscalation()
			logger.WithField("remaining", guests).
				Warnf("Guest VMs still on after %d shutdown attempts", l.state.Attempts)

			if l.opts.ForceOff {
				rec, err := l.send(ctx, remote.PowerOffCommand(guests), l.state.Attempts)
				if err != nil {
					return l.fail(result, err)
				}
				result.Commands = append(result.Commands, rec)
			}

			publish(ctx, l.tel, PhaseConverge, telemetry.EventTypeEscalated, telemetry.EventLevelWarning,
				"shutdown budget exhausted", map[string]any{
					"attempts":  l.state.Attempts,
					"remaining": guests,
					"force_off": l.opts.ForceOff,
				})
			return result, nil
		}
	}
}

// send delivers cmd and waits for it to finish.
func (l *ConvergenceLoop) send(ctx context.Context, cmd remote.Command, attempt int) (CommandRecord, error) {
	rec := CommandRecord{
		Kind:    cmd.Kind,
		Command: cmd.Render(),
		Targets: append([]string(nil), cmd.Targets...),
		Attempt: attempt,
	}

	if err := cmd.Validate(); err != nil {
		return rec, NewRunError(ErrorClassCommand, PhaseConverge, "refusing to send command", err).
			WithCode(ErrCodeInvalidCommand).
			WithDetail("command", rec.Command)
	}

	h, err := l.channel.Send(ctx, cmd)
	if err != nil {
		return rec, wrapError(PhaseConverge, "failed to send command", err, ErrorClassCommand).
			WithDetail("command", rec.Command)
	}
	rec.SentAt = h.SentAt

	res, err := l.channel.Await(ctx, h)
	rec.ExitCode = res.ExitCode
	rec.DryRun = res.DryRun
	rec.Duration = res.Duration.String()
	if err == nil && res.ExitCode != 0 {
		err = &remote.CommandError{Command: rec.Command, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	if err != nil {
		return rec, wrapError(PhaseConverge, "command failed", err, ErrorClassCommand).
			WithDetail("command", rec.Command)
	}

	l.tel.Metrics.RecordCommand(string(cmd.Kind))
	publish(ctx, l.tel, PhaseConverge, telemetry.EventTypeCommandSent, telemetry.EventLevelInfo,
		"power command delivered", map[string]any{
			"kind":    string(cmd.Kind),
			"command": rec.Command,
			"targets": rec.Targets,
			"attempt": attempt,
			"dry_run": rec.DryRun,
		})
	return rec, nil
}

func (l *ConvergenceLoop) transition(phase LoopPhase) {
	l.state.Phase = phase
}

func (l *ConvergenceLoop) fail(result *ConvergenceResult, err error) (*ConvergenceResult, error) {
	result.Outcome = OutcomeFailed
	result.Attempts = l.state.Attempts
	return result, err
}

// String describes the state for logs.
func (s ConvergenceState) String() string {
	return fmt.Sprintf("%s (attempts=%d, remaining=%d)", s.Phase, s.Attempts, len(s.Remaining))
}
