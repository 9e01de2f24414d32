package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// DefaultStopAction is the action invoked to quiesce an application.
const DefaultStopAction = "action_stop"

// AppStopOptions tunes the application stop driver.
type AppStopOptions struct {
	// ActionName is the action looked up on each application.
	ActionName string

	// WaitForStopped polls each application until it reports stopped.
	// When false the stop action is fired and not awaited.
	WaitForStopped bool

	// MaxPolls bounds the number of status rounds.
	MaxPolls int

	// PollInterval is the wait between status rounds.
	PollInterval time.Duration

	// FailOnTimeout turns an application that did not stop into a fatal error.
	FailOnTimeout bool
}

// DefaultAppStopOptions returns the default stop driver options.
func DefaultAppStopOptions() AppStopOptions {
	return AppStopOptions{
		ActionName:     DefaultStopAction,
		WaitForStopped: true,
		MaxPolls:       30,
		PollInterval:   10 * time.Second,
	}
}

// AppInstance is the stop driver's record of one application.
type AppInstance struct {
	UUID           string     `json:"uuid" yaml:"uuid"`
	Name           string     `json:"name" yaml:"name"`
	StopActionUUID string     `json:"stop_action_uuid,omitempty" yaml:"stop_action_uuid,omitempty"`
	State          string     `json:"state,omitempty" yaml:"state,omitempty"`
	Outcome        AppOutcome `json:"outcome" yaml:"outcome"`
	Polls          int        `json:"polls" yaml:"polls"`
	RunlogUUID     string     `json:"runlog_uuid,omitempty" yaml:"runlog_uuid,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// AppStopDriver quiesces managed applications before VM shutdown.
type AppStopDriver struct {
	client AppClient
	opts   AppStopOptions
	tel    *telemetry.Telemetry
	sleep  sleepFunc
}

// NewAppStopDriver creates a stop driver. Zero-valued options fall back to
// the defaults.
func NewAppStopDriver(client AppClient, opts AppStopOptions, tel *telemetry.Telemetry) *AppStopDriver {
	def := DefaultAppStopOptions()
	if opts.ActionName == "" {
		opts.ActionName = def.ActionName
	}
	if opts.MaxPolls < 1 {
		opts.MaxPolls = def.MaxPolls
	}
	return &AppStopDriver{
		client: client,
		opts:   opts,
		tel:    orNoop(tel),
		sleep:  sleepContext,
	}
}

// StopAll invokes the stop action on every application and, unless
// disabled, polls until each reports stopped. An application without the
// stop action is skipped. Query failures are fatal.
func (d *AppStopDriver) StopAll(ctx context.Context) ([]AppInstance, error) {
	logger := d.tel.Logger.WithPhase(string(PhaseAppStop))

	apps, status, err := d.client.ListApps(ctx)
	if err != nil {
		return nil, apiError(PhaseAppStop, "failed to list applications", err, status)
	}

	instances := make([]AppInstance, 0, len(apps))
	type target struct {
		idx int
		app *prism.App
	}
	targets := make([]target, 0, len(apps))

	for _, summary := range apps {
		app, status, err := d.client.GetApp(ctx, summary.Metadata.UUID)
		if err != nil {
			return instances, apiError(PhaseAppStop, "failed to get application", err, status).
				WithDetail("uuid", summary.Metadata.UUID)
		}

		inst := AppInstance{
			UUID:  app.Metadata.UUID,
			Name:  app.Name(),
			State: app.Status.State,
		}
		if inst.UUID == "" {
			inst.UUID = summary.Metadata.UUID
		}

		action, ok := app.Action(d.opts.ActionName)
		if !ok {
			inst.Outcome = AppOutcomeSkipped
			d.finish(ctx, &inst)
			logger.WithField("app", inst.Name).Warnf("Application has no %s action, skipping", d.opts.ActionName)
			instances = append(instances, inst)
			continue
		}

		inst.StopActionUUID = action.UUID
		targets = append(targets, target{idx: len(instances), app: app})
		instances = append(instances, inst)
	}

	pending := make([]int, 0, len(targets))
	for _, t := range targets {
		inst := &instances[t.idx]

		run, status, err := d.client.RunAppAction(ctx, t.app, inst.StopActionUUID)
		if err != nil {
			return instances, apiError(PhaseAppStop, "failed to run stop action", err, status).
				WithDetail("app", inst.Name)
		}
		if run != nil {
			inst.RunlogUUID = run.Status.RunlogUUID
		}

		inst.Outcome = AppOutcomeRequested
		publish(ctx, d.tel, PhaseAppStop, telemetry.EventTypeAppStopRequested, telemetry.EventLevelInfo,
			"stop action requested", map[string]any{"app": inst.Name, "uuid": inst.UUID})
		logger.WithField("app", inst.Name).Info("Stop action requested")

		if d.opts.WaitForStopped {
			pending = append(pending, t.idx)
		} else {
			d.tel.Metrics.RecordAppOutcome(string(AppOutcomeRequested))
		}
	}

	if err := d.await(ctx, instances, pending); err != nil {
		return instances, err
	}

	if d.opts.FailOnTimeout {
		for _, inst := range instances {
			if inst.Outcome.IsFailure() {
				return instances, NewRunError(ErrorClassCommand, PhaseAppStop,
					fmt.Sprintf("application %s did not stop", inst.Name), nil).
					WithCode(ErrCodeAppStopTimeout).
					WithDetail("app", inst.Name).
					WithDetail("outcome", string(inst.Outcome))
			}
		}
	}

	return instances, nil
}

// await polls the pending instances in rounds until each is terminal or the
// poll budget runs out.
func (d *AppStopDriver) await(ctx context.Context, instances []AppInstance, pending []int) error {
	for round := 1; len(pending) > 0; round++ {
		if err := d.sleep(ctx, d.opts.PollInterval); err != nil {
			return wrapError(PhaseAppStop, "interrupted while waiting for applications", err, ErrorClassCancelled)
		}

		next := pending[:0]
		for _, idx := range pending {
			inst := &instances[idx]
			app, status, err := d.client.GetApp(ctx, inst.UUID)
			if err != nil {
				return apiError(PhaseAppStop, "failed to poll application", err, status).
					WithDetail("app", inst.Name)
			}
			inst.Polls = round
			inst.State = app.Status.State

			switch app.Status.State {
			case prism.AppStateStopped:
				inst.Outcome = AppOutcomeStopped
				d.finish(ctx, inst)
			case prism.AppStateError:
				inst.Outcome = AppOutcomeError
				inst.Error = "application entered error state"
				d.finish(ctx, inst)
			default:
				if round >= d.opts.MaxPolls {
					inst.Outcome = AppOutcomeTimeout
					inst.Error = fmt.Sprintf("still %q after %d polls", inst.State, round)
					d.finish(ctx, inst)
					continue
				}
				next = append(next, idx)
			}
		}
		pending = next
	}
	return nil
}

// finish records a terminal outcome.
func (d *AppStopDriver) finish(ctx context.Context, inst *AppInstance) {
	d.tel.Metrics.RecordAppOutcome(string(inst.Outcome))

	data := map[string]any{"app": inst.Name, "uuid": inst.UUID, "outcome": string(inst.Outcome)}
	switch inst.Outcome {
	case AppOutcomeStopped:
		publish(ctx, d.tel, PhaseAppStop, telemetry.EventTypeAppStopped, telemetry.EventLevelInfo, "application stopped", data)
	case AppOutcomeSkipped:
		publish(ctx, d.tel, PhaseAppStop, telemetry.EventTypeAppStopSkipped, telemetry.EventLevelWarning, "application has no stop action", data)
	default:
		d.tel.Logger.WithPhase(string(PhaseAppStop)).
			WithFields(map[string]any{"app": inst.Name, "state": inst.State}).
			Warnf("Application did not stop: %s", inst.Outcome)
		publish(ctx, d.tel, PhaseAppStop, telemetry.EventTypeAppStopFailed, telemetry.EventLevelWarning, "application did not stop", data)
	}
}
