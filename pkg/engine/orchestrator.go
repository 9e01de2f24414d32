package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// Options configures a run.
type Options struct {
	// DryRun is recorded in the report. The channel decides whether
	// commands are transmitted.
	DryRun bool

	// SkipApps bypasses the application stop driver.
	SkipApps bool

	Apps        AppStopOptions
	Classifier  ClassifierOptions
	Convergence ConvergenceOptions
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Apps:        DefaultAppStopOptions(),
		Convergence: DefaultConvergenceOptions(),
	}
}

// Orchestrator sequences one shutdown run: classify infrastructure VMs,
// stop managed applications, then converge guest VMs to powered off.
type Orchestrator struct {
	client  ClusterClient
	channel remote.Channel
	policy  ProtectionPolicy
	opts    Options
	tel     *telemetry.Telemetry
	sleep   sleepFunc
}

// NewOrchestrator creates an orchestrator. The caller owns client and
// channel. policy may be nil.
func NewOrchestrator(client ClusterClient, channel remote.Channel, policy ProtectionPolicy, opts Options, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		client:  client,
		channel: channel,
		policy:  policy,
		opts:    opts,
		tel:     orNoop(tel),
		sleep:   sleepContext,
	}
}

// Run executes a full shutdown and returns its report. The report is
// returned even when err is non-nil. An escalated run returns a nil error
// with Outcome set to OutcomeEscalated.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.New().String()
	ctx = ContextWithRunID(ctx, runID)

	report := &Report{
		RunID:     runID,
		DryRun:    o.opts.DryRun,
		StartedAt: time.Now().UTC(),
	}

	recorder := &telemetry.Recorder{}
	unsubscribe := o.tel.Events.Subscribe(recorder.Record, telemetry.FilterByRunID(runID))
	defer unsubscribe()

	ctx, span := o.tel.Tracer.StartRunSpan(ctx, runID, o.opts.DryRun)
	defer span.End()

	logger := o.tel.Logger.WithRunID(runID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}
	logger.WithField("dry_run", o.opts.DryRun).Info("Shutdown run started")
	publish(ctx, o.tel, "", telemetry.EventTypeRunStarted, telemetry.EventLevelInfo, "run started",
		map[string]any{"dry_run": o.opts.DryRun})

	err := o.run(ctx, report)

	report.FinishedAt = time.Now().UTC()
	elapsed := report.FinishedAt.Sub(report.StartedAt)
	report.Duration = elapsed.String()

	if err != nil {
		report.Outcome = OutcomeFailed
		report.setError(err)
		class := Classify(err, ErrorClassCommand)
		o.tel.Metrics.RecordError(string(class))
		span.SetAttributes(telemetry.AttrErrorClass.String(string(class)))
		telemetry.RecordError(span, err)
		logger.WithError(err).Error("Shutdown run failed")
		publish(ctx, o.tel, "", telemetry.EventTypeRunFailed, telemetry.EventLevelError, "run failed",
			map[string]any{"class": string(class), "error": err.Error()})
	} else {
		telemetry.RecordSuccess(span)
		level := telemetry.EventLevelInfo
		if report.Escalated() {
			level = telemetry.EventLevelWarning
		}
		logger.WithField("outcome", string(report.Outcome)).Info("Shutdown run completed")
		publish(ctx, o.tel, "", telemetry.EventTypeRunCompleted, level, "run completed",
			map[string]any{"outcome": string(report.Outcome), "attempts": report.Attempts})
	}
	span.SetAttributes(telemetry.AttrOutcome.String(string(report.Outcome)))
	o.tel.Metrics.RecordRunCompleted(string(report.Outcome), elapsed)

	report.Events = recorder.Events()
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *Report) error {
	exclusions, err := o.classify(ctx)
	if err != nil {
		return err
	}
	report.Exclusions = exclusions.Entries()

	if o.opts.SkipApps {
		report.AppsSkipped = true
		o.tel.Logger.WithPhase(string(PhaseAppStop)).Info("Application stop skipped")
	} else {
		apps, err := o.stopApps(ctx)
		report.Apps = apps
		if err != nil {
			return err
		}
	}

	result, err := o.converge(ctx, exclusions)
	if result != nil {
		report.Outcome = result.Outcome
		report.Attempts = result.Attempts
		report.Rounds = result.Rounds
		report.Remaining = result.Remaining
		report.Commands = result.Commands
	}
	return err
}

// Classify runs only the classifier.
func (o *Orchestrator) Classify(ctx context.Context) (*ExclusionSet, error) {
	return o.classify(ctx)
}

// StopApps runs only the application stop driver.
func (o *Orchestrator) StopApps(ctx context.Context) ([]AppInstance, error) {
	return o.stopApps(ctx)
}

func (o *Orchestrator) classify(ctx context.Context) (set *ExclusionSet, err error) {
	ctx, span := o.tel.Tracer.StartPhaseSpan(ctx, string(PhaseClassify))
	defer func() { endSpan(span, err) }()

	return NewClassifier(o.client, o.policy, o.opts.Classifier, o.tel).Classify(ctx)
}

func (o *Orchestrator) stopApps(ctx context.Context) (apps []AppInstance, err error) {
	ctx, span := o.tel.Tracer.StartPhaseSpan(ctx, string(PhaseAppStop))
	defer func() { endSpan(span, err) }()

	driver := NewAppStopDriver(o.client, o.opts.Apps, o.tel)
	driver.sleep = o.sleep
	return driver.StopAll(ctx)
}

func (o *Orchestrator) converge(ctx context.Context, exclusions *ExclusionSet) (result *ConvergenceResult, err error) {
	ctx, span := o.tel.Tracer.StartPhaseSpan(ctx, string(PhaseConverge))
	defer func() {
		if result != nil {
			span.SetAttributes(
				telemetry.AttrAttempt.Int(result.Attempts),
				telemetry.AttrRemaining.Int(len(result.Remaining)),
			)
		}
		endSpan(span, err)
	}()

	loop := NewConvergenceLoop(o.client, o.channel, exclusions, o.opts.Convergence, o.tel)
	loop.sleep = o.sleep
	return loop.Run(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()
}
