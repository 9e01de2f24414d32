package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, expectErr: true},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, expectErr: true},
		{name: "stdout exporter", modify: func(c *Config) { c.Tracing.Exporter = "stdout" }},
		{name: "otlp without endpoint", modify: func(c *Config) { c.Tracing.Exporter = "otlp" }, expectErr: true},
		{name: "unknown exporter", modify: func(c *Config) { c.Tracing.Exporter = "jaeger" }, expectErr: true},
		{name: "sampling out of range", modify: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, expectErr: true},
		{
			name: "textfile with metrics disabled",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.TextfilePath = "/tmp/x.prom"
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.NewComponentLogger("classifier").WithRunID("run-1").WithPhase("classify").Debug("classified")

	out := buf.String()
	for _, want := range []string{`"component":"classifier"`, `"run_id":"run-1"`, `"phase":"classify"`, `"message":"classified"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected fallback logger")
	}

	l := NopLogger().WithRunID("x")
	ctx := l.WithContext(context.Background())
	if FromContext(ctx) != l {
		t.Error("expected stored logger")
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordAPICall("list-vms", 200, 20*time.Millisecond)
	m.RecordAPICall("list-vms", 200, 30*time.Millisecond)
	m.RecordAPICall("list-vms", 0, time.Millisecond)
	m.RecordRound(4)
	m.RecordRound(2)
	m.RecordCommand("shutdown")
	m.RecordEscalation()
	m.RecordAppOutcome("stopped")
	m.SetExclusions("file-service", 3)
	m.RecordError("api")
	m.RecordRunCompleted("escalated", time.Minute)

	if got := testutil.ToFloat64(m.apiCalls.WithLabelValues("list-vms", "200")); got != 2 {
		t.Errorf("expected 2 successful list-vms calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.apiCalls.WithLabelValues("list-vms", "0")); got != 1 {
		t.Errorf("expected 1 transport failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.rounds); got != 2 {
		t.Errorf("expected 2 rounds, got %v", got)
	}
	if got := testutil.ToFloat64(m.remaining); got != 2 {
		t.Errorf("expected remaining gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.excludedVMs.WithLabelValues("file-service")); got != 3 {
		t.Errorf("expected 3 file-service exclusions, got %v", got)
	}
	if got := testutil.ToFloat64(m.escalations); got != 1 {
		t.Errorf("expected 1 escalation, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordAPICall("x", 200, time.Second)
	m.RecordRound(1)
	m.RecordRunCompleted("converged", time.Second)
	if err := m.WriteTextfile("/nonexistent/dir/x.prom"); err != nil {
		t.Errorf("nil metrics should not write: %v", err)
	}

	disabled, _ := NewMetrics(MetricsConfig{Enabled: false})
	disabled.RecordCommand("shutdown")
	if disabled.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestMetricsWriteTextfile(t *testing.T) {
	m, _ := NewMetrics(DefaultConfig().Metrics)
	m.RecordCommand("power-off")

	path := filepath.Join(t.TempDir(), "powerdown.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `powerdown_commands_sent_total{kind="power-off"} 1`) {
		t.Errorf("textfile missing command counter:\n%s", data)
	}
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})

	var all, warnings Recorder
	ep.Subscribe(all.Record, nil)
	unsubscribe := ep.Subscribe(warnings.Record, FilterByLevel(EventLevelWarning))

	ep.Publish(Event{Type: EventTypeRunStarted, RunID: "r1"})
	ep.Publish(Event{Type: EventTypeEscalated, RunID: "r1", Level: EventLevelWarning})
	unsubscribe()
	ep.Publish(Event{Type: EventTypeRunCompleted, RunID: "r1", Level: EventLevelError})

	got := all.Types()
	want := []string{EventTypeRunStarted, EventTypeEscalated, EventTypeRunCompleted}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}

	if n := len(warnings.Events()); n != 1 {
		t.Errorf("expected 1 warning after unsubscribe, got %d", n)
	}

	first := all.Events()[0]
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be stamped")
	}
	if first.Level != EventLevelInfo {
		t.Errorf("expected default level info, got %s", first.Level)
	}
}

func TestEventPublisherFilters(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	ep.AddFilter(FilterByRunID("r1"))

	var rec Recorder
	ep.Subscribe(rec.Record, FilterByType(EventTypeCommandSent))

	ep.Publish(Event{Type: EventTypeCommandSent, RunID: "r2"})
	ep.Publish(Event{Type: EventTypeSampled, RunID: "r1"})
	ep.Publish(Event{Type: EventTypeCommandSent, RunID: "r1"})

	if n := len(rec.Events()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: false})
	var rec Recorder
	ep.Subscribe(rec.Record, nil)
	ep.Publish(Event{Type: EventTypeRunStarted})
	if len(rec.Events()) != 0 {
		t.Error("disabled publisher should not deliver")
	}

	var nilPub *EventPublisher
	nilPub.Publish(Event{Type: EventTypeRunStarted})
	nilPub.Subscribe(rec.Record, nil)()
}

func TestTracerStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Exporter = "stdout"
	cfg.Writer = &buf

	tracer, err := NewTracer(cfg, "powerdown", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	ctx, run := tracer.StartRunSpan(context.Background(), "run-1", true)
	_, phase := tracer.StartPhaseSpan(ctx, "classify")
	RecordError(phase, errors.New("boom"))
	phase.End()
	RecordSuccess(run)
	run.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"powerdown.run", "classify", "run-1", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exported spans", want)
		}
	}
}

func TestTracerNone(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Exporter: "none", SamplingRate: 1}, "powerdown", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	ctx, span := tracer.StartPhaseSpan(context.Background(), "converge")
	defer span.End()

	if TraceID(ctx) == "" {
		t.Error("expected a trace ID even without an exporter")
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartSpan(context.Background(), "x")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("nil tracer should produce invalid span contexts")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestTelemetryLifecycle(t *testing.T) {
	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Writer = &logs
	cfg.Logging.Format = "json"
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "run.prom")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	op := tel.StartOperation(context.Background(), "classify")
	op.Logger.Info("working")
	op.End(nil)

	if FromTelemetryContext(tel.WithContext(context.Background())) != tel {
		t.Error("expected telemetry round trip through context")
	}

	tel.Metrics.RecordRound(0)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := os.Stat(cfg.Metrics.TextfilePath); err != nil {
		t.Errorf("expected metrics textfile: %v", err)
	}
	if !strings.Contains(logs.String(), `"trace_id"`) {
		t.Errorf("expected trace_id on operation logs: %s", logs.String())
	}
}

func TestNoop(t *testing.T) {
	tel := Noop()
	op := tel.StartOperation(context.Background(), "x")
	op.End(errors.New("ignored"))
	tel.Metrics.RecordCommand("shutdown")
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
