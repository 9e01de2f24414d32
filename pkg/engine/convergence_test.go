package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

func newTestLoop(client VMLister, ch remote.Channel, excl *ExclusionSet, opts ConvergenceOptions) (*ConvergenceLoop, *noSleep) {
	loop := NewConvergenceLoop(client, ch, excl, opts, nil)
	s := &noSleep{}
	loop.sleep = s.sleep
	return loop, s
}

func TestGuestSet(t *testing.T) {
	vms := []prism.VM{
		testVM("VM1", prism.PowerStateOn),
		testVM("VM2", prism.PowerStateOff),
		testVM("CVM", prism.PowerStateOn),
		testVM("VM3", prism.PowerStateOn),
		testVM("VM1", prism.PowerStateOn),
		testVM("", prism.PowerStateOn),
		testVM("VM4", "suspended"),
	}
	excl := NewExclusionSet(Exclusion{Name: "CVM", Reason: ReasonPolicy})

	tests := []struct {
		name       string
		exclusions *ExclusionSet
		want       []string
	}{
		{name: "nil exclusions", exclusions: nil, want: []string{"VM1", "CVM", "VM3"}},
		{name: "excluded removed", exclusions: excl, want: []string{"VM1", "VM3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := GuestSet(vms, tt.exclusions)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, GuestSet(vms, tt.exclusions), "guest set must be idempotent")
		})
	}

	assert.Empty(t, GuestSet(nil, excl))
}

func TestConvergenceConvergesAfterOneRetry(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{
		{testVM("VM1", prism.PowerStateOn), testVM("VM2", prism.PowerStateOff)},
		{testVM("VM1", prism.PowerStateOff), testVM("VM2", prism.PowerStateOff)},
	}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	loop, s := newTestLoop(cluster, ch, NewExclusionSet(), DefaultConvergenceOptions())
	result, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 2, result.Rounds)
	assert.Empty(t, result.Remaining)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, "acli vm.shutdown VM1", result.Commands[0].Command)
	assert.True(t, result.Commands[0].DryRun)

	assert.Equal(t, []remote.Command{remote.ShutdownCommand([]string{"VM1"})}, ch.Sent())
	assert.Len(t, s.waits, 1)
	assert.Equal(t, LoopConverged, loop.State().Phase)
}

func TestConvergenceAlreadyOff(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOff)}}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	loop, s := newTestLoop(cluster, ch, nil, DefaultConvergenceOptions())
	result, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, result.Outcome)
	assert.Equal(t, 0, result.Attempts)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, ch.Sent())
	assert.Empty(t, s.waits)
}

func TestConvergenceEscalates(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{
		{testVM("VM1", prism.PowerStateOn), testVM("VM2", prism.PowerStateOff)},
	}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	loop, s := newTestLoop(cluster, ch, NewExclusionSet(), DefaultConvergenceOptions())
	result, err := loop.Run(context.Background())
	require.NoError(t, err, "escalation is an outcome, not an error")

	assert.Equal(t, OutcomeEscalated, result.Outcome)
	assert.Equal(t, DefaultMaxAttempts, result.Attempts)
	assert.Equal(t, DefaultMaxAttempts+1, result.Rounds)
	assert.Equal(t, DefaultMaxAttempts+1, cluster.sampleCount())
	assert.Equal(t, []string{"VM1"}, result.Remaining)

	sent := ch.Sent()
	require.Len(t, sent, DefaultMaxAttempts+1)
	for i := 0; i < DefaultMaxAttempts; i++ {
		assert.Equal(t, remote.KindShutdown, sent[i].Kind)
		assert.Equal(t, []string{"VM1"}, sent[i].Targets)
	}
	assert.Equal(t, remote.PowerOffCommand([]string{"VM1"}), sent[DefaultMaxAttempts])
	assert.Equal(t, "acli vm.off VM1", result.Commands[DefaultMaxAttempts].Command)

	assert.Len(t, s.waits, DefaultMaxAttempts)
	assert.Equal(t, LoopEscalated, loop.State().Phase)
}

func TestConvergenceEscalatesWithoutForceOff(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	opts := DefaultConvergenceOptions()
	opts.MaxAttempts = 2
	opts.ForceOff = false

	loop, _ := newTestLoop(cluster, ch, nil, opts)
	result, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, result.Outcome)
	assert.Equal(t, 3, result.Rounds)
	for _, cmd := range ch.Sent() {
		assert.Equal(t, remote.KindShutdown, cmd.Kind)
	}
	assert.Len(t, ch.Sent(), 2)
}

func TestConvergenceZeroBudgetEscalatesImmediately(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	opts := DefaultConvergenceOptions()
	opts.MaxAttempts = 0

	loop, _ := newTestLoop(cluster, ch, nil, opts)
	result, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, result.Outcome)
	assert.Equal(t, 1, result.Rounds)
	assert.Equal(t, []remote.Command{remote.PowerOffCommand([]string{"VM1"})}, ch.Sent())
}

func TestConvergenceNeverTargetsExclusions(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{
		{
			testVM("PCVM", prism.PowerStateOn, "10.0.0.5"),
			testVM("FS1", prism.PowerStateOn),
			testVM("FS2", prism.PowerStateOn),
			testVM("VM1", prism.PowerStateOn),
			testVM("VM2", prism.PowerStateOn),
		},
		{
			testVM("PCVM", prism.PowerStateOn, "10.0.0.5"),
			testVM("FS1", prism.PowerStateOn),
			testVM("FS2", prism.PowerStateOn),
			testVM("VM1", prism.PowerStateOff),
			testVM("VM2", prism.PowerStateOn),
		},
	}
	excl := NewExclusionSet(
		Exclusion{Name: "PCVM", Reason: ReasonManagementPlane},
		Exclusion{Name: "FS1", Reason: ReasonFileService},
		Exclusion{Name: "FS2", Reason: ReasonFileService},
	)
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	opts := DefaultConvergenceOptions()
	opts.MaxAttempts = 3

	loop, _ := newTestLoop(cluster, ch, excl, opts)
	result, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, result.Outcome)

	sent := ch.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, []string{"VM1", "VM2"}, sent[0].Targets)
	for _, cmd := range sent {
		for _, target := range cmd.Targets {
			assert.False(t, excl.Contains(target), "excluded VM %s targeted by %s", target, cmd.Kind)
		}
	}
	assert.Equal(t, []string{"VM2"}, sent[len(sent)-1].Targets)
}

func TestConvergenceAttemptsAreBounded(t *testing.T) {
	for budget := 0; budget <= 6; budget++ {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
		ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

		opts := DefaultConvergenceOptions()
		opts.MaxAttempts = budget

		loop, _ := newTestLoop(cluster, ch, nil, opts)
		result, err := loop.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, budget, result.Attempts)
		assert.Equal(t, budget+1, result.Rounds)
		assert.LessOrEqual(t, result.Rounds, budget+1)

		prev := 0
		for _, rec := range result.Commands {
			assert.GreaterOrEqual(t, rec.Attempt, prev, "attempt counter must not decrease")
			prev = rec.Attempt
		}
	}
}

func TestConvergenceBackoffGrows(t *testing.T) {
	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	opts := DefaultConvergenceOptions()
	opts.MaxAttempts = 4
	opts.Backoff = BackoffOptions{Initial: time.Second, Max: 4 * time.Second, Factor: 2}

	loop, s := newTestLoop(cluster, ch, nil, opts)
	_, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, s.waits)
}

func TestConvergenceFailures(t *testing.T) {
	t.Run("sample error is fatal", func(t *testing.T) {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
		cluster.listVMsErr = &prism.TransportError{Op: "list-vms", URL: "https://pc:9440", Err: errBoom}
		cluster.listVMsErrAt = 2
		ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

		loop, _ := newTestLoop(cluster, ch, nil, DefaultConvergenceOptions())
		result, err := loop.Run(context.Background())
		require.Error(t, err)

		assert.Equal(t, ErrorClassTransport, ClassOf(err))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, OutcomeFailed, result.Outcome)
		assert.Equal(t, 1, result.Attempts)
	})

	t.Run("send error is fatal", func(t *testing.T) {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}

		loop, _ := newTestLoop(cluster, &failingChannel{sendErr: errBoom}, nil, DefaultConvergenceOptions())
		result, err := loop.Run(context.Background())
		require.Error(t, err)

		assert.Equal(t, ErrorClassCommand, ClassOf(err))
		assert.Equal(t, OutcomeFailed, result.Outcome)
		assert.Equal(t, 0, result.Attempts)
	})

	t.Run("non-zero exit is fatal", func(t *testing.T) {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}

		loop, _ := newTestLoop(cluster, &failingChannel{exitCode: 3}, nil, DefaultConvergenceOptions())
		_, err := loop.Run(context.Background())
		require.Error(t, err)

		var cmdErr *remote.CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, 3, cmdErr.ExitCode)
		assert.Equal(t, ErrorClassCommand, ClassOf(err))
	})

	t.Run("invalid target name is refused", func(t *testing.T) {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("web,db", prism.PowerStateOn)}}
		ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

		loop, _ := newTestLoop(cluster, ch, nil, DefaultConvergenceOptions())
		_, err := loop.Run(context.Background())
		require.Error(t, err)

		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, ErrCodeInvalidCommand, runErr.Code)
		assert.Empty(t, ch.Sent())
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		cluster := newMockCluster()
		cluster.vmRounds = [][]prism.VM{{testVM("VM1", prism.PowerStateOn)}}
		ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

		ctx, cancel := context.WithCancel(context.Background())
		loop := NewConvergenceLoop(cluster, ch, nil, DefaultConvergenceOptions(), nil)
		loop.sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}

		_, err := loop.Run(ctx)
		require.Error(t, err)
		assert.Equal(t, ErrorClassCancelled, ClassOf(err))
		assert.Len(t, ch.Sent(), 1)
	})
}

func TestConvergenceTelemetry(t *testing.T) {
	tel := telemetry.Noop()
	recorder := &telemetry.Recorder{}
	tel.Events.Subscribe(recorder.Record, nil)

	cluster := newMockCluster()
	cluster.vmRounds = [][]prism.VM{
		{testVM("VM1", prism.PowerStateOn), testVM("VM2", prism.PowerStateOn)},
		{testVM("VM1", prism.PowerStateOff), testVM("VM2", prism.PowerStateOff)},
	}
	ch := remote.NewDryRunChannel(telemetry.NopLogger().Zerolog())

	loop := NewConvergenceLoop(cluster, ch, nil, DefaultConvergenceOptions(), tel)
	loop.sleep = (&noSleep{}).sleep

	ctx := ContextWithRunID(context.Background(), "run-7")
	_, err := loop.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		telemetry.EventTypeSampled,
		telemetry.EventTypeCommandSent,
		telemetry.EventTypeSampled,
		telemetry.EventTypeConverged,
	}, recorder.Types())
	for _, e := range recorder.Events() {
		assert.Equal(t, "run-7", e.RunID)
		assert.Equal(t, string(PhaseConverge), e.Phase)
	}

	reg := tel.Metrics.Registry()
	require.NotNil(t, reg)
	count, err := testutil.GatherAndCount(reg, "powerdown_convergence_rounds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
