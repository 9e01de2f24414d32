package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffStep(t *testing.T) {
	tests := []struct {
		name string
		opts BackoffOptions
		want []time.Duration
	}{
		{
			name: "grows to cap",
			opts: BackoffOptions{Initial: time.Second, Max: 5 * time.Second, Factor: 2},
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name: "flat when factor is below one",
			opts: BackoffOptions{Initial: time.Second, Max: time.Minute, Factor: 0.5},
			want: []time.Duration{time.Second, time.Second, time.Second},
		},
		{
			name: "max below initial",
			opts: BackoffOptions{Initial: 3 * time.Second, Max: time.Second, Factor: 2},
			want: []time.Duration{3 * time.Second, 3 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.opts.newBackoff()
			for i, want := range tt.want {
				if got := b.Step(); got != want {
					t.Errorf("step %d = %s, want %s", i, got, want)
				}
			}
		})
	}
}

func TestBackoffJitter(t *testing.T) {
	b := BackoffOptions{Initial: time.Second, Max: time.Second, Factor: 1, Jitter: 0.5}.newBackoff()
	for i := 0; i < 20; i++ {
		d := b.Step()
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("step %d = %s, outside [1s, 1.5s]", i, d)
		}
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
