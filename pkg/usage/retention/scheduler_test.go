package retention

import (
	"context"
	"testing"

	"mercator-hq/conduit/pkg/usage"
)

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{"valid daily schedule", "0 4 * * *", true, false},
		{"valid hourly schedule", "0 * * * *", true, false},
		{"empty schedule - no error, not running", "", false, false},
		{"invalid schedule", "invalid cron", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := usage.NewLedger(nil)
			defer l.Close()
			pruner := NewPruner(l, &Config{PruneSchedule: tt.schedule, RetentionDays: 90})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := pruner.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if pruner.scheduler.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", pruner.scheduler.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning && pruner.NextPruning() == nil {
				t.Error("NextPruning() returned nil for running scheduler")
			}

			pruner.Stop()
			if pruner.scheduler.IsRunning() {
				t.Error("scheduler still running after Stop()")
			}
		})
	}
}
