// Package retention prunes old usage events on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/conduit/pkg/usage"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep events. 0 keeps
	// everything.
	RetentionDays int

	// PruneSchedule is a cron expression, e.g. "0 4 * * *".
	PruneSchedule string

	// ArchivePath, when set, receives a JSON file of the pruned events
	// before they are deleted.
	ArchivePath string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 0,
		PruneSchedule: "0 4 * * *",
	}
}

// Pruner enforces the retention period on a ledger.
type Pruner struct {
	ledger    *usage.Ledger
	config    *Config
	days      func(ctx context.Context) int
	now       func() time.Time
	logger    *slog.Logger
	scheduler *Scheduler
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithRetentionSource reads the retention period at each prune instead of
// using Config.RetentionDays, so runtime changes take effect.
func WithRetentionSource(fn func(ctx context.Context) int) Option {
	return func(p *Pruner) { p.days = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

// NewPruner creates a pruner for ledger.
func NewPruner(ledger *usage.Ledger, config *Config, opts ...Option) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Pruner{
		ledger: ledger,
		config: config,
		now:    time.Now,
		logger: slog.Default().With("component", "usage.retention"),
	}
	p.days = func(context.Context) int { return p.config.RetentionDays }
	for _, opt := range opts {
		opt(p)
	}
	p.scheduler = NewScheduler(p)
	return p
}

// RetentionDays returns the retention period in effect.
func (p *Pruner) RetentionDays(ctx context.Context) int {
	return p.days(ctx)
}

// Prune removes events older than the retention period and returns how
// many were removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	days := p.days(ctx)
	if days <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}
	cutoff := p.now().AddDate(0, 0, -days)

	if p.config.ArchivePath != "" {
		if err := p.archive(cutoff); err != nil {
			return 0, fmt.Errorf("archive before prune failed: %w", err)
		}
	}

	removed, err := p.ledger.PruneBefore(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("prune failed: %w", err)
	}
	if removed > 0 {
		p.logger.Info("usage events pruned", "deleted_count", removed, "retention_days", days)
	}
	return removed, nil
}

func (p *Pruner) archive(cutoff time.Time) error {
	old := p.ledger.Events(usage.Range{End: cutoff.Add(-time.Nanosecond)})
	if len(old) == 0 {
		return nil
	}
	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(p.config.ArchivePath, fmt.Sprintf("usage-%s.json", p.now().Format("2006-01-02-150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if err := usage.WriteJSON(f, old, true); err != nil {
		return err
	}
	p.logger.Info("usage events archived", "archive_file", path, "record_count", len(old))
	return nil
}

// Start starts the pruning schedule.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the pruning schedule.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the next scheduled run, or nil.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
