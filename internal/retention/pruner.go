// Package retention periodically deletes data older than the retention horizon.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// PruneFunc deletes records older than cutoff and reports how many it removed.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int, error)

// Target is one prunable dataset.
type Target struct {
	Name  string
	Prune PruneFunc
}

// Report summarizes a single pruning pass.
type Report struct {
	Cutoff  time.Time      `json:"cutoff"`
	Removed map[string]int `json:"removed"`
}

// Pruner applies the retention horizon to every target on an interval.
type Pruner struct {
	targets  []Target
	horizon  time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

type Option func(*Pruner)

func WithInterval(d time.Duration) Option {
	return func(p *Pruner) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pruner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

func New(horizon time.Duration, targets []Target, opts ...Option) *Pruner {
	p := &Pruner{
		targets:  targets,
		horizon:  horizon,
		interval: time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Horizon returns the configured retention period.
func (p *Pruner) Horizon() time.Duration {
	return p.horizon
}

// Run prunes once immediately and then on every tick until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	p.pass(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *Pruner) pass(ctx context.Context) {
	if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.WarnContext(ctx, "retention pass incomplete", "error", err)
	}
}

// PruneOnce runs every target with cutoff = now - horizon. A failing target
// does not stop the others; their errors are joined. Callers that arrive while
// a pass is running (the ticker and an admin request) share its report.
func (p *Pruner) PruneOnce(ctx context.Context) (*Report, error) {
	v, err, _ := p.group.Do("prune", func() (any, error) {
		return p.pruneAll(ctx)
	})
	return v.(*Report), err
}

func (p *Pruner) pruneAll(ctx context.Context) (*Report, error) {
	cutoff := p.now().UTC().Add(-p.horizon)
	report := &Report{Cutoff: cutoff, Removed: make(map[string]int, len(p.targets))}

	var errs []error
	for _, t := range p.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		removed, err := t.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", t.Name, err))
			continue
		}
		report.Removed[t.Name] = removed
	}

	p.logger.InfoContext(ctx, "retention pass finished",
		"cutoff", cutoff,
		"removed", report.Removed,
		"failed", len(errs),
	)
	return report, errors.Join(errs...)
}
