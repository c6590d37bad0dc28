// Package maintenance runs background housekeeping for a running server.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Target drops old snapshot generations. *collection.Manager satisfies it.
type Target interface {
	Prune(ctx context.Context, keep int) (int, error)
}

// Status is the outcome of the most recent run.
type Status struct {
	LastRun     time.Time
	LastRemoved int
	LastError   string
	Runs        int
}

// Pruner prunes generations on a cron schedule.
type Pruner struct {
	target   Target
	schedule string
	keep     int
	logger   *log.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
	status  Status
}

// NewPruner validates schedule (standard five-field cron or an @descriptor)
// and returns a stopped Pruner.
func NewPruner(target Target, schedule string, keep int, logger *log.Logger) (*Pruner, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if keep < 0 {
		return nil, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Pruner{
		target:   target,
		schedule: schedule,
		keep:     keep,
		logger:   logger,
		cron:     cron.New(),
	}, nil
}

// ValidateSchedule reports whether schedule parses as a cron spec.
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules the prune job.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pruner is already running")
	}
	if _, err := p.cron.AddFunc(p.schedule, func() { p.RunNow(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule prune: %w", err)
	}
	p.cron.Start()
	p.running = true
	p.logger.Info("prune scheduled", "schedule", p.schedule, "keep", p.keep)
	return nil
}

// Stop halts the schedule and waits up to 30s for a running job.
func (p *Pruner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	select {
	case <-p.cron.Stop().Done():
	case <-time.After(30 * time.Second):
		p.logger.Warn("prune stop timed out")
	}
}

// RunNow prunes immediately and records the outcome.
func (p *Pruner) RunNow(ctx context.Context) Status {
	n, err := p.target.Prune(ctx, p.keep)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastRun = time.Now()
	p.status.LastRemoved = n
	p.status.LastError = ""
	p.status.Runs++
	if err != nil {
		p.status.LastError = err.Error()
		p.logger.Error("prune failed", "err", err)
	}
	return p.status
}

// Status returns the outcome of the most recent run.
func (p *Pruner) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
