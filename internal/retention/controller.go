// Package retention runs the scheduled pruning loop and the per-user
// erasure ("right to be forgotten") flow.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// Config for the retention loop.
type Config struct {
	// Schedule is a cron expression; default "0 * * * *" (hourly).
	Schedule string `json:"schedule,omitempty"`
	// MaxAge is the prune cutoff; default 30 days.
	MaxAge time.Duration `json:"max_age,omitempty"`
}

func DefaultConfig() Config {
	return Config{Schedule: "0 * * * *", MaxAge: 30 * 24 * time.Hour}
}

type namedPrunable struct {
	name  string
	store store.Prunable
}

type namedErasable struct {
	name  string
	store store.Erasable
}

// Controller owns the prune loop and the erasure flow.
type Controller struct {
	cfg       Config
	emitter   *bus.Emitter
	prunables []namedPrunable
	erasables []namedErasable
}

func NewController(cfg Config, emitter *bus.Emitter) (*Controller, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid retention schedule: %q", cfg.Schedule)
	}
	return &Controller{cfg: cfg, emitter: emitter}, nil
}

// AddPrunable registers a store for scheduled pruning.
func (c *Controller) AddPrunable(name string, p store.Prunable) {
	c.prunables = append(c.prunables, namedPrunable{name: name, store: p})
}

// AddErasable registers a store for user erasure.
func (c *Controller) AddErasable(name string, e store.Erasable) {
	c.erasables = append(c.erasables, namedErasable{name: name, store: e})
}

// Run ticks on the configured schedule until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			due, err := gron.IsDue(c.cfg.Schedule, tick)
			if err != nil || !due {
				continue
			}
			c.PruneAll(ctx)
		}
	}
}

// PruneAll prunes every registered store once, returning total
// deletions.
func (c *Controller) PruneAll(ctx context.Context) int {
	total := 0
	for _, p := range c.prunables {
		n, err := p.store.Prune(ctx, c.cfg.MaxAge)
		if err != nil {
			slog.Warn("prune failed", "store", p.name, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("pruned expired data", "store", p.name, "deleted", n)
		}
		total += n
	}
	return total
}

// DeletionReport aggregates the outcome of a forget_user run.
type DeletionReport struct {
	UserID       string   `json:"user_id"`
	TotalDeleted int      `json:"total_deleted"`
	Errors       []string `json:"errors,omitempty"`
}

// ForgetUser erases the user's data from every registered Erasable,
// bracketed by DataDeletionInitiated/Completed events.
func (c *Controller) ForgetUser(ctx context.Context, userID string) DeletionReport {
	if c.emitter != nil {
		c.emitter.Emit(bus.NewEvent(protocol.EventDataDeletionInitiated, map[string]any{
			"user_id": userID,
		}).WithActor(userID))
	}

	report := DeletionReport{UserID: userID}
	for _, e := range c.erasables {
		n, err := e.store.EraseUser(ctx, userID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", e.name, err))
			continue
		}
		report.TotalDeleted += n
	}

	if c.emitter != nil {
		c.emitter.Emit(bus.NewEvent(protocol.EventDataDeletionCompleted, report).WithActor(userID))
	}
	slog.Info("user data erased",
		"user", userID, "deleted", report.TotalDeleted, "errors", len(report.Errors))
	return report
}
