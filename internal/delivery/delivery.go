// Package delivery implements a retrying action-invocation primitive,
// generalized from the reference daemon's internal/target.Executor.Run
// retry-with-backoff loop (attempt counter, exponential sleep between
// attempts, no delay after the final attempt) into a reusable shape
// that doesn't know about tmux commands.
package delivery

import (
	"context"
	"sync/atomic"
	"time"
)

// Config configures one Delivery instance.
type Config struct {
	Action      func() error
	MaxRetries  int
	BaseDelay   time.Duration
	Confirm     func() bool
	OnExhausted func()
	OnDelivered func()
}

// Delivery invokes Action with bounded retries and exponential
// backoff, optionally gated by a Confirm predicate.
type Delivery struct {
	cfg Config

	delivered atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config) *Delivery {
	return &Delivery{cfg: cfg}
}

// Deliver invokes Action. A successful Action still counts as
// unconfirmed unless Confirm (if set) returns true; unconfirmed
// attempts consume retries identically to failures. Returns true on
// confirmed delivery, false on exhaustion.
func (d *Delivery) Deliver(ctx context.Context) bool {
	attempts := d.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err := d.cfg.Action()
		if err == nil && (d.cfg.Confirm == nil || d.cfg.Confirm()) {
			d.delivered.Add(1)
			if d.cfg.OnDelivered != nil {
				d.cfg.OnDelivered()
			}
			return true
		}

		if attempt == attempts-1 {
			break
		}
		backoff := d.cfg.BaseDelay << attempt
		select {
		case <-ctx.Done():
			d.failed.Add(1)
			return false
		case <-time.After(backoff):
		}
	}
	d.failed.Add(1)
	if d.cfg.OnExhausted != nil {
		d.cfg.OnExhausted()
	}
	return false
}

func (d *Delivery) DeliveredCount() int64 { return d.delivered.Load() }
func (d *Delivery) FailedCount() int64    { return d.failed.Load() }
