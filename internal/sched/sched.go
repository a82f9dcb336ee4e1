// Package sched implements the cooperative Clock & Scheduler: a
// single-threaded-logical driver with two nested cadences (poll, batch
// submit).
package sched

import (
	"context"
	"time"
)

// Cadences holds the configured intervals. Run is driven by Poll and
// BatchSubmit only; it does not read MetricEmit.
type Cadences struct {
	Poll         time.Duration
	MetricEmit   time.Duration
	BatchSubmit  time.Duration
}

// Hooks are invoked by Run at the points the component design describes.
// PollTick runs every poll interval; SubmitTick runs once the submit
// window has elapsed, after the poll that crosses it.
type Hooks struct {
	// PollTick is invoked once per poll cycle. Errors are logged by the
	// caller's wiring, not by the scheduler itself.
	PollTick func(ctx context.Context) error
	// SubmitTick is invoked when the batch submit interval has elapsed.
	SubmitTick func(ctx context.Context) error
}

// Scheduler drives the outer loop: run poll cycles until the submit window
// elapses, invoke the submitter, then continue. Sleep between polls is
// cooperative; ctx cancellation short-circuits each inner wait.
type Scheduler struct {
	cadences Cadences
	hooks    Hooks
	now      func() time.Time
}

// New constructs a Scheduler with the given cadences and hooks.
func New(cadences Cadences, hooks Hooks) *Scheduler {
	return &Scheduler{cadences: cadences, hooks: hooks, now: time.Now}
}

// Run blocks until ctx is canceled. On cancellation it finishes the
// current poll, performs one final submit, then returns — matching the
// cancellation contract in the concurrency model.
func (s *Scheduler) Run(ctx context.Context) error {
	lastSubmit := s.now()
	ticker := time.NewTicker(s.cadences.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.finalSubmit(context.Background())
		case <-ticker.C:
			if err := s.hooks.PollTick(ctx); err != nil {
				return err
			}

			if s.now().Sub(lastSubmit) >= s.cadences.BatchSubmit {
				if err := s.hooks.SubmitTick(ctx); err != nil {
					return err
				}
				lastSubmit = s.now()
			}
		}
	}
}

func (s *Scheduler) finalSubmit(ctx context.Context) error {
	if s.hooks.SubmitTick == nil {
		return nil
	}
	return s.hooks.SubmitTick(ctx)
}
