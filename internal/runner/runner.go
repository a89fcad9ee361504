// Package runner owns a kernel.Engine on a single goroutine and drives it
// forward at a paced interval. Every other goroutine reaches the engine
// through the runner's mailbox.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/talgya/fieldsim/internal/kernel"
)

// pausePoll is how often a paused runner re-checks its speed.
const pausePoll = 100 * time.Millisecond

var (
	// ErrStopped is returned by Do once Run has returned.
	ErrStopped = errors.New("runner stopped")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("runner already running")
)

type request struct {
	fn   func(*kernel.Engine) error
	done chan error
}

// Runner drives an engine forward.
type Runner struct {
	Interval   time.Duration // base step interval, divided by speed
	EpochSteps uint64        // OnEpoch fires when tick % EpochSteps == 0
	MaxSteps   uint64        // Run returns after this many steps; 0 = unbounded

	// Callbacks run on the engine goroutine; set them before Run.
	OnStep  func(e *kernel.Engine, r kernel.Report)
	OnEpoch func(e *kernel.Engine, tick uint64)
	// OnTiming receives the wall time of each Step call.
	OnTiming func(d time.Duration)

	eng     *kernel.Engine
	speed   atomic.Uint64 // float64 bits
	running atomic.Bool
	steps   uint64

	mailbox chan request
	wake    chan struct{}
	stopped chan struct{}
}

// New wraps an engine. The caller must not touch e directly afterwards.
func New(e *kernel.Engine) *Runner {
	r := &Runner{
		Interval:   time.Second,
		EpochSteps: 100,
		eng:        e,
		mailbox:    make(chan request),
		wake:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}
	r.speed.Store(math.Float64bits(1.0))
	return r
}

// Speed returns the current multiplier. 0 means paused.
func (r *Runner) Speed() float64 {
	return math.Float64frombits(r.speed.Load())
}

// SetSpeed changes the multiplier; values <= 0 pause stepping. The mailbox
// keeps serving while paused.
func (r *Runner) SetSpeed(s float64) {
	if math.IsNaN(s) || s < 0 {
		s = 0
	}
	r.speed.Store(math.Float64bits(s))
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pause is SetSpeed(0).
func (r *Runner) Pause() { r.SetSpeed(0) }

// Do runs fn on the engine goroutine and waits for its result. It blocks
// until Run is serving the mailbox.
func (r *Runner) Do(ctx context.Context, fn func(*kernel.Engine) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case r.mailbox <- req:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs fn on the engine goroutine and returns its value.
func Query[T any](ctx context.Context, r *Runner, fn func(*kernel.Engine) T) (T, error) {
	var out T
	err := r.Do(ctx, func(e *kernel.Engine) error {
		out = fn(e)
		return nil
	})
	return out, err
}

// Advance steps the engine n times regardless of speed, firing callbacks,
// and returns the last report.
func (r *Runner) Advance(ctx context.Context, n int) (kernel.Report, error) {
	var last kernel.Report
	err := r.Do(ctx, func(*kernel.Engine) error {
		for i := 0; i < n; i++ {
			last = r.step()
		}
		return nil
	})
	return last, err
}

// Run serves the mailbox and steps the engine until ctx is cancelled or
// MaxSteps is reached. An invariant violation inside Step is not recovered.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(r.stopped)

	slog.Info("runner started", "tick", r.eng.Tick(), "speed", r.Speed(), "interval", r.Interval)

	timer := time.NewTimer(r.wait(0))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("runner stopped", "tick", r.eng.Tick(), "steps", r.steps)
			return nil

		case req := <-r.mailbox:
			req.done <- req.fn(r.eng)

		case <-r.wake:
			timer.Reset(r.wait(0))

		case <-timer.C:
			if r.Speed() <= 0 {
				timer.Reset(pausePoll)
				continue
			}
			start := time.Now()
			r.step()
			if r.MaxSteps > 0 && r.steps >= r.MaxSteps {
				slog.Info("runner reached step limit", "tick", r.eng.Tick(), "steps", r.steps)
				return nil
			}
			timer.Reset(r.wait(time.Since(start)))
		}
	}
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.stopped }

// wait is the delay before the next step, given how long the last one took.
func (r *Runner) wait(elapsed time.Duration) time.Duration {
	s := r.Speed()
	if s <= 0 {
		return pausePoll
	}
	d := time.Duration(float64(r.Interval)/s) - elapsed
	if d < 0 {
		return 0
	}
	return d
}

func (r *Runner) step() kernel.Report {
	t0 := time.Now()
	rep := r.eng.Step()
	r.steps++
	if r.OnTiming != nil {
		r.OnTiming(time.Since(t0))
	}

	if r.OnStep != nil {
		r.OnStep(r.eng, rep)
	}
	if r.EpochSteps > 0 && rep.Tick%r.EpochSteps == 0 {
		slog.Info("epoch",
			"tick", rep.Tick,
			"units", rep.Units,
			"links", rep.Links,
			"pool", rep.Pool,
			"entropy", rep.Entropy,
		)
		if r.OnEpoch != nil {
			r.OnEpoch(r.eng, rep.Tick)
		}
	}
	return rep
}
