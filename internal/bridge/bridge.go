package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/fieldsim/internal/kernel"
)

// Executor runs a function with exclusive access to an engine.
// *runner.Runner satisfies it.
type Executor interface {
	Do(ctx context.Context, fn func(*kernel.Engine) error) error
}

// Bridge connects one engine to a transport.
type Bridge struct {
	exec Executor
	tr   Transport

	// OnSent and OnReceived observe settled events; optional.
	OnSent     func(ev Event)
	OnReceived func(ev Event)
}

// New wires exec's engine to tr and starts serving incoming events.
func New(exec Executor, tr Transport) *Bridge {
	b := &Bridge{exec: exec, tr: tr}
	tr.Serve(b.receive)
	return b
}

// Addr is the transport address peers send to.
func (b *Bridge) Addr() string { return b.tr.Addr() }

// Send emits amount from unit to target on the engine at addr. The unit's
// payload travels with the energy when withPayload is set. If delivery
// fails the energy is absorbed back into unit.
func (b *Bridge) Send(ctx context.Context, addr string, unit, target kernel.UnitID, amount float64, withPayload bool) (Event, error) {
	ev := Event{
		ID:         uuid.New(),
		SourceUnit: unit,
		TargetUnit: target,
		Energy:     amount,
	}
	err := b.exec.Do(ctx, func(e *kernel.Engine) error {
		if withPayload {
			p, err := e.Payload(unit)
			if err != nil {
				return err
			}
			ev.Payload = p
		}
		ev.SourceEngine = e.ID()
		ev.Tick = e.Tick()
		return e.Emit(unit, amount)
	})
	if err != nil {
		return Event{}, fmt.Errorf("emit: %w", err)
	}

	if err := b.tr.Send(ctx, addr, ev); err != nil {
		refund := b.exec.Do(context.WithoutCancel(ctx), func(e *kernel.Engine) error {
			return e.Absorb(unit, amount)
		})
		if refund != nil {
			// The unit retired between emit and refund.
			slog.Warn("bridge refund failed", "event", ev.ID, "unit", unit, "error", refund)
		}
		return Event{}, fmt.Errorf("send %s: %w", ev.ID, err)
	}

	slog.Debug("bridge event sent", "event", ev.ID, "to", addr, "unit", unit, "target", target, "energy", amount)
	if b.OnSent != nil {
		b.OnSent(ev)
	}
	return ev, nil
}

func (b *Bridge) receive(ctx context.Context, ev Event) error {
	if !kernel.ValidAmount(ev.Energy) {
		return fmt.Errorf("%w: energy %v", kernel.ErrInvalidAmount, ev.Energy)
	}
	err := b.exec.Do(ctx, func(e *kernel.Engine) error {
		if ev.SourceEngine == e.ID() {
			return errors.New("event from self")
		}
		if _, ok := e.Unit(ev.TargetUnit); !ok {
			return fmt.Errorf("%w: %s", kernel.ErrUnknownUnit, ev.TargetUnit)
		}
		if ev.TargetUnit == e.ObserverID() {
			return fmt.Errorf("%w: %s", kernel.ErrObserverUnit, ev.TargetUnit)
		}
		// Absorb cannot fail past this point.
		if len(ev.Payload) > 0 {
			if err := e.SetPayload(ev.TargetUnit, ev.Payload); err != nil {
				return err
			}
		}
		return e.Absorb(ev.TargetUnit, ev.Energy)
	})
	if err != nil {
		slog.Warn("bridge event rejected", "event", ev.ID, "from", ev.SourceEngine, "error", err)
		return err
	}
	slog.Debug("bridge event absorbed", "event", ev.ID, "from", ev.SourceEngine, "target", ev.TargetUnit, "energy", ev.Energy)
	if b.OnReceived != nil {
		b.OnReceived(ev)
	}
	return nil
}

// Close stops the transport.
func (b *Bridge) Close() error { return b.tr.Close() }
