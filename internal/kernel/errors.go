package kernel

import (
	"errors"
	"fmt"

	"github.com/talgya/fieldsim/internal/laws"
)

// Recoverable domain errors. A call that returns one of these leaves the
// engine untouched.
var (
	ErrInsufficientPool           = errors.New("insufficient pool energy")
	ErrInsufficientEnergy         = errors.New("insufficient unit energy")
	ErrInsufficientObserverEnergy = errors.New("insufficient observer energy")
	ErrUnknownUnit                = errors.New("unknown unit")
	ErrUnknownLink                = errors.New("unknown link")
	ErrInvalidCoupling            = errors.New("coupling outside [0,1]")
	ErrInvalidDecay               = errors.New("decay outside [0,1)")
	ErrInvalidStability           = errors.New("stability outside [0,1]")
	ErrInvalidAmount              = errors.New("invalid energy amount")
	ErrNoObserver                 = errors.New("engine has no observer unit")
	ErrObserverUnit               = errors.New("observer unit moves energy only by nudge")
	ErrIncompatibleMerge          = errors.New("units cannot merge")
	ErrInvalidState               = errors.New("invalid engine state")
)

// ErrSelfLink is reported when a link would join a unit to itself. It is an
// unknown-unit error: the target does not resolve to a second live unit.
var ErrSelfLink = fmt.Errorf("%w: self-link", ErrUnknownUnit)

// InvariantViolation is the panic value of a breached conservation law.
type InvariantViolation = laws.Violation
