// Package bridge moves energy between engines. An outgoing Event is paid
// for by kernel.Emit on the sender and credited by kernel.Absorb on the
// receiver, so each engine stays conserved against its own baseline.
package bridge

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/talgya/fieldsim/internal/kernel"
)

// Event field numbers on the wire.
const (
	fieldID         protowire.Number = 1
	fieldEngine     protowire.Number = 2
	fieldSourceUnit protowire.Number = 3
	fieldTargetUnit protowire.Number = 4
	fieldEnergy     protowire.Number = 5
	fieldPayload    protowire.Number = 6
	fieldTick       protowire.Number = 7
)

// Ack field numbers on the wire.
const (
	fieldAccepted protowire.Number = 1
	fieldReason   protowire.Number = 2
)

// ErrMalformed is returned for frames that do not decode.
var ErrMalformed = errors.New("malformed frame")

// Event carries energy, and optionally a payload, from a unit in one engine
// to a unit in another.
type Event struct {
	ID           uuid.UUID     `json:"id"`
	SourceEngine uuid.UUID     `json:"source_engine"`
	SourceUnit   kernel.UnitID `json:"source_unit"`
	TargetUnit   kernel.UnitID `json:"target_unit"`
	Energy       float64       `json:"energy"`
	Payload      []byte        `json:"payload,omitempty"`
	Tick         uint64        `json:"tick"`
}

// Marshal encodes the event in protobuf wire format.
func (ev Event) Marshal() []byte {
	b := make([]byte, 0, 64+len(ev.Payload))
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, ev.ID[:])
	b = protowire.AppendTag(b, fieldEngine, protowire.BytesType)
	b = protowire.AppendBytes(b, ev.SourceEngine[:])
	b = protowire.AppendTag(b, fieldSourceUnit, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.SourceUnit))
	b = protowire.AppendTag(b, fieldTargetUnit, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.TargetUnit))
	b = protowire.AppendTag(b, fieldEnergy, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ev.Energy))
	if len(ev.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.Payload)
	}
	b = protowire.AppendTag(b, fieldTick, protowire.VarintType)
	b = protowire.AppendVarint(b, ev.Tick)
	return b
}

// UnmarshalEvent decodes an event. Unknown fields are skipped.
func UnmarshalEvent(b []byte) (Event, error) {
	var ev Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == fieldID || num == fieldEngine) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
			}
			if num == fieldID {
				ev.ID = id
			} else {
				ev.SourceEngine = id
			}
			b = b[n:]
		case (num == fieldSourceUnit || num == fieldTargetUnit || num == fieldTick) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			switch num {
			case fieldSourceUnit:
				ev.SourceUnit = kernel.UnitID(v)
			case fieldTargetUnit:
				ev.TargetUnit = kernel.UnitID(v)
			default:
				ev.Tick = v
			}
			b = b[n:]
		case num == fieldEnergy && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			ev.Energy = math.Float64frombits(v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			ev.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if ev.ID == uuid.Nil {
		return Event{}, fmt.Errorf("%w: missing event id", ErrMalformed)
	}
	return ev, nil
}

// ack is the receiver's answer to an event.
type ack struct {
	Accepted bool
	Reason   string
}

func (a ack) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAccepted, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(a.Accepted))
	if a.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, a.Reason)
	}
	return b
}

func unmarshalAck(b []byte) (ack, error) {
	var a ack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ack{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldAccepted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ack{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			a.Accepted = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldReason && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ack{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			a.Reason = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ack{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return a, nil
}
