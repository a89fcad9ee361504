package bridge

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEventWireRoundTrip(t *testing.T) {
	ev := Event{
		ID:           uuid.New(),
		SourceEngine: uuid.New(),
		SourceUnit:   7,
		TargetUnit:   300,
		Energy:       12.625,
		Payload:      []byte{0, 1, 2, 3},
		Tick:         99,
	}
	got, err := UnmarshalEvent(ev.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEvent() error = %v", err)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Errorf("round trip = %+v, want %+v", got, ev)
	}
}

func TestEventSkipsUnknownFields(t *testing.T) {
	ev := Event{ID: uuid.New(), TargetUnit: 2, Energy: 1}
	b := ev.Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer peer")

	got, err := UnmarshalEvent(b)
	if err != nil {
		t.Fatalf("UnmarshalEvent() error = %v", err)
	}
	if got.TargetUnit != 2 || got.Energy != 1 {
		t.Errorf("decoded %+v", got)
	}
}

func TestEventMalformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated": Event{ID: uuid.New()}.Marshal()[:5],
		"no id":     protowire.AppendVarint(protowire.AppendTag(nil, fieldTick, protowire.VarintType), 1),
		"garbage":   {0xff, 0xff, 0xff},
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := UnmarshalEvent(frame); !errors.Is(err, ErrMalformed) {
				t.Errorf("UnmarshalEvent() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestAckRoundTrip(t *testing.T) {
	if err := readAck(ack{Accepted: true}.marshal()); err != nil {
		t.Errorf("accepted ack = %v", err)
	}
	err := readAck(ack{Reason: "unknown unit"}.marshal())
	if !errors.Is(err, ErrRejected) {
		t.Errorf("rejected ack = %v, want ErrRejected", err)
	}
}
