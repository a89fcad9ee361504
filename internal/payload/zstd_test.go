package payload

import (
	"bytes"
	"testing"

	"github.com/talgya/fieldsim/internal/kernel"
)

func TestZstdRoundTrip(t *testing.T) {
	z, err := NewZstd(3)
	if err != nil {
		t.Fatalf("NewZstd() error = %v", err)
	}
	defer z.Close()

	src := bytes.Repeat([]byte("energy flows along links "), 200)
	enc, err := z.Encode(src)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(enc) >= len(src) {
		t.Errorf("encoded %d bytes from %d, expected compression", len(enc), len(src))
	}
	dec, err := z.Decode(enc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Error("round trip mismatch")
	}
}

func TestZstdRejectsGarbage(t *testing.T) {
	z, err := NewZstd(1)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()
	if _, err := z.Decode([]byte("not zstd at all")); err == nil {
		t.Error("Decode() accepted garbage")
	}
}

func TestEngineStoresCompressed(t *testing.T) {
	z, err := NewZstd(3)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()

	e, err := kernel.New(1000, kernel.WithCodec(z))
	if err != nil {
		t.Fatal(err)
	}
	u, err := e.CreateUnit(10)
	if err != nil {
		t.Fatal(err)
	}
	src := bytes.Repeat([]byte{7}, 8192)
	if err := e.SetPayload(u, src); err != nil {
		t.Fatalf("SetPayload() error = %v", err)
	}
	got, err := e.Payload(u)
	if err != nil || !bytes.Equal(got, src) {
		t.Fatalf("Payload() = %d bytes, %v", len(got), err)
	}
	// Entropy is charged on stored bytes, far less than 8 KiB worth.
	if e.Ledger().Entropy >= 1+0.05*8 {
		t.Errorf("entropy %v suggests the payload was stored uncompressed", e.Ledger().Entropy)
	}
}
