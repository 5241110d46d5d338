package encoding

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10, 0xFFFF)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_CompressesUniformChunk(t *testing.T) {
	in := make([]uint16, 8*8*8)
	if got := len(EncodeRLE(in)); got > 4 {
		t.Fatalf("uniform chunk encoded to %d bytes", got)
	}
}

func TestRLE_LengthMismatch(t *testing.T) {
	enc := EncodeRLE([]uint16{4, 4, 4})
	if _, err := DecodeRLE(enc, 2); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength for short want, got %v", err)
	}
	if _, err := DecodeRLE(enc, 5); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength for long want, got %v", err)
	}
	if _, err := DecodeRLE([]byte{0x80}, -1); err == nil {
		t.Fatalf("expected truncated varint error")
	}
}

func TestRLE_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.SliceOf(rapid.Uint16Range(0, 6)).Draw(rt, "ids")
		out, err := DecodeRLE(EncodeRLE(in), len(in))
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		if len(out) != len(in) {
			rt.Fatalf("len %d want %d", len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				rt.Fatalf("mismatch at %d", i)
			}
		}
	})
}
