// Package encoding holds the block payload codec shared by the chunk stores.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrLength = errors.New("encoding: decoded length mismatch")

// maxRun caps a single run so a pair always fits a uint32 counter.
const maxRun = 1<<31 - 1

// AppendRLE appends the run-length encoding of ids to dst. The payload is
// uvarint (block_id, run_len) pairs.
func AppendRLE(dst []byte, ids []uint16) []byte {
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == b && run < maxRun {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		dst = append(dst, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		dst = append(dst, tmp[:n]...)
		i += run
	}
	return dst
}

func EncodeRLE(ids []uint16) []byte { return AppendRLE(nil, ids) }

// DecodeRLE expands raw into exactly want block ids. want < 0 accepts any
// length.
func DecodeRLE(raw []byte, want int) ([]uint16, error) {
	var out []uint16
	if want > 0 {
		out = make([]uint16, 0, want)
	}
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad block varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad run varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		if run == 0 {
			return nil, fmt.Errorf("empty run at %d", i)
		}
		if want >= 0 && uint64(len(out))+run > uint64(want) {
			return nil, fmt.Errorf("%w: more than %d ids", ErrLength, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	if want >= 0 && len(out) != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrLength, len(out), want)
	}
	return out, nil
}
