package memory

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/modhost/errors"
)

func ReadU32(mem Linear, offset uint32) (uint32, error) {
	b, err := Translate(mem, offset, 4, 1, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func WriteU32(mem Linear, offset, v uint32) error {
	b, err := Translate(mem, offset, 4, 1, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func ReadI32(mem Linear, offset uint32) (int32, error) {
	v, err := ReadU32(mem, offset)
	return int32(v), err
}

func WriteI32(mem Linear, offset uint32, v int32) error {
	return WriteU32(mem, offset, uint32(v))
}

func ReadF32(mem Linear, offset uint32) (float32, error) {
	v, err := ReadU32(mem, offset)
	return math.Float32frombits(v), err
}

func WriteF32(mem Linear, offset uint32, v float32) error {
	return WriteU32(mem, offset, math.Float32bits(v))
}

func ReadU64(mem Linear, offset uint32) (uint64, error) {
	b, err := Translate(mem, offset, 8, 1, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func ReadF64(mem Linear, offset uint32) (float64, error) {
	v, err := ReadU64(mem, offset)
	return math.Float64frombits(v), err
}

// CString reads a NUL-terminated string starting at offset. The terminator
// must lie inside committed memory.
func CString(mem Linear, offset uint32) (string, error) {
	n, err := Remaining(mem, offset)
	if err != nil {
		return "", err
	}
	b, err := Translate(mem, offset, 1, uint32(n), 1)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return "", errors.New(errors.PhaseSandbox, errors.KindOutOfBounds).
		Value(offset).
		Detail("string at 0x%x is not terminated inside committed memory", offset).
		Build()
}

// WriteCString copies s into the capacity bytes at offset, truncating as
// needed and always writing a terminator when capacity > 0. It returns the
// number of bytes written, excluding the terminator.
func WriteCString(mem Linear, offset, capacity uint32, s string) (int, error) {
	if capacity == 0 {
		return 0, nil
	}
	b, err := Translate(mem, offset, 1, capacity, 1)
	if err != nil {
		return 0, err
	}
	n := copy(b[:capacity-1], s)
	b[n] = 0
	return n, nil
}
