// Package value implements the tagged value that crosses the host/module
// boundary: arguments, return values and dispatcher stack slots.
//
// A Value always carries its Tag. Accessors check the tag before reading the
// payload, so an i32 can never be read back as an f32 by accident.
package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/modhost/errors"
)

// Tag identifies the payload kind of a Value.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagU32
	TagI32
	TagU64
	TagI64
	TagF32
	TagF64
)

var tagNames = [...]string{
	TagInvalid: "invalid",
	TagU32:     "u32",
	TagI32:     "i32",
	TagU64:     "u64",
	TagI64:     "i64",
	TagF32:     "f32",
	TagF64:     "f64",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "tag(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the six payload kinds.
func (t Tag) Valid() bool {
	return t >= TagU32 && t <= TagF64
}

// WasmType returns the core wasm value type that carries t.
func (t Tag) WasmType() api.ValueType {
	switch t {
	case TagU64, TagI64:
		return api.ValueTypeI64
	case TagF32:
		return api.ValueTypeF32
	case TagF64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// Value is a tagged 32/64-bit integer or float.
// The zero Value is invalid and every accessor rejects it.
type Value struct {
	bits uint64
	tag  Tag
}

func U32(v uint32) Value  { return Value{tag: TagU32, bits: uint64(v)} }
func I32(v int32) Value   { return Value{tag: TagI32, bits: uint64(uint32(v))} }
func U64(v uint64) Value  { return Value{tag: TagU64, bits: v} }
func I64(v int64) Value   { return Value{tag: TagI64, bits: uint64(v)} }
func F32(v float32) Value { return Value{tag: TagF32, bits: uint64(math.Float32bits(v))} }
func F64(v float64) Value { return Value{tag: TagF64, bits: math.Float64bits(v)} }

// FromRaw tags a wazero stack slot. The slot encoding is the one used by
// api.EncodeI32, api.EncodeF32 and friends.
func FromRaw(tag Tag, raw uint64) (Value, error) {
	switch tag {
	case TagU32, TagI32, TagF32:
		return Value{tag: tag, bits: raw & 0xffffffff}, nil
	case TagU64, TagI64, TagF64:
		return Value{tag: tag, bits: raw}, nil
	}
	return Value{}, errors.TypeMismatch(errors.PhaseRuntime, "valid tag", tag.String())
}

// Tag returns the value's discriminant.
func (v Value) Tag() Tag { return v.tag }

// Raw returns the wazero stack slot encoding of v.
func (v Value) Raw() uint64 { return v.bits }

func (v Value) check(want Tag) error {
	if v.tag != want {
		return errors.TypeMismatch(errors.PhaseRuntime, want.String(), v.tag.String())
	}
	return nil
}

func (v Value) AsU32() (uint32, error) {
	if err := v.check(TagU32); err != nil {
		return 0, err
	}
	return uint32(v.bits), nil
}

func (v Value) AsI32() (int32, error) {
	if err := v.check(TagI32); err != nil {
		return 0, err
	}
	return int32(uint32(v.bits)), nil
}

func (v Value) AsU64() (uint64, error) {
	if err := v.check(TagU64); err != nil {
		return 0, err
	}
	return v.bits, nil
}

func (v Value) AsI64() (int64, error) {
	if err := v.check(TagI64); err != nil {
		return 0, err
	}
	return int64(v.bits), nil
}

func (v Value) AsF32() (float32, error) {
	if err := v.check(TagF32); err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v.bits)), nil
}

func (v Value) AsF64() (float64, error) {
	if err := v.check(TagF64); err != nil {
		return 0, err
	}
	return math.Float64frombits(v.bits), nil
}

// String renders v as "tag:payload".
func (v Value) String() string {
	switch v.tag {
	case TagU32:
		return "u32:" + strconv.FormatUint(v.bits&0xffffffff, 10)
	case TagI32:
		return "i32:" + strconv.FormatInt(int64(int32(uint32(v.bits))), 10)
	case TagU64:
		return "u64:" + strconv.FormatUint(v.bits, 10)
	case TagI64:
		return "i64:" + strconv.FormatInt(int64(v.bits), 10)
	case TagF32:
		return "f32:" + strconv.FormatFloat(float64(math.Float32frombits(uint32(v.bits))), 'g', -1, 32)
	case TagF64:
		return "f64:" + strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64)
	}
	return "invalid"
}

// Parse reads a value written as "tag:payload", the form String produces.
// A bare integer is taken as i32 and a bare decimal as f32.
func Parse(s string) (Value, error) {
	tagPart, payload, ok := strings.Cut(s, ":")
	if !ok {
		if i, err := strconv.ParseInt(s, 0, 32); err == nil {
			return I32(int32(i)), nil
		}
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return F32(float32(f)), nil
		}
		return Value{}, errors.InvalidInput(errors.PhaseRuntime, "cannot parse value "+strconv.Quote(s))
	}

	var (
		v   Value
		err error
	)
	switch tagPart {
	case "u32":
		var n uint64
		n, err = strconv.ParseUint(payload, 0, 32)
		v = U32(uint32(n))
	case "i32":
		var n int64
		n, err = strconv.ParseInt(payload, 0, 32)
		v = I32(int32(n))
	case "u64":
		var n uint64
		n, err = strconv.ParseUint(payload, 0, 64)
		v = U64(n)
	case "i64":
		var n int64
		n, err = strconv.ParseInt(payload, 0, 64)
		v = I64(n)
	case "f32":
		var f float64
		f, err = strconv.ParseFloat(payload, 32)
		v = F32(float32(f))
	case "f64":
		var f float64
		f, err = strconv.ParseFloat(payload, 64)
		v = F64(f)
	default:
		return Value{}, errors.InvalidInput(errors.PhaseRuntime, "unknown value tag "+strconv.Quote(tagPart))
	}
	if err != nil {
		return Value{}, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "parse "+s)
	}
	return v, nil
}
