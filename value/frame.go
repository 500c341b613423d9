package value

import (
	"strconv"

	"github.com/wippyai/modhost/errors"
)

// Frame is the slot-indexed argument/return view handed to a thunk.
// Slots hold the raw wazero encoding; params and results carry the tags the
// import signature declares, so every read and write is tag checked.
type Frame struct {
	slots   []uint64
	params  []Tag
	results []Tag
}

// NewFrame wraps a wazero host-function stack. The stack must be at least
// max(len(params), len(results)) long, as wazero guarantees.
func NewFrame(slots []uint64, params, results []Tag) *Frame {
	return &Frame{slots: slots, params: params, results: results}
}

// NewFrameValues builds a frame from already tagged arguments. It is used
// by native modules and tests, where no wazero stack exists.
func NewFrameValues(args []Value, results []Tag) *Frame {
	n := len(args)
	if len(results) > n {
		n = len(results)
	}
	f := &Frame{
		slots:   make([]uint64, n),
		params:  make([]Tag, len(args)),
		results: results,
	}
	for i, a := range args {
		f.slots[i] = a.Raw()
		f.params[i] = a.Tag()
	}
	return f
}

// NumArgs returns the number of declared arguments.
func (f *Frame) NumArgs() int { return len(f.params) }

// Arg returns argument i tagged by the signature.
func (f *Frame) Arg(i int) (Value, error) {
	if i < 0 || i >= len(f.params) || i >= len(f.slots) {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("argument slot %d of %d", i, len(f.params)).
			Build()
	}
	return FromRaw(f.params[i], f.slots[i])
}

func (f *Frame) typed(i int, want Tag) (Value, error) {
	v, err := f.Arg(i)
	if err != nil {
		return Value{}, err
	}
	if v.Tag() != want {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Path("arg" + strconv.Itoa(i)).
			Detail("want %s, signature declares %s", want, v.Tag()).
			Build()
	}
	return v, nil
}

func (f *Frame) I32(i int) (int32, error) {
	v, err := f.typed(i, TagI32)
	if err != nil {
		return 0, err
	}
	return v.AsI32()
}

func (f *Frame) U32(i int) (uint32, error) {
	v, err := f.typed(i, TagU32)
	if err != nil {
		return 0, err
	}
	return v.AsU32()
}

func (f *Frame) I64(i int) (int64, error) {
	v, err := f.typed(i, TagI64)
	if err != nil {
		return 0, err
	}
	return v.AsI64()
}

func (f *Frame) F32(i int) (float32, error) {
	v, err := f.typed(i, TagF32)
	if err != nil {
		return 0, err
	}
	return v.AsF32()
}

func (f *Frame) F64(i int) (float64, error) {
	v, err := f.typed(i, TagF64)
	if err != nil {
		return 0, err
	}
	return v.AsF64()
}

// Ptr reads argument i as a module-relative offset. Pointers travel as u32.
func (f *Frame) Ptr(i int) (uint32, error) {
	return f.U32(i)
}

// Return writes the result into slot 0. The tag must match the declared result.
func (f *Frame) Return(v Value) error {
	if len(f.results) == 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "function declares no result")
	}
	if v.Tag() != f.results[0] {
		return errors.TypeMismatch(errors.PhaseRuntime, f.results[0].String(), v.Tag().String())
	}
	f.slots[0] = v.Raw()
	return nil
}

// Result returns the value written by Return, tagged by the declared result.
func (f *Frame) Result() (Value, bool) {
	if len(f.results) == 0 || len(f.slots) == 0 {
		return Value{}, false
	}
	v, err := FromRaw(f.results[0], f.slots[0])
	return v, err == nil
}
