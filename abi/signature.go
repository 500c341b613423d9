package abi

import (
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/value"
)

// Signature is a parsed type signature mask.
//
// A mask is written "<results>:<params>" with one letter per value:
//
//	i  i32        u  u32
//	I  i64        U  u64
//	f  f32        F  f64
//	p  pointer (module-relative u32 offset)
//	v  no result (results side only, alone)
//
// "f:f" is float(float), "i:ppu" is int(ptr, ptr, u32), "v:" is void(void).
type Signature struct {
	Mask    string
	Params  []value.Tag
	Results []value.Tag
	// Pointers marks which params are module pointers.
	Pointers []bool
}

// ParseSignature parses a mask.
func ParseSignature(mask string) (Signature, error) {
	res, par, ok := strings.Cut(mask, ":")
	if !ok {
		return Signature{}, badMask(mask, "missing ':' separator")
	}

	sig := Signature{Mask: mask}

	if res != "v" {
		for i := 0; i < len(res); i++ {
			tag, _, ok := letterTag(res[i])
			if !ok {
				return Signature{}, badMask(mask, "invalid result letter "+string(res[i]))
			}
			sig.Results = append(sig.Results, tag)
		}
	}
	if len(sig.Results) > 1 {
		return Signature{}, badMask(mask, "at most one result")
	}

	for i := 0; i < len(par); i++ {
		tag, ptr, ok := letterTag(par[i])
		if !ok {
			return Signature{}, badMask(mask, "invalid param letter "+string(par[i]))
		}
		sig.Params = append(sig.Params, tag)
		sig.Pointers = append(sig.Pointers, ptr)
	}
	return sig, nil
}

// MustSignature is ParseSignature for static tables.
func MustSignature(mask string) Signature {
	sig, err := ParseSignature(mask)
	if err != nil {
		panic(err)
	}
	return sig
}

func letterTag(c byte) (value.Tag, bool, bool) {
	switch c {
	case 'i':
		return value.TagI32, false, true
	case 'u':
		return value.TagU32, false, true
	case 'p':
		return value.TagU32, true, true
	case 'I':
		return value.TagI64, false, true
	case 'U':
		return value.TagU64, false, true
	case 'f':
		return value.TagF32, false, true
	case 'F':
		return value.TagF64, false, true
	}
	return value.TagInvalid, false, false
}

func badMask(mask, detail string) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidInput).
		Symbol(mask).
		Detail("signature mask: %s", detail).
		Build()
}

// WasmParams returns the core wasm parameter types.
func (s Signature) WasmParams() []api.ValueType {
	return wasmTypes(s.Params)
}

// WasmResults returns the core wasm result types.
func (s Signature) WasmResults() []api.ValueType {
	return wasmTypes(s.Results)
}

func wasmTypes(tags []value.Tag) []api.ValueType {
	if len(tags) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(tags))
	for i, t := range tags {
		out[i] = t.WasmType()
	}
	return out
}

// Matches reports whether a wasm function type carries this signature.
// Signedness is not visible in wasm types, so i and u both match i32.
func (s Signature) Matches(params, results []api.ValueType) bool {
	return sameTypes(s.WasmParams(), params) && sameTypes(s.WasmResults(), results)
}

// Accepts reports whether args carry exactly the declared parameter tags.
func (s Signature) Accepts(args []value.Value) bool {
	if len(args) != len(s.Params) {
		return false
	}
	for i, a := range args {
		if a.Tag() != s.Params[i] {
			return false
		}
	}
	return true
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WasmMask renders a wasm function type in mask notation, for diagnostics.
func WasmMask(params, results []api.ValueType) string {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteByte('v')
	}
	for _, r := range results {
		b.WriteByte(wasmLetter(r))
	}
	b.WriteByte(':')
	for _, p := range params {
		b.WriteByte(wasmLetter(p))
	}
	return b.String()
}

func wasmLetter(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI32:
		return 'i'
	case api.ValueTypeI64:
		return 'I'
	case api.ValueTypeF32:
		return 'f'
	case api.ValueTypeF64:
		return 'F'
	}
	return '?'
}
