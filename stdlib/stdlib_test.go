package stdlib

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/modhost/abi"
	mherrors "github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

func newMem(t *testing.T) *memory.Buffer {
	t.Helper()
	b, err := memory.NewBuffer(1, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	return b
}

func kindOf(err error) mherrors.Kind {
	var e *mherrors.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func putString(mem *memory.Buffer, off uint32, s string) uint32 {
	copy(mem.Bytes()[off:], s)
	mem.Bytes()[off+uint32(len(s))] = 0
	return off
}

func call(t *testing.T, mem memory.Linear, name string, args ...value.Value) (value.Value, error) {
	t.Helper()
	d, ok := Table().Lookup(name)
	if !ok {
		t.Fatalf("%s not in table", name)
	}
	f := value.NewFrameValues(args, d.Signature.Results)
	err := d.Thunk(context.Background(), &abi.Call{Memory: mem, Frame: f, Module: "test"})
	v, _ := f.Result()
	return v, err
}

func TestTableNames(t *testing.T) {
	for _, name := range []string{"sinf", "atan2f", "sqrt", "memcpy", "strlen", "atoi", "strtod", "snprintf", "vsnprintf"} {
		d, ok := Table().Lookup(name)
		if !ok {
			t.Errorf("%s missing", name)
			continue
		}
		if strings.HasPrefix(d.Name, abi.TrapPrefix) {
			t.Errorf("%s carries the trap prefix", name)
		}
	}
}

func TestMath(t *testing.T) {
	mem := newMem(t)

	tests := []struct {
		name string
		args []value.Value
		want float64
	}{
		{"sqrtf", []value.Value{value.F32(16)}, 4},
		{"floorf", []value.Value{value.F32(-1.5)}, -2},
		{"ceilf", []value.Value{value.F32(1.25)}, 2},
		{"fabsf", []value.Value{value.F32(-3)}, 3},
		{"atan2f", []value.Value{value.F32(1), value.F32(1)}, math.Pi / 4},
		{"powf", []value.Value{value.F32(2), value.F32(10)}, 1024},
		{"sqrt", []value.Value{value.F64(2)}, math.Sqrt2},
		{"pow", []value.Value{value.F64(3), value.F64(3)}, 27},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := call(t, mem, tt.name, tt.args...)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			var got float64
			switch v.Tag() {
			case value.TagF32:
				f, _ := v.AsF32()
				got = float64(f)
			case value.TagF64:
				got, _ = v.AsF64()
			}
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMemRoutines(t *testing.T) {
	mem := newMem(t)
	a := putString(mem, 0x100, "abcdef")
	b := putString(mem, 0x200, "abcxyz")

	v, err := call(t, mem, "memcmp", value.U32(a), value.U32(b), value.U32(3))
	if err != nil || v != value.I32(0) {
		t.Fatalf("memcmp 3 = %v, %v", v, err)
	}
	v, _ = call(t, mem, "memcmp", value.U32(a), value.U32(b), value.U32(4))
	if v != value.I32(-1) {
		t.Errorf("memcmp 4 = %v, want -1", v)
	}
	v, _ = call(t, mem, "strncmp", value.U32(b), value.U32(a), value.U32(10))
	if v != value.I32(1) {
		t.Errorf("strncmp = %v, want 1", v)
	}

	v, err = call(t, mem, "strlen", value.U32(a))
	if err != nil || v != value.U32(6) {
		t.Errorf("strlen = %v, %v", v, err)
	}

	if _, err := call(t, mem, "memset", value.U32(0x300), value.I32('x'), value.U32(4)); err != nil {
		t.Fatal(err)
	}
	if got := string(mem.Bytes()[0x300:0x304]); got != "xxxx" {
		t.Errorf("memset wrote %q", got)
	}

	// overlapping copy behaves like memmove
	if _, err := call(t, mem, "memcpy", value.U32(a+1), value.U32(a), value.U32(5)); err != nil {
		t.Fatal(err)
	}
	if got := string(mem.Bytes()[a : a+6]); got != "aabcde" {
		t.Errorf("memcpy overlap = %q", got)
	}
}

func TestMemRoutinesFault(t *testing.T) {
	mem := newMem(t)
	end := uint32(memory.PageSize)

	tests := []struct {
		name string
		fn   string
		args []value.Value
		kind mherrors.Kind
	}{
		{"memcpy null dst", "memcpy", []value.Value{value.U32(0), value.U32(16), value.U32(4)}, mherrors.KindNullPointer},
		{"memcpy past end", "memcpy", []value.Value{value.U32(16), value.U32(end - 2), value.U32(4)}, mherrors.KindOutOfBounds},
		{"memset past end", "memset", []value.Value{value.U32(end - 2), value.I32(0), value.U32(4)}, mherrors.KindOutOfBounds},
		{"strlen null", "strlen", []value.Value{value.U32(0)}, mherrors.KindNullPointer},
		{"memcmp huge length", "memcmp", []value.Value{value.U32(16), value.U32(32), value.U32(math.MaxUint32)}, mherrors.KindOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, mem, tt.fn, tt.args...)
			if kindOf(err) != tt.kind {
				t.Fatalf("err = %v, want kind %s", err, tt.kind)
			}
			if !mherrors.IsSandboxFault(err) {
				t.Errorf("not a sandbox fault: %v", err)
			}
		})
	}
}

func TestUnterminatedString(t *testing.T) {
	mem := newMem(t)
	end := uint32(memory.PageSize)
	copy(mem.Bytes()[end-4:], "abcd")

	if _, err := call(t, mem, "strlen", value.U32(end-4)); kindOf(err) != mherrors.KindOutOfBounds {
		t.Errorf("strlen err = %v", err)
	}
	// a bounded compare may stop at the limit
	v, err := call(t, mem, "strncmp", value.U32(end-4), value.U32(end-4), value.U32(4))
	if err != nil || v != value.I32(0) {
		t.Errorf("strncmp = %v, %v", v, err)
	}
	if _, err := call(t, mem, "strncmp", value.U32(end-4), value.U32(end-4), value.U32(8)); kindOf(err) != mherrors.KindOutOfBounds {
		t.Errorf("strncmp past end err = %v", err)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		base int
		want int32
		n    int
	}{
		{"42", 10, 42, 2},
		{"  -17xyz", 10, -17, 5},
		{"+8", 10, 8, 2},
		{"0x1F", 0, 31, 4},
		{"0x1F", 16, 31, 4},
		{"017", 0, 15, 3},
		{"0", 0, 0, 1},
		{"0xg", 0, 0, 1},
		{"zz", 36, 1295, 2},
		{"abc", 10, 0, 0},
		{"", 10, 0, 0},
		{"99999999999999999999", 10, math.MaxInt32, 20},
		{"-99999999999999999999", 10, math.MinInt32, 21},
		{"2147483648", 10, math.MaxInt32, 10},
		{"-2147483648", 10, math.MinInt32, 11},
		{"12", 1, 0, 0},
	}
	for _, tt := range tests {
		got, n := ParseInt(tt.in, tt.base)
		if got != tt.want || n != tt.n {
			t.Errorf("ParseInt(%q, %d) = %d, %d; want %d, %d", tt.in, tt.base, got, n, tt.want, tt.n)
		}
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		n    int
	}{
		{"1.5", 1.5, 3},
		{"  -2.25e2rest", -225, 9},
		{".5", 0.5, 2},
		{"3.", 3, 2},
		{"1e", 1, 1},
		{"1e+", 1, 1},
		{"inf", math.Inf(1), 3},
		{"-Infinity", math.Inf(-1), 9},
		{"1e999", math.Inf(1), 5},
		{"x", 0, 0},
		{".", 0, 0},
	}
	for _, tt := range tests {
		got, n := ParseFloat(tt.in)
		if got != tt.want || n != tt.n {
			t.Errorf("ParseFloat(%q) = %v, %d; want %v, %d", tt.in, got, n, tt.want, tt.n)
		}
	}

	if f, n := ParseFloat("nan"); !math.IsNaN(f) || n != 3 {
		t.Errorf("ParseFloat(nan) = %v, %d", f, n)
	}
}

func TestStrtolEndPointer(t *testing.T) {
	mem := newMem(t)
	s := putString(mem, 0x100, "  123abc")

	v, err := call(t, mem, "strtol", value.U32(s), value.U32(0x200), value.I32(10))
	if err != nil || v != value.I32(123) {
		t.Fatalf("strtol = %v, %v", v, err)
	}
	end, _ := memory.ReadU32(mem, 0x200)
	if end != s+5 {
		t.Errorf("end = 0x%x, want 0x%x", end, s+5)
	}

	// null end pointer is allowed
	if _, err := call(t, mem, "strtol", value.U32(s), value.U32(0), value.I32(10)); err != nil {
		t.Errorf("strtol null endp: %v", err)
	}
	// misaligned end pointer is not
	if _, err := call(t, mem, "strtol", value.U32(s), value.U32(0x201), value.I32(10)); kindOf(err) != mherrors.KindMisaligned {
		t.Errorf("strtol misaligned endp err = %v", err)
	}

	d, err := call(t, mem, "strtod", value.U32(s), value.U32(0x200))
	if err != nil || d != value.F64(123) {
		t.Fatalf("strtod = %v, %v", d, err)
	}
}

const (
	fmtAt  = 0x100
	argsAt = 0x400
	strsAt = 0x800
	outAt  = 0x1000
)

// packArgs lays out C varargs the way wasm32 clang does.
func packArgs(mem *memory.Buffer, args ...any) {
	b := mem.Bytes()
	off := uint32(argsAt)
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			binary.LittleEndian.PutUint32(b[off:], uint32(v))
			off += 4
		case uint32:
			binary.LittleEndian.PutUint32(b[off:], v)
			off += 4
		case int64:
			off = (off + 7) &^ 7
			binary.LittleEndian.PutUint64(b[off:], uint64(v))
			off += 8
		case float64:
			off = (off + 7) &^ 7
			binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
			off += 8
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		format string
		args   []any
		want   string
	}{
		{"plain", nil, "plain"},
		{"%d %i", []any{int32(42), int32(-7)}, "42 -7"},
		{"%5d|%-5d|%05d", []any{int32(42), int32(42), int32(-42)}, "   42|42   |-0042"},
		{"%+d % d", []any{int32(5), int32(5)}, "+5  5"},
		{"%u", []any{int32(-1)}, "4294967295"},
		{"%x %X %#x %#x %o %#o", []any{int32(255), int32(255), int32(255), int32(0), int32(8), int32(8)}, "ff FF 0xff 0 10 010"},
		{"%hhd %hd", []any{int32(0x1ff), int32(0x18000)}, "-1 -32768"},
		{"%lld %llu", []any{int64(-1 << 40), int64(-1)}, "-1099511627776 18446744073709551615"},
		{"%d %f", []any{int32(1), float64(2.5)}, "1 2.500000"},
		{"%.2f %8.3f %-8.1f|", []any{3.14159, 3.14159, 3.14159}, "3.14    3.142 3.1     |"},
		{"%e %E", []any{12345.678, 0.00012}, "1.234568e+04 1.200000E-04"},
		{"%g %g %g %G", []any{0.0001, 0.00001, 100000.0, 1e20}, "0.0001 1e-05 100000 1E+20"},
		{"%.0g %#g", []any{12.0, 1.0}, "1e+01 1.00000"},
		{"%f %F %e %+f", []any{math.Inf(1), math.Inf(-1), math.NaN(), math.Inf(1)}, "inf -INF nan +inf"},
		{"%6f|", []any{math.Inf(1)}, "   inf|"},
		{"%c%c", []any{int32('o'), int32('k')}, "ok"},
		{"%3c|", []any{int32('z')}, "  z|"},
		{"100%%", nil, "100%"},
		{"%*d|%-*d|", []any{int32(4), int32(3), int32(3), int32(1)}, "   3|1  |"},
		{"%*d|", []any{int32(-3), int32(1)}, "1  |"},
		{"%.*f", []any{int32(1), 2.25}, "2.2"},
		{"%p", []any{uint32(0x10)}, "0x10"},
		{"%zu %ld %jd", []any{uint32(7), int32(-8), int64(9)}, "7 -8 9"},
		{"%y", nil, "%y"},
		{"trailing %", nil, "trailing "},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			mem := newMem(t)
			packArgs(mem, tt.args...)
			got, n, err := Format(mem, tt.format, argsAt, 1024)
			if err != nil {
				t.Fatalf("Format: %v", err)
			}
			if got != tt.want || n != len(tt.want) {
				t.Errorf("Format(%q) = %q, %d, want %q", tt.format, got, n, tt.want)
			}
		})
	}
}

func TestFormatClipsOutput(t *testing.T) {
	mem := newMem(t)
	packArgs(mem, int32('a'))
	format := strings.Repeat("%4096c", 10000)

	got, n, err := Format(mem, format, argsAt, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4096*10000 {
		t.Errorf("n = %d, want %d", n, 4096*10000)
	}
	if got != "       " {
		t.Errorf("kept %q", got)
	}
	if _, n, _ := Format(mem, "abc", argsAt, 0); n != 3 {
		t.Errorf("limit 0: n = %d", n)
	}

	putString(mem, fmtAt, strings.Repeat("%4096c", 100))
	v, err := call(t, mem, "snprintf", value.U32(outAt), value.U32(8), value.U32(fmtAt), value.U32(argsAt))
	if err != nil {
		t.Fatal(err)
	}
	if v != value.I32(4096*100) {
		t.Errorf("snprintf returned %v", v)
	}
	if got, _ := memory.CString(mem, outAt); got != "       " {
		t.Errorf("buffer = %q", got)
	}
}

func TestFormatStrings(t *testing.T) {
	mem := newMem(t)
	s := putString(mem, strsAt, "abcdef")
	packArgs(mem, s, s, s)

	got, _, err := Format(mem, "%s|%.3s|%8s|", argsAt, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if want := "abcdef|abc|  abcdef|"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatFaults(t *testing.T) {
	end := uint32(memory.PageSize)

	tests := []struct {
		name   string
		format string
		args   uint32
		setup  func(*memory.Buffer)
		kind   mherrors.Kind
	}{
		{"null string", "%s", argsAt, func(m *memory.Buffer) { packArgs(m, uint32(0)) }, mherrors.KindNullPointer},
		{"args past end", "%d", end - 2, nil, mherrors.KindOutOfBounds},
		{"double past end", "%f", end - 4, nil, mherrors.KindOutOfBounds},
		{"null args", "%d", 0, nil, mherrors.KindNullPointer},
		{"write back refused", "%n", argsAt, nil, mherrors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMem(t)
			if tt.setup != nil {
				tt.setup(mem)
			}
			_, _, err := Format(mem, tt.format, tt.args, 1024)
			if kindOf(err) != tt.kind {
				t.Fatalf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestSnprintf(t *testing.T) {
	tests := []struct {
		name    string
		size    uint32
		buf     uint32
		want    string
		written string
	}{
		{"fits", 32, outAt, "hello 42", "hello 42"},
		{"truncated", 4, outAt, "hello 42", "hel"},
		{"size one", 1, outAt, "hello 42", ""},
		{"capacity clamped to memory", 64, memory.PageSize - 5, "hello 42", "hell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMem(t)
			putString(mem, fmtAt, "hello %d")
			packArgs(mem, int32(42))

			v, err := call(t, mem, "snprintf", value.U32(tt.buf), value.U32(tt.size), value.U32(fmtAt), value.U32(argsAt))
			if err != nil {
				t.Fatalf("snprintf: %v", err)
			}
			if v != value.I32(int32(len(tt.want))) {
				t.Errorf("returned %v, want %d", v, len(tt.want))
			}
			got, err := memory.CString(mem, tt.buf)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.written {
				t.Errorf("buffer = %q, want %q", got, tt.written)
			}
		})
	}
}

func TestSnprintfSizeZero(t *testing.T) {
	mem := newMem(t)
	putString(mem, fmtAt, "abc")
	mem.Bytes()[outAt] = 'Z'

	// size 0 writes nothing, so even a null buffer is accepted
	for _, buf := range []uint32{outAt, 0} {
		v, err := call(t, mem, "snprintf", value.U32(buf), value.U32(0), value.U32(fmtAt), value.U32(argsAt))
		if err != nil {
			t.Fatalf("buf 0x%x: %v", buf, err)
		}
		if v != value.I32(3) {
			t.Errorf("buf 0x%x returned %v, want 3", buf, v)
		}
	}
	if mem.Bytes()[outAt] != 'Z' {
		t.Error("size 0 wrote to the buffer")
	}
}

func TestSnprintfNullBuffer(t *testing.T) {
	mem := newMem(t)
	putString(mem, fmtAt, "abc")

	_, err := call(t, mem, "vsnprintf", value.U32(0), value.U32(8), value.U32(fmtAt), value.U32(argsAt))
	if kindOf(err) != mherrors.KindNullPointer {
		t.Fatalf("err = %v, want null pointer", err)
	}
	_, err = call(t, mem, "vsnprintf", value.U32(outAt), value.U32(8), value.U32(0), value.U32(argsAt))
	if kindOf(err) != mherrors.KindNullPointer {
		t.Fatalf("null format err = %v", err)
	}
}
