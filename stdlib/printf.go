package stdlib

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

// maxField caps width and precision so a module cannot make the host
// render arbitrarily large strings.
const maxField = 4096

func formatImports() []abi.ImportDescriptor {
	return []abi.ImportDescriptor{
		abi.Import("snprintf", "i:pupp", snprintf),
		abi.Import("vsnprintf", "i:pupp", snprintf),
	}
}

// varargs walks a wasm32 C vararg buffer. int, long and pointers take 4
// byte slots; long long and double take 8 byte slots aligned to 8. Every
// slot is validated on its own.
type varargs struct {
	mem memory.Linear
	off uint32
}

func (a *varargs) slot(size uint32) (uint32, error) {
	a.off = (a.off + size - 1) &^ (size - 1)
	p := a.off
	if _, err := memory.Translate(a.mem, p, size, 1, size); err != nil {
		return 0, err
	}
	a.off += size
	return p, nil
}

func (a *varargs) i32() (int32, error) {
	p, err := a.slot(4)
	if err != nil {
		return 0, err
	}
	return memory.ReadI32(a.mem, p)
}

func (a *varargs) u64() (uint64, error) {
	p, err := a.slot(8)
	if err != nil {
		return 0, err
	}
	return memory.ReadU64(a.mem, p)
}

func (a *varargs) f64() (float64, error) {
	p, err := a.slot(8)
	if err != nil {
		return 0, err
	}
	return memory.ReadF64(a.mem, p)
}

type spec struct {
	flags  string
	length string
	width  int
	prec   int
	conv   byte
}

func (s spec) has(flag byte) bool { return strings.IndexByte(s.flags, flag) >= 0 }

func (s spec) without(drop string) spec {
	var b strings.Builder
	for i := 0; i < len(s.flags); i++ {
		if strings.IndexByte(drop, s.flags[i]) < 0 {
			b.WriteByte(s.flags[i])
		}
	}
	s.flags = b.String()
	return s
}

// verb renders the directive as a fmt verb with conversion c.
func (s spec) verb(c byte) string {
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(s.flags)
	if s.width >= 0 {
		b.WriteString(strconv.Itoa(s.width))
	}
	if s.prec >= 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(s.prec))
	}
	b.WriteByte(c)
	return b.String()
}

func clampField(n int) int {
	if n > maxField {
		return maxField
	}
	return n
}

// clipWriter keeps the first limit bytes written to it and only counts
// the rest.
type clipWriter struct {
	buf   []byte
	limit int
	n     int
}

func (w *clipWriter) WriteString(s string) (int, error) {
	w.n += len(s)
	if room := w.limit - len(w.buf); room > 0 {
		w.buf = append(w.buf, s[:min(room, len(s))]...)
	}
	return len(s), nil
}

func (w *clipWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	if room := w.limit - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (w *clipWriter) WriteByte(c byte) error {
	w.n++
	if len(w.buf) < w.limit {
		w.buf = append(w.buf, c)
	}
	return nil
}

// Format expands a C format string, reading arguments from the vararg
// buffer at args. At most limit bytes of the expansion are returned; n is
// the full length, which is what C's snprintf reports. %n is refused.
func Format(mem memory.Linear, format string, args uint32, limit int) (string, int, error) {
	va := &varargs{mem: mem, off: args}
	out := &clipWriter{limit: max(limit, 0)}

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			out.WriteByte(format[i])
			continue
		}
		start := i
		i++

		s := spec{width: -1, prec: -1}
		for i < len(format) && strings.IndexByte("-+ 0#", format[i]) >= 0 {
			s.flags += string(format[i])
			i++
		}

		if i < len(format) && format[i] == '*' {
			w, err := va.i32()
			if err != nil {
				return "", 0, err
			}
			if w < 0 {
				s.flags += "-"
				w = -w
			}
			s.width = clampField(int(w))
			i++
		} else {
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				s.width = clampField(max(s.width, 0)*10 + int(format[i]-'0'))
				i++
			}
		}

		if i < len(format) && format[i] == '.' {
			i++
			s.prec = 0
			if i < len(format) && format[i] == '*' {
				p, err := va.i32()
				if err != nil {
					return "", 0, err
				}
				s.prec = -1
				if p >= 0 {
					s.prec = clampField(int(p))
				}
				i++
			} else {
				for i < len(format) && format[i] >= '0' && format[i] <= '9' {
					s.prec = clampField(s.prec*10 + int(format[i]-'0'))
					i++
				}
			}
		}

		for _, l := range []string{"hh", "ll", "h", "l", "j", "z", "t", "L"} {
			if strings.HasPrefix(format[i:], l) {
				s.length = l
				i += len(l)
				break
			}
		}
		if i >= len(format) {
			break
		}
		s.conv = format[i]

		if err := s.render(out, va, mem, format[start:i+1]); err != nil {
			return "", 0, err
		}
	}
	return string(out.buf), out.n, nil
}

func (s spec) wide() bool { return s.length == "ll" || s.length == "j" }

func (s spec) render(out *clipWriter, va *varargs, mem memory.Linear, raw string) error {
	switch s.conv {
	case 'd', 'i':
		var v int64
		if s.wide() {
			u, err := va.u64()
			if err != nil {
				return err
			}
			v = int64(u)
		} else {
			x, err := va.i32()
			if err != nil {
				return err
			}
			switch s.length {
			case "hh":
				v = int64(int8(x))
			case "h":
				v = int64(int16(x))
			default:
				v = int64(x)
			}
		}
		fmt.Fprintf(out, s.without("#").verb('d'), v)

	case 'u', 'x', 'X', 'o':
		var v uint64
		if s.wide() {
			u, err := va.u64()
			if err != nil {
				return err
			}
			v = u
		} else {
			x, err := va.i32()
			if err != nil {
				return err
			}
			switch s.length {
			case "hh":
				v = uint64(uint8(x))
			case "h":
				v = uint64(uint16(x))
			default:
				v = uint64(uint32(x))
			}
		}
		t := s.without("+ ")
		c := s.conv
		if c == 'u' {
			c = 'd'
			t = t.without("#")
		}
		if v == 0 && c != 'o' {
			t = t.without("#")
		}
		fmt.Fprintf(out, t.verb(c), v)

	case 'c':
		x, err := va.i32()
		if err != nil {
			return err
		}
		t := s.without("0+ #")
		t.prec = -1
		fmt.Fprintf(out, t.verb('s'), string([]byte{byte(x)}))

	case 's':
		x, err := va.i32()
		if err != nil {
			return err
		}
		p := uint32(x)
		var str string
		if s.prec >= 0 {
			b, err := boundedCString(mem, p, uint32(s.prec))
			if err != nil {
				return err
			}
			str = string(b)
		} else {
			str, err = memory.CString(mem, p)
			if err != nil {
				return err
			}
		}
		t := s.without("0+ #")
		t.prec = -1
		fmt.Fprintf(out, t.verb('s'), str)

	case 'p':
		x, err := va.i32()
		if err != nil {
			return err
		}
		t := s.without("0+ #")
		t.prec = -1
		fmt.Fprintf(out, t.verb('s'), "0x"+strconv.FormatUint(uint64(uint32(x)), 16))

	case 'f', 'F', 'e', 'E', 'g', 'G':
		f, err := va.f64()
		if err != nil {
			return err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			out.WriteString(s.nonFinite(f))
			return nil
		}
		t := s
		if t.prec < 0 && (t.conv == 'g' || t.conv == 'G') {
			t.prec = 6
		}
		c := t.conv
		if c == 'F' {
			c = 'f'
		}
		fmt.Fprintf(out, t.verb(c), f)

	case '%':
		out.WriteByte('%')

	case 'n':
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("%%n conversions are not supported").Build()

	default:
		out.WriteString(raw)
	}
	return nil
}

func (s spec) nonFinite(f float64) string {
	var str string
	switch {
	case math.IsNaN(f):
		str = "nan"
	case f < 0:
		str = "-inf"
	default:
		str = "inf"
	}
	if f > 0 || math.IsNaN(f) {
		if s.has('+') {
			str = "+" + str
		} else if s.has(' ') {
			str = " " + str
		}
	}
	if s.conv >= 'A' && s.conv <= 'Z' {
		str = strings.ToUpper(str)
	}
	t := s.without("0+ #")
	t.prec = -1
	return fmt.Sprintf(t.verb('s'), str)
}

func snprintf(_ context.Context, c *abi.Call) error {
	buf, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	size, err := c.Frame.U32(1)
	if err != nil {
		return err
	}
	fmtp, err := c.Frame.Ptr(2)
	if err != nil {
		return err
	}
	args, err := c.Frame.Ptr(3)
	if err != nil {
		return err
	}

	format, err := memory.CString(c.Memory, fmtp)
	if err != nil {
		return err
	}

	// size 0 writes nothing, so buf is not checked
	var capacity uint32
	if size > 0 {
		rem, err := memory.Remaining(c.Memory, buf)
		if err != nil {
			return err
		}
		capacity = size
		if rem < uint64(capacity) {
			capacity = uint32(rem)
		}
	}

	keep := 0
	if capacity > 0 {
		keep = int(capacity) - 1
	}
	s, n, err := Format(c.Memory, format, args, keep)
	if err != nil {
		return err
	}
	if capacity > 0 {
		if _, err := memory.WriteCString(c.Memory, buf, capacity, s); err != nil {
			return err
		}
	}

	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return c.Frame.Return(value.I32(int32(n)))
}
