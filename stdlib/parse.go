package stdlib

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

func parseImports() []abi.ImportDescriptor {
	return []abi.ImportDescriptor{
		abi.Import("atoi", "i:p", atoi),
		abi.Import("atof", "F:p", atof),
		abi.Import("strtol", "i:ppi", strtol),
		abi.Import("strtod", "F:pp", strtod),
	}
}

func isSpace(c byte) bool {
	return c == ' ' || (c >= '\t' && c <= '\r')
}

func digitVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

// ParseInt parses the longest integer prefix of s the way strtol does and
// returns the value saturated to int32 and the number of bytes consumed.
// No digits means zero consumed. base 0 selects 8, 10 or 16 from the
// prefix.
func ParseInt(s string, base int) (int32, int) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	if (base == 0 || base == 16) && i+2 < len(s) && s[i] == '0' && s[i+1]|0x20 == 'x' && digitVal(s[i+2]) < 16 {
		i += 2
		base = 16
	} else if base == 0 {
		base = 10
		if i < len(s) && s[i] == '0' {
			base = 8
		}
	}
	if base < 2 || base > 36 {
		return 0, 0
	}

	start := i
	var acc uint64
	for i < len(s) {
		d := digitVal(s[i])
		if d >= base {
			break
		}
		// Past 2^32 the result saturates anyway; stop accumulating.
		if acc <= 1<<32 {
			acc = acc*uint64(base) + uint64(d)
		}
		i++
	}
	if i == start {
		return 0, 0
	}

	if neg {
		if acc > -math.MinInt32 {
			return math.MinInt32, i
		}
		return int32(-int64(acc)), i
	}
	if acc > math.MaxInt32 {
		return math.MaxInt32, i
	}
	return int32(acc), i
}

// ParseFloat parses the longest floating point prefix of s the way strtod
// does, including inf, infinity and nan. Out of range values become ±Inf
// or zero.
func ParseFloat(s string) (float64, int) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	start := i
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}

	rest := strings.ToLower(s[i:])
	switch {
	case strings.HasPrefix(rest, "infinity"):
		return signed(s[start], math.Inf(1)), i + 8
	case strings.HasPrefix(rest, "inf"):
		return signed(s[start], math.Inf(1)), i + 3
	case strings.HasPrefix(rest, "nan"):
		return math.NaN(), i + 3
	}

	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	digits := j - i
	if j < len(s) && s[j] == '.' {
		j++
		k := j
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		digits += j - k
	}
	if digits == 0 {
		return 0, 0
	}
	if j < len(s) && s[j]|0x20 == 'e' {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		if k < len(s) && s[k] >= '0' && s[k] <= '9' {
			for k < len(s) && s[k] >= '0' && s[k] <= '9' {
				k++
			}
			j = k
		}
	}

	f, err := strconv.ParseFloat(s[start:j], 64)
	if err != nil && !isRange(err) {
		return 0, 0
	}
	return f, j
}

func signed(c byte, f float64) float64 {
	if c == '-' {
		return -f
	}
	return f
}

func isRange(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

func atoi(_ context.Context, c *abi.Call) error {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	s, err := memory.CString(c.Memory, p)
	if err != nil {
		return err
	}
	v, _ := ParseInt(s, 10)
	return c.Frame.Return(value.I32(v))
}

func atof(_ context.Context, c *abi.Call) error {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	s, err := memory.CString(c.Memory, p)
	if err != nil {
		return err
	}
	f, _ := ParseFloat(s)
	return c.Frame.Return(value.F64(f))
}

// writeEnd stores str+n through endp unless endp is null.
func writeEnd(mem memory.Linear, endp, str uint32, n int) error {
	if endp == 0 {
		return nil
	}
	return memory.WriteU32(mem, endp, str+uint32(n))
}

func strtol(_ context.Context, c *abi.Call) error {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	endp, err := c.Frame.Ptr(1)
	if err != nil {
		return err
	}
	base, err := c.Frame.I32(2)
	if err != nil {
		return err
	}
	s, err := memory.CString(c.Memory, p)
	if err != nil {
		return err
	}
	v, n := ParseInt(s, int(base))
	if err := writeEnd(c.Memory, endp, p, n); err != nil {
		return err
	}
	return c.Frame.Return(value.I32(v))
}

func strtod(_ context.Context, c *abi.Call) error {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	endp, err := c.Frame.Ptr(1)
	if err != nil {
		return err
	}
	s, err := memory.CString(c.Memory, p)
	if err != nil {
		return err
	}
	f, n := ParseFloat(s)
	if err := writeEnd(c.Memory, endp, p, n); err != nil {
		return err
	}
	return c.Frame.Return(value.F64(f))
}
