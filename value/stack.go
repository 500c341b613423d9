package value

import "github.com/wippyai/modhost/errors"

// MaxStackDepth bounds the dispatcher's argument stack.
const MaxStackDepth = 64

// Stack is the push/pop value stack the dispatcher uses for export calls.
type Stack struct {
	slots []Value
}

// Push appends v. It fails once MaxStackDepth values are pending.
func (s *Stack) Push(v Value) error {
	if !v.Tag().Valid() {
		return errors.InvalidInput(errors.PhaseRuntime, "push of untagged value")
	}
	if len(s.slots) >= MaxStackDepth {
		return errors.New(errors.PhaseRuntime, errors.KindCapacity).
			Detail("value stack depth %d exceeded", MaxStackDepth).
			Build()
	}
	s.slots = append(s.slots, v)
	return nil
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (Value, error) {
	if len(s.slots) == 0 {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("pop from empty value stack").
			Build()
	}
	v := s.slots[len(s.slots)-1]
	s.slots = s.slots[:len(s.slots)-1]
	return v, nil
}

// Take removes the top n values and returns them in push order.
func (s *Stack) Take(n int) ([]Value, error) {
	if n > len(s.slots) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("need %d values, stack holds %d", n, len(s.slots)).
			Build()
	}
	out := make([]Value, n)
	copy(out, s.slots[len(s.slots)-n:])
	s.slots = s.slots[:len(s.slots)-n]
	return out, nil
}

// Len returns the number of pending values.
func (s *Stack) Len() int { return len(s.slots) }

// Reset drops every pending value.
func (s *Stack) Reset() { s.slots = s.slots[:0] }
