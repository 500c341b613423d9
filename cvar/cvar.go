// Package cvar holds the host's global configuration variables.
//
// Variables are created by the host or on demand by modules, changed from
// the console, config files or module traps, and every effective change is
// pushed to subscribers. Modules never poll; the module registry subscribes
// and re-mirrors changed values into each module's local copy.
package cvar

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wippyai/modhost/errors"
)

// Flags qualify a variable's behavior.
type Flags uint32

const (
	Archive     Flags = 1 << iota // saved by Archive
	UserInfo                      // sent with client user info
	ServerInfo                    // sent in server info
	SystemInfo                    // duplicated on all clients
	Init                          // only settable before Seal
	Latch                         // changes take effect on CommitLatched
	ROM                           // never settable by Set
	UserCreated                   // created by a set command
	Temp                          // never archived
	Cheat                         // only settable while cheats are enabled
	NoRestart                     // not cleared on restart
	VMCreated                     // created by a module registration
)

var flagNames = []struct {
	f Flags
	n string
}{
	{Archive, "archive"}, {UserInfo, "userinfo"}, {ServerInfo, "serverinfo"},
	{SystemInfo, "systeminfo"}, {Init, "init"}, {Latch, "latch"}, {ROM, "rom"},
	{UserCreated, "user"}, {Temp, "temp"}, {Cheat, "cheat"},
	{NoRestart, "norestart"}, {VMCreated, "vm"},
}

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.n)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// Var is a host-global variable. Modules reference it through glue records
// and never own it.
type Var struct {
	// Changed runs after each effective change of this variable.
	Changed func(*Var)

	Name              string
	String            string
	ResetString       string
	LatchedString     string
	Value             float32
	Integer           int32
	Flags             Flags
	ModificationCount int32
	Handle            uint32
	Modified          bool
	latched           bool
}

// Snapshot is a copy of a variable's observable state.
type Snapshot struct {
	Name              string
	String            string
	Value             float32
	Integer           int32
	Flags             Flags
	ModificationCount int32
	Handle            uint32
}

// Local is a native module's mirror of a variable. Modified is raised by
// every propagated change; the module clears it when it has reacted.
type Local struct {
	String            string
	Value             float32
	Integer           int32
	Flags             Flags
	ModificationCount int32
	Handle            uint32
	Modified          bool
}

// Store copies a snapshot into the mirror.
func (l *Local) Store(s Snapshot) error {
	if l.ModificationCount != s.ModificationCount {
		l.Modified = true
	}
	l.Handle = s.Handle
	l.String = s.String
	l.Value = s.Value
	l.Integer = s.Integer
	l.Flags = s.Flags
	l.ModificationCount = s.ModificationCount
	return nil
}

// Snapshot returns the variable's current state.
func (v *Var) Snapshot() Snapshot {
	return Snapshot{
		Name:              v.Name,
		String:            v.String,
		Value:             v.Value,
		Integer:           v.Integer,
		Flags:             v.Flags,
		ModificationCount: v.ModificationCount,
		Handle:            v.Handle,
	}
}

func (v *Var) assign(s string) {
	v.String = s
	v.Value, v.Integer = parseNumber(s)
	v.Modified = true
	v.ModificationCount++
}

// parseNumber mirrors atof/atoi semantics: a leading number is taken and
// anything after it is ignored.
func parseNumber(s string) (float32, int32) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && strings.IndexByte("+-0123456789.eE", s[end]) >= 0 {
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			i := math.Trunc(f)
			if i > math.MaxInt32 {
				i = math.MaxInt32
			} else if i < math.MinInt32 {
				i = math.MinInt32
			}
			return float32(f), int32(i)
		}
		end--
	}
	return 0, 0
}

// Subscriber receives every effective variable change.
type Subscriber func(*Var)

// Registry owns all host variables. It is safe for concurrent use, though
// the engine drives it from a single logic goroutine.
type Registry struct {
	vars        map[string]*Var
	byHandle    []*Var
	subscribers []Subscriber
	mu          sync.Mutex
	sealed      bool
	cheats      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{vars: make(map[string]*Var)}
}

// ValidName reports whether name can be used as a variable name.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "\\\";")
}

func key(name string) string { return strings.ToLower(name) }

// Subscribe registers fn for change notifications.
func (r *Registry) Subscribe(fn Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Seal marks the end of startup; Init variables become read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// SetCheats toggles whether Cheat variables may change.
func (r *Registry) SetCheats(enabled bool) {
	r.mu.Lock()
	r.cheats = enabled
	r.mu.Unlock()
}

// Get returns the variable or nil.
func (r *Registry) Get(name string) *Var {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vars[key(name)]
}

// ByHandle returns the variable with the given handle or nil.
func (r *Registry) ByHandle(h uint32) *Var {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.byHandle) {
		return nil
	}
	return r.byHandle[h-1]
}

// GetOrCreate returns the named variable, creating it with defaultValue if
// it does not exist. For an existing variable flags are merged and the
// default becomes its reset value unless it was user created.
func (r *Registry) GetOrCreate(name, defaultValue string, flags Flags) (*Var, error) {
	if !ValidName(name) {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Symbol(name).Detail("invalid cvar name").Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.vars[key(name)]; ok {
		if v.Flags&UserCreated != 0 && flags&UserCreated == 0 {
			v.Flags &^= UserCreated
			v.ResetString = defaultValue
		} else if v.ResetString == "" {
			v.ResetString = defaultValue
		}
		v.Flags |= flags &^ UserCreated
		return v, nil
	}

	v := &Var{
		Name:        name,
		ResetString: defaultValue,
		Flags:       flags,
		Handle:      uint32(len(r.byHandle) + 1),
	}
	v.assign(defaultValue)
	r.vars[key(name)] = v
	r.byHandle = append(r.byHandle, v)
	return v, nil
}

// Set changes a variable from the console, a config file or a module.
// Unknown names are created with UserCreated.
func (r *Registry) Set(name, val string) error {
	return r.set(name, val, false)
}

// ForceSet changes a variable ignoring ROM, Init, Latch and Cheat.
func (r *Registry) ForceSet(name, val string) error {
	return r.set(name, val, true)
}

func (r *Registry) set(name, val string, force bool) error {
	if !ValidName(name) {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Symbol(name).Detail("invalid cvar name").Build()
	}

	r.mu.Lock()
	v, ok := r.vars[key(name)]
	if !ok {
		r.mu.Unlock()
		if _, err := r.GetOrCreate(name, val, UserCreated); err != nil {
			return err
		}
		return nil
	}

	if !force {
		switch {
		case v.Flags&ROM != 0:
			r.mu.Unlock()
			return readOnly(name, "read only")
		case v.Flags&Init != 0 && r.sealed:
			r.mu.Unlock()
			return readOnly(name, "write protected after startup")
		case v.Flags&Cheat != 0 && !r.cheats:
			r.mu.Unlock()
			return readOnly(name, "cheat protected")
		case v.Flags&Latch != 0:
			if val == v.String {
				v.LatchedString, v.latched = "", false
			} else {
				v.LatchedString, v.latched = val, true
			}
			r.mu.Unlock()
			return nil
		}
	}

	if val == v.String && !(force && v.latched) {
		r.mu.Unlock()
		return nil
	}
	v.LatchedString, v.latched = "", false
	v.assign(val)
	subs := append([]Subscriber(nil), r.subscribers...)
	r.mu.Unlock()

	r.notify(v, subs)
	return nil
}

func readOnly(name, why string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Symbol(name).Detail("%s", why).Build()
}

// CommitLatched applies pending latched values.
func (r *Registry) CommitLatched() {
	r.mu.Lock()
	var changed []*Var
	for _, v := range r.byHandle {
		if v.latched {
			v.assign(v.LatchedString)
			v.LatchedString, v.latched = "", false
			changed = append(changed, v)
		}
	}
	subs := append([]Subscriber(nil), r.subscribers...)
	r.mu.Unlock()

	for _, v := range changed {
		r.notify(v, subs)
	}
}

// Reset restores a variable's reset value.
func (r *Registry) Reset(name string) error {
	v := r.Get(name)
	if v == nil {
		return errors.NotFound(errors.PhaseConfig, "cvar", name)
	}
	return r.Set(name, v.ResetString)
}

// Snapshot returns the named variable's state.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vars[key(name)]
	if !ok {
		return Snapshot{}, false
	}
	return v.Snapshot(), true
}

// All returns every variable sorted by name.
func (r *Registry) All() []*Var {
	r.mu.Lock()
	out := make([]*Var, 0, len(r.vars))
	for _, v := range r.vars {
		out = append(out, v)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name) < key(out[j].Name) })
	return out
}

func (r *Registry) notify(v *Var, subs []Subscriber) {
	if v.Changed != nil {
		v.Changed(v)
	}
	for _, fn := range subs {
		fn(v)
	}
}
