package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindVersionMismatch,
				Module: "game",
				Path:   []string{"native", "/home/mod/game_amd64.so"},
				Symbol: "ModuleEntry",
				Detail: "module reports 4, host expects 3",
			},
			contains: []string{"[load]", "version_mismatch", "game", "native -> /home/mod/game_amd64.so", "ModuleEntry", "expects 3"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseSandbox,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[sandbox]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCleanup,
				Kind:   KindIO,
				Detail: "close handle 3",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[cleanup]", "io", "close handle 3", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindNotFound,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseSandbox,
		Kind:   KindMisaligned,
		Module: "cgame",
	}

	if !err.Is(&Error{Phase: PhaseSandbox, Kind: KindMisaligned}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseLoad, Kind: KindMisaligned}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseSandbox, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("call vmMain: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseSandbox, Kind: KindMisaligned}) {
		t.Error("errors.Is should match through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLoad, KindSymbolMissing).
		Module("ui").
		Path("native", "/lib/ui.so").
		Symbol("ModuleEntry").
		Value(42).
		Cause(cause).
		Detail("lookup %s failed", "ModuleEntry").
		Build()

	if err.Phase != PhaseLoad {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLoad)
	}
	if err.Kind != KindSymbolMissing {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSymbolMissing)
	}
	if err.Module != "ui" {
		t.Errorf("Module = %v, want ui", err.Module)
	}
	if len(err.Path) != 2 || err.Path[1] != "/lib/ui.so" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "lookup ModuleEntry failed" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestSandboxConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"null", NullPointer(4, 1), KindNullPointer},
		{"misaligned", Misaligned(3, 4), KindMisaligned},
		{"out of bounds", OutOfBounds(0xfffffffc, 8, 65536), KindOutOfBounds},
		{"growth", MemoryGrowth(2, 1, 2), KindMemoryGrowth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !IsSandboxFault(tt.err) {
				t.Error("IsSandboxFault = false")
			}
			if IsLoadFault(tt.err) {
				t.Error("IsLoadFault = true for sandbox fault")
			}
		})
	}
}

func TestIsSandboxFault_Nested(t *testing.T) {
	inner := Misaligned(6, 4)
	outer := Wrap(PhaseRuntime, KindCorrupted, inner, "thunk memcmp")
	if !IsSandboxFault(fmt.Errorf("call: %w", outer)) {
		t.Error("nested sandbox fault not detected")
	}
	if !HasKind(outer, KindMisaligned) {
		t.Error("HasKind did not find nested kind")
	}
	if IsSandboxFault(errors.New("plain")) {
		t.Error("plain error reported as sandbox fault")
	}
}

func TestCapacity(t *testing.T) {
	err := Capacity("game", "cvar glue record", 1024)
	if err.Phase != PhaseRegister || err.Kind != KindCapacity {
		t.Errorf("got %s/%s", err.Phase, err.Kind)
	}
	if !strings.Contains(err.Error(), "1024") {
		t.Errorf("message %q lacks limit", err.Error())
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError("game", []string{"env#trap_Print", "env#sinf", "other#thing"})

	if len(err.Imports) != 3 {
		t.Fatalf("len = %d, want 3", len(err.Imports))
	}
	if err.Imports[0].Namespace != "env" || err.Imports[0].Function != "trap_Print" {
		t.Errorf("Imports[0] = %+v", err.Imports[0])
	}

	msg := err.Error()
	for _, want := range []string{"game", "3 host function(s)", "env:", "- trap_Print", "- sinf", "other:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}

	if !errors.Is(err, &MissingImportsError{}) {
		t.Error("errors.Is should match MissingImportsError")
	}
	if !errors.Is(err, &Error{Phase: PhaseLoad, Kind: KindMissingImport}) {
		t.Error("errors.Is should match load/missing_import")
	}
}

func TestMissingImportsError_Empty(t *testing.T) {
	err := NewMissingImportsError("game", nil)
	if !strings.Contains(err.Error(), "no imports specified") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
