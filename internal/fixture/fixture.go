// Package fixture builds the small bytecode modules the tests load.
package fixture

import (
	"strings"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/wasm"
)

// Memory layout of the game module.
const (
	NameAddr    = 0x100 // "foo"
	DefaultAddr = 0x110 // "1"
	LogAddr     = 0x140 // "game.log"
	CvarAddr    = 0x200 // foo mirror
	HandleAddr  = 0x340 // trap_FS_FOpenFile out
)

// APIVersion is the version GameInterface expects.
const APIVersion = 7

// GameInterface describes the exports of Game.
func GameInterface() *abi.Interface {
	return &abi.Interface{
		Name:       "game",
		APIVersion: APIVersion,
		Exports: []abi.ExportDescriptor{
			abi.Export("init", "v:"),
			abi.Export("fooInteger", "i:"),
			abi.Export("fooModified", "i:"),
			abi.Export("add", "i:ii"),
			abi.Export("sqrt", "f:f"),
			abi.Export("fault", "v:"),
			abi.Export("openLog", "i:"),
		},
	}
}

var (
	i32 = wasm.ValI32
	f32 = wasm.ValF32
)

func vt(ts ...wasm.ValType) []wasm.ValType { return ts }

// Game returns a module that registers the cvar "foo" (default "1") into
// its own memory on init, exposes the mirror's integer and modified
// fields, adds, takes square roots through the sqrtf import, opens a log
// file, and faults by printing a null string.
func Game() []byte {
	b := wasm.NewBuilder()
	register := b.ImportFunc("env", "trap_Cvar_Register", vt(i32, i32, i32, i32), vt(i32))
	printStr := b.ImportFunc("env", "trap_Print", vt(i32), nil)
	open := b.ImportFunc("env", "trap_FS_FOpenFile", vt(i32, i32, i32), vt(i32))
	sqrtf := b.ImportFunc("env", "sqrtf", vt(f32), vt(f32))

	b.Memory(1, 4)
	b.ExportMemory("memory")
	b.Data(NameAddr, []byte("foo\x00"))
	b.Data(DefaultAddr, []byte("1\x00"))
	b.Data(LogAddr, []byte("game.log\x00"))

	export := func(name string, params, results []wasm.ValType, code *wasm.Code) {
		b.ExportFunc(name, b.Func(params, results, nil, code.End().Bytes()))
	}

	export("init", nil, nil, wasm.NewCode().
		I32Const(CvarAddr).I32Const(NameAddr).I32Const(DefaultAddr).I32Const(0).
		Call(register).Drop())
	export("fooInteger", nil, vt(i32), wasm.NewCode().
		I32Const(0).I32Load(CvarAddr+12))
	export("fooModified", nil, vt(i32), wasm.NewCode().
		I32Const(0).I32Load(CvarAddr+20))
	export("add", vt(i32, i32), vt(i32), wasm.NewCode().
		LocalGet(0).LocalGet(1).Op(wasm.OpI32Add))
	export("sqrt", vt(f32), vt(f32), wasm.NewCode().
		LocalGet(0).Call(sqrtf))
	export("fault", nil, nil, wasm.NewCode().
		I32Const(0).Call(printStr))
	export("openLog", nil, vt(i32), wasm.NewCode().
		I32Const(LogAddr).I32Const(HandleAddr).I32Const(1).Call(open).Drop().
		I32Const(0).I32Load(HandleAddr))

	return b.Bytes()
}

// StartTrap returns a module whose start function opens LogAddr for
// writing and then traps, so instantiation fails holding a file.
func StartTrap() []byte {
	b := wasm.NewBuilder()
	open := b.ImportFunc("env", "trap_FS_FOpenFile", vt(i32, i32, i32), vt(i32))
	b.Memory(1, 1)
	b.ExportMemory("memory")
	b.Data(LogAddr, []byte("game.log\x00"))
	b.ExportFunc("init", b.Func(nil, nil, nil, wasm.NewCode().End().Bytes()))
	b.ExportFunc("_start", b.Func(nil, nil, nil, wasm.NewCode().
		I32Const(LogAddr).I32Const(HandleAddr).I32Const(1).Call(open).Drop().
		Unreachable().End().Bytes()))
	return b.Bytes()
}

// Importing returns a module with one exported no-op "init" that imports
// the given functions, all typed ()->(). Names are "ns#fn" or a bare env
// function name.
func Importing(names ...string) []byte {
	b := wasm.NewBuilder()
	for _, n := range names {
		ns, fn, ok := strings.Cut(n, "#")
		if !ok {
			ns, fn = "env", n
		}
		b.ImportFunc(ns, fn, nil, nil)
	}
	b.Memory(1, 1)
	b.ExportFunc("init", b.Func(nil, nil, nil, wasm.NewCode().End().Bytes()))
	return b.Bytes()
}
