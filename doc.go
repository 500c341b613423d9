// Package modhost hosts pluggable modules behind a fixed ABI and keeps
// track of every host resource they acquire.
//
// A module is either sandboxed WebAssembly bytecode or a native Go plugin.
// Both are driven through the same instance API, draw on the same host
// services and are torn down the same way.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	modhost/
//	├── value/       Tagged values crossing the host/module boundary
//	├── memory/      Linear memory and the pointer validator
//	├── abi/         Signature masks, import tables, interfaces, native host
//	├── engine/      wazero integration: load, push/pop, call
//	├── stdlib/      C-library thunks (math, memory, parsing, snprintf)
//	├── traps/       Engine traps: print, cvars, files
//	├── cvar/        Host configuration variables
//	├── filesys/     Rooted host file service and search path
//	├── ledger/      Per-module record of registrations and open files
//	├── module/      Loaded instances and the live-module registry
//	├── loader/      Backend selection, native probing, version gate
//	├── config/      Host configuration
//	├── errors/      Structured error types
//	├── wasm/        Minimal module builder for fixtures and tools
//	└── cmd/modhost/ CLI and interactive console
//
// # Quick Start
//
//	cvars := cvar.NewRegistry()
//	reg := module.NewRegistry(log)
//	reg.Attach(cvars)
//
//	eng, _ := engine.New(ctx, nil)
//	files, _ := filesys.New(root)
//	l, _ := loader.New(loader.Options{
//	    Config:   loader.Config{Search: filesys.SearchPath{dir}, BaseGame: "base"},
//	    Engine:   eng,
//	    Files:    files,
//	    Cvars:    cvars,
//	    Registry: reg,
//	})
//
//	game, err := l.Load(ctx, "game", iface)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := game.Call(ctx, "add", value.I32(2), value.I32(3))
//
// # Sandbox
//
// Every pointer a bytecode module passes to the host goes through
// memory.Translate before any byte is touched. A failed check is a sandbox
// fault: the call aborts and the instance is quarantined. Nothing retries.
//
// # Resources
//
// Variables a module registers and files it opens are recorded in its
// ledger. Unload releases the ledger first, closing every file and dropping
// every mirror, then destroys the backend. Host variables themselves
// outlive the module.
//
// # Thread Safety
//
// Registry, Loader and the cvar registry are safe for concurrent use. An
// Instance is not: module code must be driven from one goroutine at a
// time, or access must be synchronized.
package modhost
