// Package wasm builds and recognizes WebAssembly core module binaries.
//
// It covers the subset modhost needs: function types, function imports,
// one linear memory, function and memory exports, active data segments and
// raw code bodies. Tools and tests use it to produce bytecode images
// without an external toolchain.
//
// # Building
//
//	b := wasm.NewBuilder()
//	sinf := b.ImportFunc("env", "sinf", []wasm.ValType{wasm.ValF32}, []wasm.ValType{wasm.ValF32})
//	b.Memory(1, 1)
//	fn := b.Func([]wasm.ValType{wasm.ValF32}, []wasm.ValType{wasm.ValF32}, nil,
//	    wasm.NewCode().LocalGet(0).Call(sinf).End().Bytes())
//	b.ExportFunc("wave", fn)
//	image := b.Bytes()
//
// Imports must be declared before the first Func, since imported functions
// occupy the low function indices.
package wasm
