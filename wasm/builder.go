package wasm

import (
	"bytes"
	"encoding/binary"

	wbin "github.com/wippyai/modhost/wasm/internal/binary"
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) equal(o FuncType) bool {
	return bytes.Equal(valBytes(ft.Params), valBytes(o.Params)) &&
		bytes.Equal(valBytes(ft.Results), valBytes(o.Results))
}

func valBytes(vs []ValType) []byte {
	b := make([]byte, len(vs))
	for i, v := range vs {
		b[i] = byte(v)
	}
	return b
}

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	data   []byte
	offset uint32
}

type limits struct {
	min, max uint32
	hasMax   bool
}

// Builder assembles a core module.
type Builder struct {
	memory  *limits
	types   []FuncType
	imports []importFunc
	funcs   []function
	exports []export
	data    []segment
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(ft FuncType) uint32 {
	for i, t := range b.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// It panics if called after Func.
func (b *Builder) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasm: ImportFunc after Func")
	}
	idx := b.typeIndex(FuncType{Params: params, Results: results})
	b.imports = append(b.imports, importFunc{module: module, name: name, typeIdx: idx})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its function index. body is the
// encoded instruction sequence including the final end.
func (b *Builder) Func(params, results, locals []ValType, body []byte) uint32 {
	idx := b.typeIndex(FuncType{Params: params, Results: results})
	b.funcs = append(b.funcs, function{typeIdx: idx, locals: locals, body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory defines the module's single memory. A max of 0 leaves it
// unbounded.
func (b *Builder) Memory(min, max uint32) {
	b.memory = &limits{min: min, max: max, hasMax: max > 0}
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.exports = append(b.exports, export{name: name, kind: KindFunc, idx: idx})
}

// ExportMemory exports the memory under name.
func (b *Builder) ExportMemory(name string) {
	b.exports = append(b.exports, export{name: name, kind: KindMemory})
}

// Data places bytes in memory at offset when the module is instantiated.
func (b *Builder) Data(offset uint32, data []byte) {
	b.data = append(b.data, segment{offset: offset, data: data})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	w := wbin.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(b.types) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.types)))
		for _, ft := range b.types {
			sec.Byte(FuncTypeByte)
			sec.WriteVec(valBytes(ft.Params))
			sec.WriteVec(valBytes(ft.Results))
		}
		writeSection(w, SectionType, sec)
	}

	if len(b.imports) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.imports)))
		for _, imp := range b.imports {
			sec.WriteName(imp.module)
			sec.WriteName(imp.name)
			sec.Byte(KindFunc)
			sec.WriteU32(imp.typeIdx)
		}
		writeSection(w, SectionImport, sec)
	}

	if len(b.funcs) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(w, SectionFunction, sec)
	}

	if b.memory != nil {
		sec := wbin.NewWriter()
		sec.WriteU32(1)
		if b.memory.hasMax {
			sec.Byte(0x01)
			sec.WriteU32(b.memory.min)
			sec.WriteU32(b.memory.max)
		} else {
			sec.Byte(0x00)
			sec.WriteU32(b.memory.min)
		}
		writeSection(w, SectionMemory, sec)
	}

	if len(b.exports) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.exports)))
		for _, e := range b.exports {
			sec.WriteName(e.name)
			sec.Byte(e.kind)
			sec.WriteU32(e.idx)
		}
		writeSection(w, SectionExport, sec)
	}

	if len(b.funcs) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := wbin.NewWriter()
			writeLocals(body, f.locals)
			body.WriteBytes(f.body)
			sec.WriteVec(body.Bytes())
		}
		writeSection(w, SectionCode, sec)
	}

	if len(b.data) > 0 {
		sec := wbin.NewWriter()
		sec.WriteU32(uint32(len(b.data)))
		for _, d := range b.data {
			sec.WriteU32(0) // active, memory 0
			sec.Byte(OpI32Const)
			sec.WriteS32(int32(d.offset))
			sec.Byte(OpEnd)
			sec.WriteVec(d.data)
		}
		writeSection(w, SectionData, sec)
	}

	return w.Bytes()
}

// writeLocals run-length encodes local declarations.
func writeLocals(w *wbin.Writer, locals []ValType) {
	type run struct {
		n uint32
		t ValType
	}
	var runs []run
	for _, l := range locals {
		if n := len(runs); n > 0 && runs[n-1].t == l {
			runs[n-1].n++
			continue
		}
		runs = append(runs, run{n: 1, t: l})
	}
	w.WriteU32(uint32(len(runs)))
	for _, r := range runs {
		w.WriteU32(r.n)
		w.Byte(byte(r.t))
	}
}

func writeSection(w *wbin.Writer, id byte, sec *wbin.Writer) {
	w.Byte(id)
	w.WriteVec(sec.Bytes())
}

// IsModule reports whether data starts with a core module header.
func IsModule(data []byte) bool {
	return len(data) >= 8 &&
		binary.LittleEndian.Uint32(data[0:4]) == Magic &&
		binary.LittleEndian.Uint32(data[4:8]) == Version
}
