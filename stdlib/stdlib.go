// Package stdlib is the closed catalogue of general-purpose host functions
// bytecode modules may import without a prefix: libm math, memory and
// string routines, number parsing and printf-style formatting.
//
// Every thunk unpacks its arguments from the call frame, validates each
// pointer with memory.Translate before touching module memory, and writes
// its result to slot 0. Nothing derived from module memory outlives the
// call.
package stdlib

import (
	"sync"

	"github.com/wippyai/modhost/abi"
)

// Group is the import table group name.
const Group = "stdlib"

var table = sync.OnceValue(func() *abi.ImportTable {
	imports := make([]abi.ImportDescriptor, 0, 40)
	imports = append(imports, mathImports()...)
	imports = append(imports, memImports()...)
	imports = append(imports, parseImports()...)
	imports = append(imports, formatImports()...)
	return abi.MustImportTable(Group, "", imports...)
})

// Table returns the shared standard-library import table.
func Table() *abi.ImportTable { return table() }
