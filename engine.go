package wapchost

import "context"

// ValueType is a minimal WebAssembly value type, used only to describe the
// signatures of the nine waPC host functions (spec.md section 4.1). The core
// never needs anything beyond i32.
type ValueType int

const (
	// I32 is the only value type the waPC ABI uses: all pointers and
	// lengths are 32-bit.
	I32 ValueType = iota
)

// HostFunc is a single host-provided function, engine-agnostic. mem is
// resolved fresh by the caller for every invocation (spec.md section 4.1:
// "every call must resolve it at call time (memory may have grown since
// instantiation)").
type HostFunc struct {
	Params  []ValueType
	Results []ValueType
	Func    func(ctx context.Context, mem Memory, args []uint64) ([]uint64, error)
}

// ImportModule is a named group of host functions, keyed by function name.
type ImportModule map[string]HostFunc

// ImportTable groups ImportModules by namespace, e.g. {"wapc": {...}}.
type ImportTable map[string]ImportModule

// WASIConfig carries the parameters needed to construct a WASI environment
// for a guest instance. The core does not build a WASI context itself (spec.md
// section 1); it only passes these parameters, supplied by the embedder, to the
// Engine adapter, which builds the WASI environment from them. The same
// parameters are reapplied verbatim on every ReplaceModule (spec.md section 9).
type WASIConfig struct {
	Args          []string
	Env           map[string]string
	PreopenedDirs map[string]string // guest path -> host path
}

// Memory is a bounded view of a guest instance's linear memory, valid only
// for the lifetime of a single import call (spec.md section 5, "Linear
// memory").
type Memory interface {
	// Read returns a copy of byteCount bytes starting at offset, or false
	// if the range is out of bounds.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies data into linear memory starting at offset, returning
	// false if the range is out of bounds.
	Write(offset uint32, data []byte) bool
	// Size returns the current size of linear memory in bytes.
	Size() uint32
}

// GuestFunc is a resolved, callable guest export.
type GuestFunc func(ctx context.Context, args ...uint64) ([]uint64, error)

// GuestInstance is a single instantiation of a compiled module, with its own
// linear memory (spec.md section 6.1).
type GuestInstance interface {
	// Memory returns the instance's linear memory export, or nil if it
	// exposes none.
	Memory() Memory
	// ExportedFunction resolves a callable export by name.
	ExportedFunction(name string) (GuestFunc, bool)
	Close(ctx context.Context) error
}

// CompiledModule is a module compiled from bytes, ready to be instantiated
// any number of times with a given import table.
type CompiledModule interface {
	Instantiate(ctx context.Context, imports ImportTable, wasi *WASIConfig) (GuestInstance, error)
	Close(ctx context.Context) error
}

// Engine is the external collaborator described in spec.md section 6.1: the
// core assumes an engine providing compile, instantiate, export resolution,
// and bounded linear-memory access. It never reaches into any engine-specific
// type beyond this contract.
type Engine interface {
	Name() string
	Compile(ctx context.Context, code []byte) (CompiledModule, error)
}
