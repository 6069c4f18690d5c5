//go:build (((amd64 || arm64) && !windows) || (amd64 && windows)) && cgo

// Package wasmtime adapts github.com/bytecodealliance/wasmtime-go to the
// wapchost.Engine contract. It exists alongside the wazero engine as the
// second, cgo-backed option a caller of wapchost.New may choose, matching
// the teacher's own dual-engine layout.
package wasmtime

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"

	wapchost "wapchost.dev/wapchost"
)

func New() wapchost.Engine {
	return engine{}
}

type engine struct{}

func (engine) Name() string { return "wasmtime" }

func (engine) Compile(_ context.Context, code []byte) (wapchost.CompiledModule, error) {
	eng := wasmtime.NewEngine()
	store := wasmtime.NewStore(eng)

	module, err := wasmtime.NewModule(eng, code)
	if err != nil {
		return nil, err
	}

	return &compiledModule{engine: eng, store: store, module: module}, nil
}

type compiledModule struct {
	engine *wasmtime.Engine
	store  *wasmtime.Store
	module *wasmtime.Module
}

func (m *compiledModule) Instantiate(ctx context.Context, imports wapchost.ImportTable, wasi *wapchost.WASIConfig) (wapchost.GuestInstance, error) {
	wasiConfig := wasmtime.NewWasiConfig()
	if wasi != nil {
		if len(wasi.Args) > 0 {
			wasiConfig.SetArgv(append([]string{"wapc"}, wasi.Args...))
		}
		if len(wasi.Env) > 0 {
			names := make([]string, 0, len(wasi.Env))
			values := make([]string, 0, len(wasi.Env))
			for k, v := range wasi.Env {
				names = append(names, k)
				values = append(values, v)
			}
			wasiConfig.SetEnv(names, values)
		}
		for guestPath, hostPath := range wasi.PreopenedDirs {
			wasiConfig.PreopenDir(hostPath, guestPath)
		}
	}
	m.store.SetWasi(wasiConfig)

	linker := wasmtime.NewLinker(m.engine)
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("define wasi: %w", err)
	}
	if err := linker.Define("env", "abort", assemblyScriptAbort(m.store)); err != nil {
		return nil, fmt.Errorf("define env.abort: %w", err)
	}

	for namespace, module := range imports {
		for name, fn := range module {
			hostFn := bindHostFunc(m.store, fn)
			if err := linker.Define(namespace, name, hostFn); err != nil {
				return nil, fmt.Errorf("define %s.%s: %w", namespace, name, err)
			}
		}
	}

	inst, err := linker.Instantiate(m.store, m.module)
	if err != nil {
		return nil, err
	}

	memExport := inst.GetExport(m.store, "memory")
	var mem *wasmtime.Memory
	if memExport != nil {
		mem = memExport.Memory()
	}

	guestCall := inst.GetFunc(m.store, "__guest_call")
	if guestCall == nil {
		return &guestInstance{store: m.store, inst: inst, mem: mem}, nil
	}

	return &guestInstance{store: m.store, inst: inst, mem: mem, guestCall: guestCall}, nil
}

func (m *compiledModule) Close(context.Context) error {
	m.store.GC()
	return nil
}

// assemblyScriptAbort stubs the legacy "env" "abort" import, matching every
// other waPC engine: it traps the call rather than emulating process exit.
func assemblyScriptAbort(store *wasmtime.Store) *wasmtime.Func {
	params := []*wasmtime.ValType{
		wasmtime.NewValType(wasmtime.KindI32),
		wasmtime.NewValType(wasmtime.KindI32),
		wasmtime.NewValType(wasmtime.KindI32),
		wasmtime.NewValType(wasmtime.KindI32),
	}
	return wasmtime.NewFunc(store, wasmtime.NewFuncType(params, nil),
		func(_ *wasmtime.Caller, _ []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			return nil, wasmtime.NewTrap("env.abort called")
		},
	)
}

func valTypesFor(n int) []*wasmtime.ValType {
	out := make([]*wasmtime.ValType, n)
	for i := range out {
		out[i] = wasmtime.NewValType(wasmtime.KindI32)
	}
	return out
}

// bindHostFunc bridges one wapchost.HostFunc to a wasmtime.Func. The
// wasmtime.Caller supplied per-call resolves "memory" fresh every
// invocation, per spec.md section 5's requirement that memory never be
// cached across a guest instance's lifetime.
func bindHostFunc(store *wasmtime.Store, fn wapchost.HostFunc) *wasmtime.Func {
	ty := wasmtime.NewFuncType(valTypesFor(len(fn.Params)), valTypesFor(len(fn.Results)))
	return wasmtime.NewFunc(store, ty,
		func(caller *wasmtime.Caller, wargs []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			memExport := caller.GetExport("memory")
			if memExport == nil {
				return nil, wasmtime.NewTrap("no exported memory")
			}
			mem := memExport.Memory()

			args := make([]uint64, len(wargs))
			for i, v := range wargs {
				args[i] = uint64(uint32(v.I32()))
			}

			results, err := fn.Func(context.Background(), wasmtimeMemory{mem: mem, caller: caller}, args)
			if err != nil {
				return nil, wasmtime.NewTrap(err.Error())
			}

			out := make([]wasmtime.Val, len(results))
			for i, r := range results {
				out[i] = wasmtime.ValI32(int32(uint32(r)))
			}
			return out, nil
		},
	)
}

type guestInstance struct {
	store     *wasmtime.Store
	inst      *wasmtime.Instance
	mem       *wasmtime.Memory
	guestCall *wasmtime.Func
}

func (g *guestInstance) Memory() wapchost.Memory {
	if g.mem == nil {
		return nil
	}
	return wasmtimeMemory{mem: g.mem, caller: nil, store: g.store}
}

func (g *guestInstance) ExportedFunction(name string) (wapchost.GuestFunc, bool) {
	fn := g.inst.GetFunc(g.store, name)
	if fn == nil {
		return nil, false
	}
	return func(ctx context.Context, args ...uint64) ([]uint64, error) {
		callArgs := make([]interface{}, len(args))
		for i, a := range args {
			callArgs[i] = int32(uint32(a))
		}
		result, err := fn.Call(g.store, callArgs...)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		if i32, ok := result.(int32); ok {
			return []uint64{uint64(uint32(i32))}, nil
		}
		return nil, nil
	}, true
}

func (g *guestInstance) Close(context.Context) error {
	return nil // wasmtime instances are released by the store's GC.
}

// wasmtimeMemory adapts *wasmtime.Memory to wapchost.Memory. A Storelike is
// required for every access; a live Caller is preferred when available
// (inside a host function), otherwise the Store captured at instantiation.
type wasmtimeMemory struct {
	mem    *wasmtime.Memory
	caller *wasmtime.Caller
	store  *wasmtime.Store
}

func (m wasmtimeMemory) storelike() wasmtime.Storelike {
	if m.caller != nil {
		return m.caller
	}
	return m.store
}

func (m wasmtimeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	data := m.mem.UnsafeData(m.storelike())
	if uint64(offset)+uint64(byteCount) > uint64(len(data)) {
		return nil, false
	}
	out := make([]byte, byteCount)
	copy(out, data[offset:offset+byteCount])
	return out, true
}

func (m wasmtimeMemory) Write(offset uint32, data []byte) bool {
	buf := m.mem.UnsafeData(m.storelike())
	if uint64(offset)+uint64(len(data)) > uint64(len(buf)) {
		return false
	}
	copy(buf[offset:], data)
	return true
}

func (m wasmtimeMemory) Size() uint32 {
	return uint32(m.mem.DataSize(m.storelike()))
}
