// Package wazero adapts github.com/tetratelabs/wazero to the
// wapchost.Engine contract, so a WapcHost can run guest modules through a
// pure-Go WebAssembly runtime with no cgo dependency.
package wazero

import (
	"context"
	"fmt"

	wz "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	wapchost "wapchost.dev/wapchost"
)

// New returns an Engine backed by wazero. Each call to Compile gets its own
// wazero runtime, closed when the returned CompiledModule is closed, so a
// hot swap (wapchost.WapcHost.ReplaceModule) never leaks the prior runtime.
func New() wapchost.Engine {
	return engine{}
}

type engine struct{}

func (engine) Name() string { return "wazero" }

func (engine) Compile(ctx context.Context, code []byte) (wapchost.CompiledModule, error) {
	runtime := wz.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi_snapshot_preview1: %w", err)
	}
	if err := instantiateAssemblyScript(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate assemblyscript env shim: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	return &compiledModule{runtime: runtime, compiled: compiled}, nil
}

// instantiateAssemblyScript stubs the legacy "env" "abort" import emitted by
// AssemblyScript guests that don't explicitly target WASI. Only abort is
// wired, matching every other waPC engine -- the teacher's wazero adapter
// does the same and notes no engine implements the rest of the legacy ABI.
func instantiateAssemblyScript(ctx context.Context, r wz.Runtime) error {
	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, messageOffset, fileNameOffset, line, col uint32) {
			panic(fmt.Sprintf("env.abort called at line %d, column %d", line, col))
		}).
		Export("abort").
		Instantiate(ctx)
	return err
}

type compiledModule struct {
	runtime  wz.Runtime
	compiled wz.CompiledModule

	moduleConfig wz.ModuleConfig
	instanceSeq  uint64
}

func (m *compiledModule) Instantiate(ctx context.Context, imports wapchost.ImportTable, wasi *wapchost.WASIConfig) (wapchost.GuestInstance, error) {
	if wasi != nil {
		cfg := wz.NewModuleConfig().WithArgs(append([]string{"wapc"}, wasi.Args...)...)
		for k, v := range wasi.Env {
			cfg = cfg.WithEnv(k, v)
		}
		for guestPath, hostPath := range wasi.PreopenedDirs {
			cfg = cfg.WithFSConfig(wz.NewFSConfig().WithDirMount(hostPath, guestPath))
		}
		m.moduleConfig = cfg
	}

	if err := linkImportTable(ctx, m.runtime, imports); err != nil {
		return nil, err
	}

	m.instanceSeq++
	cfg := m.moduleConfig
	if cfg == nil {
		cfg = wz.NewModuleConfig()
	}
	cfg = cfg.WithName(fmt.Sprintf("wapc-guest-%d", m.instanceSeq))

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, err
	}

	return &guestInstance{mod: mod}, nil
}

func (m *compiledModule) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// linkImportTable instantiates one wazero host module per ImportTable
// namespace, bridging each wapchost.HostFunc to a wazero Go-module function.
// wazero's WithGoModuleFunction hands us the raw value stack, which already
// matches HostFunc.Func's ([]uint64) args/results shape, so no per-arity
// wrapper is needed -- unlike the teacher's adapter, which hand-rolled one
// exported method per import.
func linkImportTable(ctx context.Context, r wz.Runtime, imports wapchost.ImportTable) error {
	for namespace, module := range imports {
		builder := r.NewHostModuleBuilder(namespace)
		for name, fn := range module {
			fn := fn
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
					args := append([]uint64(nil), stack[:len(fn.Params)]...)
					results, err := fn.Func(ctx, memoryAdapter{mod.Memory()}, args)
					if err != nil {
						panic(err)
					}
					copy(stack, results)
				}), toValueTypes(fn.Params), toValueTypes(fn.Results)).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("link import namespace %q: %w", namespace, err)
		}
	}
	return nil
}

func toValueTypes(vs []wapchost.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(vs))
	for i := range vs {
		out[i] = api.ValueTypeI32
	}
	return out
}

type guestInstance struct {
	mod api.Module
}

func (g *guestInstance) Memory() wapchost.Memory {
	mem := g.mod.Memory()
	if mem == nil {
		return nil
	}
	return memoryAdapter{mem}
}

func (g *guestInstance) ExportedFunction(name string) (wapchost.GuestFunc, bool) {
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return func(ctx context.Context, args ...uint64) ([]uint64, error) {
		return fn.Call(ctx, args...)
	}, true
}

func (g *guestInstance) Close(ctx context.Context) error {
	return g.mod.Close(ctx)
}

type memoryAdapter struct {
	mem api.Memory
}

func (m memoryAdapter) Read(offset, byteCount uint32) ([]byte, bool) {
	buf, ok := m.mem.Read(offset, byteCount)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

func (m memoryAdapter) Write(offset uint32, data []byte) bool {
	return m.mem.Write(offset, data)
}

func (m memoryAdapter) Size() uint32 {
	return m.mem.Size()
}
