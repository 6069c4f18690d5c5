package wapchost_test

import (
	"context"
	"fmt"
	"strings"

	wapchost "wapchost.dev/wapchost"
)

// fakeEngine, fakeModule and fakeInstance implement wapchost.Engine without
// any real WebAssembly engine. Each "compiled module" is selected by name
// (the code byte slice is just that name) and its guest behavior is a plain
// Go closure driving the same ImportTable a real compiled guest would drive
// through WebAssembly imports -- this exercises ModuleState, the nine host
// functions and WapcHost's call/hot-swap logic against the public API with
// no .wasm binary required (the retrieval pack this module was built from
// ships no compiled guest fixtures).
type fakeEngine struct{}

func newFakeEngine() wapchost.Engine { return fakeEngine{} }

func (fakeEngine) Name() string { return "fake" }

func (fakeEngine) Compile(_ context.Context, code []byte) (wapchost.CompiledModule, error) {
	name := string(code)
	prog, ok := fakePrograms[name]
	if !ok {
		return nil, fmt.Errorf("unknown fake program %q", name)
	}
	return &fakeModule{prog: prog}, nil
}

type fakeModule struct {
	prog fakeProgram
}

func (m *fakeModule) Instantiate(_ context.Context, imports wapchost.ImportTable, _ *wapchost.WASIConfig) (wapchost.GuestInstance, error) {
	inst := &fakeInstance{
		prog:    m.prog,
		imports: imports,
		mem:     &fakeMemory{buf: make([]byte, 65536)},
	}
	if m.prog.startFails {
		inst.startErr = fmt.Errorf("simulated _start trap")
	}
	return inst, nil
}

func (m *fakeModule) Close(context.Context) error { return nil }

type fakeInstance struct {
	prog     fakeProgram
	imports  wapchost.ImportTable
	mem      *fakeMemory
	startErr error
}

func (i *fakeInstance) Memory() wapchost.Memory { return i.mem }

func (i *fakeInstance) ExportedFunction(name string) (wapchost.GuestFunc, bool) {
	switch name {
	case "__guest_call":
		if !i.prog.hasGuestCall {
			return nil, false
		}
		return func(ctx context.Context, args ...uint64) ([]uint64, error) {
			return i.prog.guestCall(ctx, i.imports, i.mem, args[0], args[1])
		}, true
	case "_start":
		if !i.prog.exportsStart {
			return nil, false
		}
		return func(context.Context, ...uint64) ([]uint64, error) {
			return nil, i.startErr
		}, true
	}
	return nil, false
}

func (i *fakeInstance) Close(context.Context) error { return nil }

// fakeMemory is a flat byte buffer standing in for guest linear memory.
type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) Read(offset, n uint32) ([]byte, bool) {
	if uint64(offset)+uint64(n) > uint64(len(m.buf)) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, m.buf[offset:offset+n])
	return out, true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], data)
	return true
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

// callMem invokes a single named wapc host import against the instance's
// memory, the way a real compiled guest would via its imports.
func callMem(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, name string, args ...uint64) ([]uint64, error) {
	fn, ok := imports[wapchost.HostNamespace][name]
	if !ok {
		return nil, fmt.Errorf("no such import %s", name)
	}
	return fn.Func(ctx, mem, args)
}

const (
	opRegion      = uint32(0)
	payloadRegion = uint32(4096)
	respRegion    = uint32(8192)
	logRegion     = uint32(12288)
)

type fakeProgram struct {
	hasGuestCall bool
	exportsStart bool
	startFails   bool
	guestCall    func(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error)
}

var fakePrograms = map[string]fakeProgram{
	"echo": {
		hasGuestCall: true,
		guestCall:    echoGuestCall,
	},
	"echo-upper": {
		hasGuestCall: true,
		guestCall:    upperGuestCall,
	},
	"divide-by-zero": {
		hasGuestCall: true,
		guestCall:    divideGuestCall,
	},
	"nested": {
		hasGuestCall: true,
		guestCall:    nestedGuestCall,
	},
	"lognoise": {
		hasGuestCall: true,
		guestCall:    lognoiseGuestCall,
	},
	"no-guest-call": {
		hasGuestCall: false,
	},
	"bad-start": {
		hasGuestCall: true,
		exportsStart: true,
		startFails:   true,
		guestCall:    echoGuestCall,
	},
	"fail-no-error": {
		hasGuestCall: true,
		guestCall: func(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, _, _ uint64) ([]uint64, error) {
			return []uint64{0}, nil
		},
	},
	"success-no-response": {
		hasGuestCall: true,
		guestCall: func(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, _, _ uint64) ([]uint64, error) {
			return []uint64{1}, nil
		},
	},
}

func pullRequest(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) (op string, payload []byte, err error) {
	if _, err = callMem(ctx, imports, mem, "__guest_request", uint64(opRegion), uint64(payloadRegion)); err != nil {
		return "", nil, err
	}
	opBytes, ok := mem.Read(opRegion, uint32(opLen))
	if !ok {
		return "", nil, fmt.Errorf("could not read operation")
	}
	payloadBytes, ok := mem.Read(payloadRegion, uint32(payloadLen))
	if !ok {
		return "", nil, fmt.Errorf("could not read payload")
	}
	return string(opBytes), payloadBytes, nil
}

func echoGuestCall(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error) {
	_, payload, err := pullRequest(ctx, imports, mem, opLen, payloadLen)
	if err != nil {
		return nil, err
	}
	if !mem.Write(respRegion, payload) {
		return nil, fmt.Errorf("could not write response")
	}
	if _, err := callMem(ctx, imports, mem, "__guest_response", uint64(respRegion), uint64(len(payload))); err != nil {
		return nil, err
	}
	return []uint64{1}, nil
}

func upperGuestCall(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error) {
	_, payload, err := pullRequest(ctx, imports, mem, opLen, payloadLen)
	if err != nil {
		return nil, err
	}
	upper := []byte(strings.ToUpper(string(payload)))
	if !mem.Write(respRegion, upper) {
		return nil, fmt.Errorf("could not write response")
	}
	if _, err := callMem(ctx, imports, mem, "__guest_response", uint64(respRegion), uint64(len(upper))); err != nil {
		return nil, err
	}
	return []uint64{1}, nil
}

func divideGuestCall(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error) {
	_, payload, err := pullRequest(ctx, imports, mem, opLen, payloadLen)
	if err != nil {
		return nil, err
	}
	isZero := true
	for _, b := range payload {
		if b != 0 {
			isZero = false
			break
		}
	}
	if !isZero {
		if !mem.Write(respRegion, payload) {
			return nil, fmt.Errorf("could not write response")
		}
		if _, err := callMem(ctx, imports, mem, "__guest_response", uint64(respRegion), uint64(len(payload))); err != nil {
			return nil, err
		}
		return []uint64{1}, nil
	}

	encoded, err := wapchost.NewMsgpackErrorCodec().Encode(fmt.Errorf("division by zero"))
	if err != nil {
		return nil, err
	}
	if !mem.Write(respRegion, encoded) {
		return nil, fmt.Errorf("could not write guest error")
	}
	if _, err := callMem(ctx, imports, mem, "__guest_error", uint64(respRegion), uint64(len(encoded))); err != nil {
		return nil, err
	}
	return []uint64{0}, nil
}

func nestedGuestCall(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error) {
	_, payload, err := pullRequest(ctx, imports, mem, opLen, payloadLen)
	if err != nil {
		return nil, err
	}

	const (
		bindingRegion  = uint32(16384)
		namespaceRgion = uint32(20480)
		operRegion     = uint32(24576)
	)
	binding := []byte("")
	namespace := []byte("math")
	operation := []byte("add")
	mem.Write(bindingRegion, binding)
	mem.Write(namespaceRgion, namespace)
	mem.Write(operRegion, operation)
	mem.Write(payloadRegion, payload)

	results, err := callMem(ctx, imports, mem, "__host_call",
		uint64(bindingRegion), uint64(len(binding)),
		uint64(namespaceRgion), uint64(len(namespace)),
		uint64(operRegion), uint64(len(operation)),
		uint64(payloadRegion), uint64(len(payload)),
	)
	if err != nil {
		return nil, err
	}
	if results[0] == 0 {
		lenResults, err := callMem(ctx, imports, mem, "__host_error_len")
		if err != nil {
			return nil, err
		}
		n := lenResults[0]
		if _, err := callMem(ctx, imports, mem, "__host_error", uint64(respRegion)); err != nil {
			return nil, err
		}
		encoded, ok := mem.Read(respRegion, uint32(n))
		if !ok {
			return nil, fmt.Errorf("could not read host error")
		}
		guestErr, err := wapchost.NewMsgpackErrorCodec().Decode(encoded)
		if err != nil {
			return nil, err
		}
		reencoded, err := wapchost.NewMsgpackErrorCodec().Encode(guestErr)
		if err != nil {
			return nil, err
		}
		mem.Write(respRegion, reencoded)
		if _, err := callMem(ctx, imports, mem, "__guest_error", uint64(respRegion), uint64(len(reencoded))); err != nil {
			return nil, err
		}
		return []uint64{0}, nil
	}

	lenResults, err := callMem(ctx, imports, mem, "__host_response_len")
	if err != nil {
		return nil, err
	}
	n := lenResults[0]
	if _, err := callMem(ctx, imports, mem, "__host_response", uint64(respRegion)); err != nil {
		return nil, err
	}
	hostResp, ok := mem.Read(respRegion, uint32(n))
	if !ok {
		return nil, fmt.Errorf("could not read host response")
	}
	if _, err := callMem(ctx, imports, mem, "__guest_response", uint64(respRegion), uint64(len(hostResp))); err != nil {
		return nil, err
	}
	return []uint64{1}, nil
}

func lognoiseGuestCall(ctx context.Context, imports wapchost.ImportTable, mem wapchost.Memory, opLen, payloadLen uint64) ([]uint64, error) {
	msg := []byte("hello")
	mem.Write(logRegion, msg)
	if _, err := callMem(ctx, imports, mem, "__console_log", uint64(logRegion), uint64(len(msg))); err != nil {
		return nil, err
	}
	if _, err := callMem(ctx, imports, mem, "__guest_response", uint64(respRegion), 0); err != nil {
		return nil, err
	}
	return []uint64{1}, nil
}
