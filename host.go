package wapchost

import (
	"context"
	"fmt"
)

const (
	exportGuestCall = "__guest_call"
	exportStart     = "_start"
	exportWapcInit  = "wapc_init"
)

// WapcHost is the public driver described in spec.md section 4.3: it owns the
// lifecycle of a ModuleState, a compiled module and its single live instance,
// and mediates every guest Call and hot swap (ReplaceModule).
//
// A WapcHost is not required to be safe for concurrent Call from multiple
// threads (spec.md section 5); external coordination is the embedder's
// responsibility.
type WapcHost struct {
	state *ModuleState
	codec ErrorCodec
	wasi  *WASIConfig

	engine     Engine
	consoleLog Logger

	compiled  CompiledModule
	instance  GuestInstance
	guestCall GuestFunc
}

// Option configures a WapcHost at construction time.
type Option func(*WapcHost)

// WithLogger installs a LogCallback invoked for every __console_log
// delivery (spec.md section 6.4). Overrides the default info-level sink.
func WithLogger(cb LogCallback) Option {
	return func(h *WapcHost) {
		h.state.logCallback = cb
	}
}

// WithConsoleLog installs a simple message-only sink for __console_log,
// matching the teacher's SetLogger(wapc.Logger) shape. Ignored if WithLogger
// is also supplied.
func WithConsoleLog(logger Logger) Option {
	return func(h *WapcHost) {
		h.consoleLog = logger
	}
}

// WithWASI attaches WASI parameters reused, unmodified, on every
// instantiation including hot swaps (spec.md section 9).
func WithWASI(cfg *WASIConfig) Option {
	return func(h *WapcHost) {
		h.wasi = cfg
	}
}

// WithErrorCodec overrides the default msgpack ErrorCodec used at the two
// cross-boundary error sites (spec.md section 4.2).
func WithErrorCodec(codec ErrorCodec) Option {
	return func(h *WapcHost) {
		h.codec = codec
	}
}

// New constructs a WapcHost per spec.md section 4.3: allocate an instance id,
// build a fresh ModuleState, compile the module, instantiate with the nine
// waPC imports linked, resolve __guest_call, and invoke _start/wapc_init if
// exported.
func New(ctx context.Context, engine Engine, code []byte, hostCallback HostCallHandler, opts ...Option) (*WapcHost, error) {
	id := nextInstanceID()
	state := newModuleState(id, hostCallback, nil)

	h := &WapcHost{
		state:  state,
		codec:  NewMsgpackErrorCodec(),
		engine: engine,
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.instantiate(ctx, code); err != nil {
		return nil, err
	}
	return h, nil
}

// ID returns the unique, process-wide identifier of this host. Stable for
// the life of the instance, including across hot swaps.
func (h *WapcHost) ID() uint64 {
	return h.state.ID()
}

func (h *WapcHost) instantiate(ctx context.Context, code []byte) error {
	compiled, err := h.engine.Compile(ctx, code)
	if err != nil {
		return wasmMiscf("compile failed: %s", err)
	}

	imports := newImportTable(h.state, h.codec, h.consoleLog)
	instance, err := compiled.Instantiate(ctx, imports, h.wasi)
	if err != nil {
		_ = compiled.Close(ctx)
		return wasmMiscf("instantiate failed: %s", err)
	}

	guestCall, ok := instance.ExportedFunction(exportGuestCall)
	if !ok {
		_ = instance.Close(ctx)
		_ = compiled.Close(ctx)
		return guestCallFailuref("Guest module did not export __guest_call function!")
	}

	if err := runInitExports(ctx, instance); err != nil {
		_ = instance.Close(ctx)
		_ = compiled.Close(ctx)
		return err
	}

	// Swap in the new compiled module/instance only after everything above
	// succeeded, so a failed (re)instantiation never leaves a WapcHost
	// partially updated.
	if h.instance != nil {
		_ = h.instance.Close(ctx)
	}
	if h.compiled != nil {
		_ = h.compiled.Close(ctx)
	}
	h.compiled = compiled
	h.instance = instance
	h.guestCall = guestCall
	return nil
}

// runInitExports invokes _start then wapc_init, each at most once, if
// exported (spec.md section 4.1 plus the wapc_init supplement, see
// SPEC_FULL.md section 5.1).
func runInitExports(ctx context.Context, instance GuestInstance) error {
	for _, name := range []string{exportStart, exportWapcInit} {
		fn, ok := instance.ExportedFunction(name)
		if !ok {
			continue
		}
		if _, err := fn(ctx); err != nil {
			return guestCallFailuref("Error invoking _start function!")
		}
	}
	return nil
}

// Call executes op against the guest with payload, per spec.md section 4.3.
func (h *WapcHost) Call(ctx context.Context, op string, payload []byte) ([]byte, error) {
	log.WithField("guest", h.state.ID()).
		Debugf("guest call %q, %d byte payload", op, len(payload))
	inv := &Invocation{Operation: op, Payload: payload}
	h.state.beginGuestCall(inv)

	results, err := h.guestCall(ctx, uint64(len(op)), uint64(len(payload)))
	if err != nil {
		return nil, wasmMiscf("guest call failed: %s", err)
	}

	success := len(results) > 0 && results[0] != 0
	resp, guestErr := h.state.guestOutcome()

	if !success {
		if guestErr != nil {
			return nil, &GuestCallFailure{Inner: guestErr.Error()}
		}
		return nil, guestCallFailuref("No error message set for call failure")
	}

	if resp != nil {
		return resp, nil
	}
	if guestErr != nil {
		return nil, &GuestCallFailure{Inner: guestErr.Error()}
	}
	return nil, guestCallFailuref("No error message OR response set for call success")
}

// ReplaceModule performs a live hot swap of the underlying guest module
// (spec.md section 4.3 "Hot swap"). The existing ModuleState -- id and
// callbacks -- is reused; only the compiled module and instance are rebuilt,
// using the same WASIConfig captured at construction. No queued or in-flight
// call may span the swap: the caller must not invoke ReplaceModule
// concurrently with Call.
func (h *WapcHost) ReplaceModule(ctx context.Context, code []byte) error {
	log.WithField("guest", h.state.ID()).
		Infof("HOT SWAP - replacing existing WebAssembly module with new buffer, %d bytes", len(code))
	return h.instantiate(ctx, code)
}

// Close releases the underlying compiled module and instance.
func (h *WapcHost) Close(ctx context.Context) error {
	var err error
	if h.instance != nil {
		err = h.instance.Close(ctx)
		h.instance = nil
	}
	if h.compiled != nil {
		if cerr := h.compiled.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		h.compiled = nil
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
