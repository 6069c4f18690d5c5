package wapchost

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// HostNamespace is the waPC host import namespace (spec.md section 6.2).
const HostNamespace = "wapc"

const (
	fnGuestRequest    = "__guest_request"
	fnGuestResponse   = "__guest_response"
	fnGuestError      = "__guest_error"
	fnHostCall        = "__host_call"
	fnHostResponse    = "__host_response"
	fnHostResponseLen = "__host_response_len"
	fnHostError       = "__host_error"
	fnHostErrorLen    = "__host_error_len"
	fnConsoleLog      = "__console_log"
)

// newImportTable builds the nine waPC host functions (spec.md section 4.1),
// each closing over state, codec and consoleLog. Every handler acquires its
// borrow of state, performs a bounded copy against the Memory it is handed,
// releases the borrow, and only then invokes a user callback -- see state.go
// and spec.md sections 4.2 and 9.
//
// This is the engine-agnostic generalization of the nine closures the teacher
// duplicates per engine package (see DESIGN.md): an Engine adapter only needs
// to bridge its own function and memory types to HostFunc/Memory once, rather
// than reimplementing ABI semantics per engine.
func newImportTable(state *ModuleState, codec ErrorCodec, consoleLog Logger) ImportTable {
	return ImportTable{
		HostNamespace: ImportModule{
			fnGuestRequest: HostFunc{
				Params:  []ValueType{I32, I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					opPtr := uint32(args[0])
					payloadPtr := uint32(args[1])
					inv := state.request()
					if inv == nil {
						return nil, nil
					}
					if !mem.Write(opPtr, []byte(inv.Operation)) {
						return nil, fmt.Errorf("__guest_request: operation write out of bounds")
					}
					if !mem.Write(payloadPtr, inv.Payload) {
						return nil, fmt.Errorf("__guest_request: payload write out of bounds")
					}
					return nil, nil
				},
			},
			fnGuestResponse: HostFunc{
				Params:  []ValueType{I32, I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					ptr, n := uint32(args[0]), uint32(args[1])
					buf, ok := mem.Read(ptr, n)
					if !ok {
						return nil, fmt.Errorf("__guest_response: read out of bounds")
					}
					state.setGuestResponse(buf)
					return nil, nil
				},
			},
			fnGuestError: HostFunc{
				Params:  []ValueType{I32, I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					ptr, n := uint32(args[0]), uint32(args[1])
					buf, ok := mem.Read(ptr, n)
					if !ok {
						return nil, fmt.Errorf("__guest_error: read out of bounds")
					}
					guestErr, err := codec.Decode(buf)
					if err != nil {
						// A codec failure traps the guest (spec.md section 4.1).
						return nil, fmt.Errorf("__guest_error: decode failed: %w", err)
					}
					state.setGuestError(guestErr)
					return nil, nil
				},
			},
			fnHostCall: HostFunc{
				Params:  []ValueType{I32, I32, I32, I32, I32, I32, I32, I32},
				Results: []ValueType{I32},
				Func: func(ctx context.Context, mem Memory, args []uint64) ([]uint64, error) {
					state.beginHostCall()

					bdPtr, bdLen := uint32(args[0]), uint32(args[1])
					nsPtr, nsLen := uint32(args[2]), uint32(args[3])
					opPtr, opLen := uint32(args[4]), uint32(args[5])
					payloadPtr, payloadLen := uint32(args[6]), uint32(args[7])

					binding, err := readUTF8(mem, bdPtr, bdLen, fnHostCall, "binding")
					if err != nil {
						return nil, err
					}
					namespace, err := readUTF8(mem, nsPtr, nsLen, fnHostCall, "namespace")
					if err != nil {
						return nil, err
					}
					operation, err := readUTF8(mem, opPtr, opLen, fnHostCall, "operation")
					if err != nil {
						return nil, err
					}
					payload, ok := mem.Read(payloadPtr, payloadLen)
					if !ok {
						return nil, fmt.Errorf("__host_call: payload read out of bounds")
					}

					log.WithField("guest", state.ID()).
						Debugf("host call binding=%q namespace=%q operation=%q, %d byte payload", binding, namespace, operation, len(payload))

					handler := state.callHandler()
					if handler == nil {
						state.setHostOutcome(nil, fmt.Errorf("missing host callback function"))
						return []uint64{0}, nil
					}

					resp, callErr := handler(state.ID(), binding, namespace, operation, payload)
					if callErr != nil {
						state.setHostOutcome(nil, callErr)
						return []uint64{0}, nil
					}
					state.setHostOutcome(resp, nil)
					return []uint64{1}, nil
				},
			},
			fnHostResponse: HostFunc{
				Params:  []ValueType{I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					resp := state.hostResponseBytes()
					if resp == nil {
						return nil, nil
					}
					ptr := uint32(args[0])
					if !mem.Write(ptr, resp) {
						return nil, fmt.Errorf("__host_response: write out of bounds")
					}
					return nil, nil
				},
			},
			fnHostResponseLen: HostFunc{
				Params:  nil,
				Results: []ValueType{I32},
				Func: func(_ context.Context, _ Memory, _ []uint64) ([]uint64, error) {
					return []uint64{uint64(len(state.hostResponseBytes()))}, nil
				},
			},
			fnHostError: HostFunc{
				Params:  []ValueType{I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					hostErr := state.hostErrorValue()
					if hostErr == nil {
						return nil, nil
					}
					buf, err := codec.Encode(hostErr)
					if err != nil {
						return nil, fmt.Errorf("__host_error: encode failed: %w", err)
					}
					ptr := uint32(args[0])
					if !mem.Write(ptr, buf) {
						return nil, fmt.Errorf("__host_error: write out of bounds")
					}
					return nil, nil
				},
			},
			fnHostErrorLen: HostFunc{
				Params:  nil,
				Results: []ValueType{I32},
				Func: func(_ context.Context, _ Memory, _ []uint64) ([]uint64, error) {
					hostErr := state.hostErrorValue()
					if hostErr == nil {
						return []uint64{0}, nil
					}
					buf, err := codec.Encode(hostErr)
					if err != nil {
						return nil, fmt.Errorf("__host_error_len: encode failed: %w", err)
					}
					return []uint64{uint64(len(buf))}, nil
				},
			},
			fnConsoleLog: HostFunc{
				Params:  []ValueType{I32, I32},
				Results: nil,
				Func: func(_ context.Context, mem Memory, args []uint64) ([]uint64, error) {
					ptr, n := uint32(args[0]), uint32(args[1])
					msg, err := readUTF8(mem, ptr, n, fnConsoleLog, "msg")
					if err != nil {
						return nil, err
					}
					if cb := state.logHandler(); cb != nil {
						if err := cb(state.ID(), msg); err != nil {
							return nil, fmt.Errorf("__console_log: log callback failed: %w", err)
						}
						return nil, nil
					}
					if consoleLog != nil {
						consoleLog(msg)
					} else {
						defaultLogSink(state.ID(), msg)
					}
					return nil, nil
				},
			},
		},
	}
}

func readUTF8(mem Memory, ptr, n uint32, fnName, field string) (string, error) {
	buf, ok := mem.Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("%s: %s read out of bounds", fnName, field)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%s: %s is not valid utf-8", fnName, field)
	}
	return string(buf), nil
}
