package wapchost

import "fmt"

// NoSuchFunction is returned when a caller names an export that does not
// exist. The core itself never constructs this error directly -- it is
// reserved for embedders that resolve their own exports through an Engine and
// want to report failures through the same taxonomy.
type NoSuchFunction struct {
	Name string
}

func (e *NoSuchFunction) Error() string {
	return fmt.Sprintf("no such function: %s", e.Name)
}

// IO wraps an I/O failure surfaced to the embedder.
type IO struct {
	Err error
}

func (e *IO) Error() string {
	return fmt.Sprintf("io error: %s", e.Err)
}

func (e *IO) Unwrap() error {
	return e.Err
}

// WasmMisc covers any engine-side failure: compile, instantiate, store
// acquisition, memory read/write failure, or typed-call-conversion failure.
type WasmMisc struct {
	Msg string
}

func (e *WasmMisc) Error() string {
	return e.Msg
}

// HostCallFailure is reserved for an embedder-facing API that reports a
// nested __host_call failure back through Go's error interface. It is never
// constructed on the wire path: host_error/__host_error_len carry the raw
// error the host callback returned, unwrapped, per spec.md section 4.1.
type HostCallFailure struct {
	Inner error
}

func (e *HostCallFailure) Error() string {
	return fmt.Sprintf("host call failed: %s", e.Inner)
}

func (e *HostCallFailure) Unwrap() error {
	return e.Inner
}

// GuestCallFailure is returned when a guest call fails: a missing
// __guest_call export, a failing _start/wapc_init, the guest returning 0, or
// the guest returning nonzero with no response set.
type GuestCallFailure struct {
	Inner string
}

func (e *GuestCallFailure) Error() string {
	return e.Inner
}

func wasmMiscf(format string, args ...interface{}) error {
	return &WasmMisc{Msg: fmt.Sprintf(format, args...)}
}

func guestCallFailuref(format string, args ...interface{}) error {
	return &GuestCallFailure{Inner: fmt.Sprintf(format, args...)}
}
