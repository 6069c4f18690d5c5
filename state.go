package wapchost

import "sync"

// ModuleState is the per-WapcHost scratchpad holding the five waPC buffers
// described in spec.md section 3. It persists across hot swaps (ReplaceModule
// rebuilds the compiled module and instance, but reuses the same state).
//
// Every accessor takes the mutex, copies what it needs, and releases it
// before invoking any user-supplied callback (host_callback or
// log_callback) -- no lock is ever held across a callback invocation. This is
// the Go rendering of the "single-owner cell, no live borrow across a user
// callback" discipline described in spec.md sections 4.2 and 9; the Rust
// original enforces the same discipline with RefCell borrows scoped to a
// block (original_source/src/callbacks.rs).
type ModuleState struct {
	mu sync.Mutex

	id uint64

	guestRequest  *Invocation
	guestResponse []byte
	guestError    error

	hostResponse []byte
	hostError    error

	hostCallback HostCallHandler
	logCallback  LogCallback
}

func newModuleState(id uint64, hostCallback HostCallHandler, logCallback LogCallback) *ModuleState {
	return &ModuleState{
		id:           id,
		hostCallback: hostCallback,
		logCallback:  logCallback,
	}
}

// ID returns the instance id this state was created with. Stable for the
// life of the owning WapcHost, including across hot swaps.
func (s *ModuleState) ID() uint64 {
	return s.id
}

// beginGuestCall stashes the invocation and clears the guest response/error
// buffers, per spec.md section 4.3 step 1.
func (s *ModuleState) beginGuestCall(inv *Invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestRequest = inv
	s.guestResponse = nil
	s.guestError = nil
}

func (s *ModuleState) request() *Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestRequest
}

func (s *ModuleState) setGuestResponse(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestResponse = b
}

func (s *ModuleState) setGuestError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestError = err
}

func (s *ModuleState) guestOutcome() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestResponse, s.guestError
}

// beginHostCall clears host_response/host_error, per spec.md section 3:
// "Between the start and end of one __host_call, both host_response and
// host_error begin None".
func (s *ModuleState) beginHostCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostResponse = nil
	s.hostError = nil
}

func (s *ModuleState) setHostOutcome(resp []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostResponse = resp
	s.hostError = err
}

func (s *ModuleState) hostResponseBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostResponse
}

func (s *ModuleState) hostErrorValue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostError
}

func (s *ModuleState) callHandler() HostCallHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostCallback
}

func (s *ModuleState) logHandler() LogCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logCallback
}
