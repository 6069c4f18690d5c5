package wapchost

import "github.com/sirupsen/logrus"

// Logger is the function invoked from __console_log inside a waPC guest.
type Logger func(msg string)

// HostCallHandler is invoked when a guest performs a host call via
// __host_call (spec.md section 6.3).
type HostCallHandler func(id uint64, binding, namespace, operation string, payload []byte) ([]byte, error)

// LogCallback is invoked for every __console_log delivery when set (spec.md
// section 6.4).
type LogCallback func(id uint64, message string) error

// NoOpHostCallHandler is a HostCallHandler that performs no work. Useful for
// hosts that never expect their guests to make host calls.
func NoOpHostCallHandler(uint64, string, string, string, []byte) ([]byte, error) {
	return []byte{}, nil
}

var log = logrus.StandardLogger()

// defaultLogSink is used when no LogCallback has been installed on a
// WapcHost. It mirrors the wapc-rust original's `info!("[Guest {}]: {}", id,
// msg)` call site (original_source/src/callbacks.rs).
func defaultLogSink(id uint64, msg string) {
	log.Infof("[Guest %d]: %s", id, msg)
}
