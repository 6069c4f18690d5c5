package wapchost

import "sync/atomic"

// globalInstanceCount is the process-wide, monotonically increasing source of
// WapcHost instance ids (spec.md section 9, "Global instance counter").
// Seeded so the first allocated id is 1.
var globalInstanceCount uint64

func nextInstanceID() uint64 {
	return atomic.AddUint64(&globalInstanceCount, 1)
}

// Invocation is the immutable pair of operation name and payload that
// parameterizes a single guest call (spec.md section 3).
type Invocation struct {
	Operation string
	Payload   []byte
}
