package wapchost

import "github.com/vmihailenco/msgpack/v5"

// ErrorCodec serializes the errors that cross the guest/host boundary via
// guest_error and host_error (spec.md section 4.1). It is invoked at exactly
// two sites: decoding in __guest_error, and encoding in both __host_error and
// __host_error_len. The two must agree -- the length reported by
// __host_error_len and the bytes written by __host_error must come from a
// single serialization of the same value (a codec that reserializes on every
// call is fine as long as it is deterministic for equal inputs).
type ErrorCodec interface {
	// Encode serializes err into bytes to hand to the guest.
	Encode(err error) ([]byte, error)
	// Decode deserializes bytes written by the guest into an error.
	Decode(data []byte) (error, error)
}

// wireError is the on-the-wire shape used by msgpackErrorCodec. It is
// intentionally minimal: waPC guests only ever need the message.
type wireError struct {
	Message string `msgpack:"message"`
}

// msgpackErrorCodec implements ErrorCodec using MessagePack, matching the
// codec already in use across the waPC ecosystem repos in this retrieval pack
// (see DESIGN.md).
type msgpackErrorCodec struct{}

// NewMsgpackErrorCodec returns the default ErrorCodec.
func NewMsgpackErrorCodec() ErrorCodec {
	return msgpackErrorCodec{}
}

func (msgpackErrorCodec) Encode(err error) ([]byte, error) {
	if err == nil {
		return msgpack.Marshal(wireError{})
	}
	return msgpack.Marshal(wireError{Message: err.Error()})
}

func (msgpackErrorCodec) Decode(data []byte) (error, error) {
	var w wireError
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &GuestCallFailure{Inner: w.Message}, nil
}
