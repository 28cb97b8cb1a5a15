package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransportClosed is returned once the underlying stream is gone. It is
// fatal to every outstanding and future call on that stream.
var ErrTransportClosed = errors.New("jsonrpc: transport closed")

// ProtocolError reports a single malformed frame. The stream it came from is
// still usable.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jsonrpc: malformed frame: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is the error member of a failed response, returned to the caller
// of the matching request.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("jsonrpc: remote error %d: %s", e.Code, e.Message)
}

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// closedError wraps cause so that it matches ErrTransportClosed while keeping
// the cause visible in the message.
type closedError struct {
	cause error
}

func (e *closedError) Error() string {
	return ErrTransportClosed.Error() + ": " + e.cause.Error()
}

func (e *closedError) Is(target error) bool { return target == ErrTransportClosed }

func (e *closedError) Unwrap() error { return e.cause }

// Closed returns an error matching ErrTransportClosed that carries cause.
func Closed(cause error) error {
	if cause == nil {
		return ErrTransportClosed
	}
	if errors.Is(cause, ErrTransportClosed) {
		return cause
	}
	return &closedError{cause: cause}
}
