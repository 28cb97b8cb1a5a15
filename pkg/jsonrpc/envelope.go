// Package jsonrpc frames and parses JSON-RPC 2.0 messages exchanged with
// signal-cli over a newline-delimited byte stream.
package jsonrpc

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Kind discriminates the three envelope shapes.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Envelope is one decoded JSON-RPC message: *Request, *Response or *Notification.
type Envelope interface {
	Kind() Kind
}

// Request is a call that expects a Response carrying the same ID.
type Request struct {
	ID     int64
	Method string
	Params json.RawMessage
}

func (*Request) Kind() Kind { return KindRequest }

// Notification is a call without an ID. No response is expected.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Notification) Kind() Kind { return KindNotification }

// Response answers the Request with the same ID. Exactly one of Result and
// Error is set.
type Response struct {
	ID     int64
	Result json.RawMessage
	Error  *RemoteError
}

func (*Response) Kind() Kind { return KindResponse }

// CodeMethodNotFound is the JSON-RPC 2.0 error code for unknown methods.
const CodeMethodNotFound = -32601

// NewRequest builds a request, marshalling params unless they are already raw JSON.
func NewRequest(id int64, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		return raw, nil
	}
}
