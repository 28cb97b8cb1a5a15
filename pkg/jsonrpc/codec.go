package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize bounds a single newline-delimited frame. signal-cli
// messages with inline previews stay well below this.
const DefaultMaxFrameSize = 16 << 20

// Decoder reads envelopes from a newline-delimited stream.
type Decoder struct {
	r        *bufio.Reader
	maxFrame int
	err      error
}

// NewDecoder returns a decoder reading frames from r. A maxFrame of zero or
// less selects DefaultMaxFrameSize.
func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10), maxFrame: maxFrame}
}

// Next returns the next envelope in the stream.
//
// A malformed frame is reported as a *ProtocolError and decoding may continue
// with the next call. Any other error is terminal and is returned again by
// every later call: io.EOF for a clean end of stream, or an error matching
// ErrTransportClosed when the stream broke, including mid-frame.
func (d *Decoder) Next() (Envelope, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		frame, err := d.readFrame()
		if err != nil {
			d.err = err
			return nil, err
		}
		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}
		return Unmarshal(frame)
	}
}

// All yields every envelope until the stream ends. Protocol errors are
// yielded in place and iteration continues; a clean EOF ends the sequence
// silently and any other terminal error is yielded once as the last element.
func (d *Decoder) All() iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		for {
			env, err := d.Next()
			switch {
			case err == nil:
				if !yield(env, nil) {
					return
				}
			case IsProtocolError(err):
				if !yield(nil, err) {
					return
				}
			case errors.Is(err, io.EOF):
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}

func (d *Decoder) readFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(frame)+len(chunk) > d.maxFrame {
			return nil, Closed(errors.Errorf("frame exceeds %d bytes", d.maxFrame))
		}
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			return frame, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(frame)) == 0 {
				return nil, io.EOF
			}
			return nil, Closed(io.ErrUnexpectedEOF)
		default:
			return nil, Closed(err)
		}
	}
}

type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
}

// Unmarshal classifies and decodes a single frame. Every failure is a
// *ProtocolError.
func Unmarshal(frame []byte) (Envelope, error) {
	var w wireFrame
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, protocolError(frame, err)
	}
	if w.JSONRPC != Version {
		return nil, protocolError(frame, errors.Errorf("unsupported jsonrpc version %q", w.JSONRPC))
	}

	hasID := len(w.ID) > 0 && !bytes.Equal(w.ID, []byte("null"))
	switch {
	case w.Method != nil && !hasID:
		return &Notification{Method: *w.Method, Params: w.Params}, nil
	case w.Method != nil:
		id, err := parseID(w.ID)
		if err != nil {
			return nil, protocolError(frame, err)
		}
		return &Request{ID: id, Method: *w.Method, Params: w.Params}, nil
	case w.Error != nil || w.Result != nil:
		if w.Error != nil && w.Result != nil && !bytes.Equal(w.Result, []byte("null")) {
			return nil, protocolError(frame, errors.New("response carries both result and error"))
		}
		var id int64
		if hasID {
			var err error
			if id, err = parseID(w.ID); err != nil {
				return nil, protocolError(frame, err)
			}
		}
		resp := &Response{ID: id, Error: w.Error}
		if w.Error == nil {
			resp.Result = w.Result
		}
		return resp, nil
	default:
		return nil, protocolError(frame, errors.New("frame is neither a call nor a response"))
	}
}

func parseID(raw json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, errors.Wrapf(err, "invalid id %s", raw)
	}
	return id, nil
}

func protocolError(frame []byte, err error) *ProtocolError {
	return &ProtocolError{Frame: append([]byte(nil), frame...), Err: err}
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type wireError struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      int64        `json:"id"`
	Error   *RemoteError `json:"error"`
}

// Marshal encodes env as one compact frame terminated by a newline.
func Marshal(env Envelope) ([]byte, error) {
	var v any
	switch e := env.(type) {
	case *Request:
		v = wireRequest{JSONRPC: Version, ID: e.ID, Method: e.Method, Params: e.Params}
	case *Notification:
		v = wireNotification{JSONRPC: Version, Method: e.Method, Params: e.Params}
	case *Response:
		if e.Error != nil {
			v = wireError{JSONRPC: Version, ID: e.ID, Error: e.Error}
		} else {
			v = wireResult{JSONRPC: Version, ID: e.ID, Result: e.Result}
		}
	default:
		return nil, errors.Errorf("jsonrpc: cannot encode %T", env)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "jsonrpc: encode")
	}
	return append(data, '\n'), nil
}

// Encode writes env to w as a single frame.
func Encode(w io.Writer, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return Closed(err)
	}
	return nil
}
