// Package transport runs a JSON-RPC session over a duplex byte stream. It
// correlates outbound calls with their responses and hands unsolicited
// notifications to a single registered consumer.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/signal-bot/pkg/jsonrpc"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// ErrTimeout is returned by Call when no response arrived before the deadline.
var ErrTimeout = errors.New("transport: call timed out")

const (
	// DefaultCallTimeout applies to calls whose context has no deadline.
	DefaultCallTimeout = 5 * time.Second
	// DefaultNotificationBuffer bounds notifications held before a handler
	// is registered.
	DefaultNotificationBuffer = 64
)

// NotificationHandler consumes inbound notifications. Each invocation runs on
// its own goroutine; ctx is cancelled when the transport closes.
type NotificationHandler func(ctx context.Context, n *jsonrpc.Notification)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *pkgLogger.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l.WithComponent("transport")
		}
	}
}

// WithCallTimeout sets the timeout for calls without a context deadline.
// Zero disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) { t.callTimeout = d }
}

// WithNotificationBuffer sets how many early notifications are kept.
func WithNotificationBuffer(n int) Option {
	return func(t *Transport) {
		if n >= 0 {
			t.bufferSize = n
		}
	}
}

// WithMaxFrameSize bounds a single inbound frame.
func WithMaxFrameSize(n int) Option {
	return func(t *Transport) { t.maxFrame = n }
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Transport owns conn for its whole lifetime.
type Transport struct {
	conn        io.ReadWriteCloser
	logger      *pkgLogger.Logger
	callTimeout time.Duration
	bufferSize  int
	maxFrame    int

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan callResult
	handler NotificationHandler
	queued  []*jsonrpc.Notification
	closed  bool
	err     error

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	readDone chan struct{}
}

// New takes ownership of conn and starts reading from it immediately.
func New(conn io.ReadWriteCloser, opts ...Option) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:        conn,
		logger:      pkgLogger.NewComponentLogger("transport"),
		callTimeout: DefaultCallTimeout,
		bufferSize:  DefaultNotificationBuffer,
		pending:     make(map[int64]chan callResult),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.readLoop()
	return t
}

// Call sends a request and waits for its response. A response carrying an
// error member is returned as *jsonrpc.RemoteError.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
			defer cancel()
		}
	}

	t.mu.Lock()
	if t.closed {
		err := t.err
		t.mu.Unlock()
		return nil, err
	}
	t.nextID++
	id := t.nextID
	ch := make(chan callResult, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		t.forget(id)
		return nil, err
	}
	t.logger.DebugWithIntention(pkgLogger.IntentionRPC, "Sending request", "method", method, "id", id)
	if err := t.write(req); err != nil {
		t.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		if !t.forget(id) {
			// The read loop or shutdown got there first.
			res := <-ch
			return res.result, res.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.logger.Warn("Call timed out", "method", method, "id", id)
			return nil, errors.Wrapf(ErrTimeout, "%s (id %d)", method, id)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification. No response is expected.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Err(); err != nil {
		return err
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return t.write(n)
}

// OnNotification registers the notification consumer and flushes anything
// buffered before it. A later registration replaces the earlier one.
func (t *Transport) OnNotification(h NotificationHandler) {
	t.mu.Lock()
	t.handler = h
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()

	if h == nil {
		return
	}
	for _, n := range queued {
		t.spawn(h, n)
	}
}

// Done is closed once the transport has shut down.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns nil while the transport is open, and an error matching
// jsonrpc.ErrTransportClosed afterwards.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		return nil
	}
	return t.err
}

// Close shuts the transport down, failing outstanding calls, and waits for
// the read loop to exit. It is safe to call more than once.
func (t *Transport) Close() error {
	err := t.shutdown(nil)
	<-t.readDone
	return err
}

func (t *Transport) readLoop() {
	defer close(t.readDone)

	dec := jsonrpc.NewDecoder(t.conn, t.maxFrame)
	for env, err := range dec.All() {
		if err != nil {
			if jsonrpc.IsProtocolError(err) {
				t.logger.Warn("Dropping malformed frame", "error", err)
				continue
			}
			t.shutdown(err)
			return
		}
		switch e := env.(type) {
		case *jsonrpc.Response:
			t.resolve(e)
		case *jsonrpc.Notification:
			t.deliver(e)
		case *jsonrpc.Request:
			t.logger.Warn("Rejecting request from peer", "method", e.Method, "id", e.ID)
			go t.reject(e)
		}
	}
	t.shutdown(io.EOF)
}

func (t *Transport) resolve(resp *jsonrpc.Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	delete(t.pending, resp.ID)
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("Dropping response for unknown or expired call", "id", resp.ID)
		return
	}
	if resp.Error != nil {
		ch <- callResult{err: resp.Error}
		return
	}
	ch <- callResult{result: resp.Result}
}

func (t *Transport) deliver(n *jsonrpc.Notification) {
	t.mu.Lock()
	h := t.handler
	if h == nil {
		if len(t.queued) >= t.bufferSize {
			t.mu.Unlock()
			t.logger.Warn("Notification buffer full, dropping", "method", n.Method, "buffer", t.bufferSize)
			return
		}
		t.queued = append(t.queued, n)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.spawn(h, n)
}

func (t *Transport) spawn(h NotificationHandler, n *jsonrpc.Notification) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("Notification handler panicked", "method", n.Method, "panic", r)
			}
		}()
		h(t.ctx, n)
	}()
}

func (t *Transport) reject(req *jsonrpc.Request) {
	_ = t.write(&jsonrpc.Response{ID: req.ID, Error: &jsonrpc.RemoteError{
		Code:    jsonrpc.CodeMethodNotFound,
		Message: "client does not serve requests",
	}})
}

// forget removes a pending call. It reports false if the entry was already
// consumed by a response or by shutdown.
func (t *Transport) forget(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

func (t *Transport) write(env jsonrpc.Envelope) error {
	data, err := jsonrpc.Marshal(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.Err(); err != nil {
		return err
	}
	if _, err := t.conn.Write(data); err != nil {
		closed := jsonrpc.Closed(err)
		t.shutdown(closed)
		return closed
	}
	return nil
}

// shutdown closes the connection once and fails every pending call.
func (t *Transport) shutdown(cause error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.err = jsonrpc.Closed(cause)
	pending := t.pending
	t.pending = make(map[int64]chan callResult)
	dropped := len(t.queued)
	t.queued = nil
	t.mu.Unlock()

	if cause != nil && !errors.Is(cause, io.EOF) {
		t.logger.Warn("Transport closed", "error", cause)
	} else {
		t.logger.DebugWithIntention(pkgLogger.IntentionConnect, "Transport closed")
	}
	if dropped > 0 {
		t.logger.Warn("Discarding undelivered notifications", "count", dropped)
	}

	t.cancel()
	err := t.conn.Close()
	for _, ch := range pending {
		ch <- callResult{err: t.err}
	}
	close(t.done)
	return err
}
