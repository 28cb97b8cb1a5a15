// Package bot connects hooks to a signal-cli JSON-RPC session. Incoming
// messages are dispatched to personalities and the bot's own hooks; cron
// hooks run on a scheduler; hooks talk back through the *Bot they are given.
package bot

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fpt/signal-bot/pkg/clock"
	"github.com/fpt/signal-bot/pkg/jsonrpc"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
	"github.com/fpt/signal-bot/pkg/scheduler"
	"github.com/fpt/signal-bot/pkg/transport"
)

// ErrRunning is returned by Run when the bot is already running.
var ErrRunning = errors.New("bot: already running")

// MethodReceive is the notification signal-cli sends for each incoming
// envelope.
const MethodReceive = "receive"

// RPC is the session the bot drives. *transport.Transport implements it.
type RPC interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	OnNotification(h transport.NotificationHandler)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Option configures a Bot.
type Option func(*Bot)

func WithLogger(l *pkgLogger.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.base = l
			b.logger = l.WithComponent("bot")
		}
	}
}

// WithClock sets the clock used for the start time and cron schedules.
func WithClock(c clock.Clock) Option {
	return func(b *Bot) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(b *Bot) { b.location = loc }
}

// WithFaultHandler sets the bot-level fault handler, used for hooks whose
// personality has none.
func WithFaultHandler(h FaultHandler) Option {
	return func(b *Bot) { b.Personality.SetFaultHandler(h) }
}

// WithTransportOptions configures the transport Connect creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(b *Bot) { b.transportOpts = append(b.transportOpts, opts...) }
}

// WithDialOptions configures how Connect reaches the daemon.
func WithDialOptions(opts ...transport.DialOption) Option {
	return func(b *Bot) { b.dialOpts = append(b.dialOpts, opts...) }
}

// Bot is the handle hooks receive. Its embedded Personality holds the
// hooks that apply to every message not handled by a personality.
type Bot struct {
	*Personality

	account  Account
	rpc      RPC
	base     *pkgLogger.Logger // untagged, handed to the transport and scheduler
	logger   *pkgLogger.Logger
	clock    clock.Clock
	location *time.Location
	sched    *scheduler.Scheduler

	transportOpts []transport.Option
	dialOpts      []transport.DialOption

	mu            sync.RWMutex
	personalities []*Personality
	running       bool
	startedAt     time.Time
	runCtx        context.Context
	background    sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// New returns a bot for account that talks over rpc.
func New(account Account, rpc RPC, opts ...Option) *Bot {
	b := newBot(account, opts)
	b.rpc = rpc
	return b
}

// Connect dials connection (see transport.Dial) and returns a bot on top of
// the resulting transport.
func Connect(ctx context.Context, account Account, connection string, opts ...Option) (*Bot, error) {
	b := newBot(account, opts)

	dialOpts := append([]transport.DialOption{transport.WithDialLogger(b.base)}, b.dialOpts...)
	conn, err := transport.Dial(ctx, connection, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", connection)
	}
	transportOpts := append([]transport.Option{transport.WithLogger(b.base)}, b.transportOpts...)
	b.rpc = transport.New(conn, transportOpts...)
	b.logger.InfoWithIntention(pkgLogger.IntentionConnect, "Connected", "connection", connection, "account", account)
	return b, nil
}

func newBot(account Account, opts []Option) *Bot {
	b := &Bot{
		Personality: NewPersonality("root"),
		account:     account,
		base:        pkgLogger.Default,
		logger:      pkgLogger.NewComponentLogger("bot"),
		clock:       clock.Real(),
		stopped:     make(chan struct{}),
	}
	b.Personality.attach(b)
	for _, opt := range opts {
		opt(b)
	}
	b.sched = scheduler.New(
		scheduler.WithClock(b.clock),
		scheduler.WithLogger(b.base),
		scheduler.WithLocation(b.location),
	)
	return b
}

// Account returns the account the bot acts as.
func (b *Bot) Account() Account { return b.account }

// StartedAt returns when Run began. Envelopes sent before then are ignored.
func (b *Bot) StartedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.startedAt
}

// AddPersonality appends p to the personalities consulted before the bot's
// own hooks. It is safe to call while messages are being dispatched.
func (b *Bot) AddPersonality(p *Personality) {
	if !p.attach(b) {
		b.logger.Warn("Personality already belongs to a bot", "personality", p.Name())
		return
	}
	b.mu.Lock()
	b.personalities = append(b.personalities, p)
	running, runCtx := b.running, b.runCtx
	if running {
		b.background.Add(1)
	}
	b.mu.Unlock()

	b.logger.DebugWithIntention(pkgLogger.IntentionConfig, "Personality added",
		"personality", p.Name(), "contexts", p.Contexts())
	if !running {
		return
	}
	for _, job := range p.cronSnapshot() {
		b.activateCron(job)
	}
	go func() {
		defer b.background.Done()
		b.runStarted(runCtx, p)
	}()
}

// Personalities returns the added personalities in order.
func (b *Bot) Personalities() []*Personality {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Personality(nil), b.personalities...)
}

// Run starts consuming notifications and firing cron jobs. It blocks until
// ctx is done, Stop is called or the transport fails, and returns the
// transport's error in the last case. The transport is closed on return.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	b.startedAt = b.clock.Now()
	b.runCtx = ctx
	personalities := append([]*Personality{b.Personality}, b.personalities...)
	b.mu.Unlock()

	b.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Bot started",
		"account", b.account, "personalities", len(personalities)-1)

	b.rpc.OnNotification(b.handleNotification)
	for _, p := range personalities {
		for _, job := range p.cronSnapshot() {
			b.activateCron(job)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.sched.Run(gctx)
	})
	g.Go(func() error {
		for _, p := range personalities {
			b.runStarted(gctx, p)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-gctx.Done():
			return nil
		case <-b.stopped:
			return nil
		case <-b.rpc.Done():
			select {
			case <-b.stopped:
				return nil
			default:
			}
			return b.rpc.Err()
		}
	})

	err := g.Wait()
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.background.Wait()
	b.Stop()
	if err != nil {
		b.logger.Error("Bot stopped", "error", err)
	} else {
		b.logger.InfoWithIntention(pkgLogger.IntentionCancel, "Bot stopped")
	}
	return err
}

// Stop ends Run and closes the transport. It is safe to call more than once.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
		if err := b.rpc.Close(); err != nil {
			b.logger.Debug("Closing transport", "error", err)
		}
	})
}

// Call invokes method on the daemon with the bot's account added to params.
func (b *Bot) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	return b.rpc.Call(ctx, method, b.withAccount(params))
}

// Notify sends method without waiting for a reply, adding the bot's account
// to params.
func (b *Bot) Notify(ctx context.Context, method string, params map[string]any) error {
	return b.rpc.Notify(ctx, method, b.withAccount(params))
}

func (b *Bot) withAccount(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	maps.Copy(out, params)
	out["account"] = string(b.account)
	return out
}

func (b *Bot) handleNotification(ctx context.Context, n *jsonrpc.Notification) {
	switch n.Method {
	case MethodReceive:
		b.receive(ctx, n.Params)
	default:
		b.logger.Warn("Unexpected notification", "method", n.Method)
	}
}

func (b *Bot) receive(ctx context.Context, raw json.RawMessage) {
	var params receiveParams
	if err := json.Unmarshal(raw, &params); err != nil {
		b.logger.Warn("Malformed receive notification", "error", err)
		return
	}
	env := params.Envelope
	if env == nil {
		b.logger.Debug("Receive notification without envelope")
		return
	}
	if sent := time.UnixMilli(env.Timestamp); !sent.After(b.StartedAt()) {
		b.logger.Debug("Skipping envelope from before start", "timestamp", env.Timestamp)
		return
	}
	msg, ok := NewMessage(env)
	if !ok {
		return
	}

	if _, err := b.Dispatch(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Dispatch failed", "sender", msg.Sender, "error", err)
	}
}

func (b *Bot) runStarted(ctx context.Context, p *Personality) {
	fn := p.startedHandler()
	if fn == nil {
		return
	}
	info := HookInfo{Kind: TriggerStarted, Personality: p.Name()}
	if err := b.invokeStarted(ctx, fn); err != nil {
		b.handleFault(b.logger, p, &HookError{Hook: info, Err: err})
	}
}

func (b *Bot) invokeStarted(ctx context.Context, fn StartedHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, b)
}

// activateCron hands job to the scheduler if the bot is running and the
// job is not scheduled yet.
func (b *Bot) activateCron(job *CronJob) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.job != nil {
		return
	}
	sj, err := b.sched.Schedule(job.expr, job.name, b.cronFunc(job))
	if err != nil {
		b.logger.Error("Scheduling cron hook", "hook", job.info(), "error", err)
		return
	}
	job.job = sj
}

func (b *Bot) deactivateCron(job *CronJob) {
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.job != nil {
		b.sched.Remove(job.job)
		job.job = nil
	}
}

// cronFunc wraps a cron hook so its faults take the same route as message
// hook faults. The job stays scheduled whatever the fault handler returns.
func (b *Bot) cronFunc(job *CronJob) scheduler.Func {
	return func(ctx context.Context) error {
		if err := b.invokeCron(ctx, job); err != nil {
			b.handleFault(b.logger, job.personality, &HookError{Hook: job.info(), Err: err})
		}
		return nil
	}
}

func (b *Bot) invokeCron(ctx context.Context, job *CronJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return job.handler(ctx, b)
}

// NextCron returns when job fires next, or false if it is not scheduled.
func (b *Bot) NextCron(job *CronJob) (time.Time, bool) {
	job.mu.Lock()
	sj := job.job
	job.mu.Unlock()
	if sj == nil {
		return time.Time{}, false
	}
	return b.sched.Next(sj)
}
