package bot

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fpt/signal-bot/pkg/scheduler"
)

// FaultHandler is told about errors and panics raised by hooks. Returning
// true lets dispatch continue with the next hook; false makes Dispatch
// return the error. Cron jobs are rescheduled either way.
type FaultHandler interface {
	HandleCallbackError(err error, hook HookInfo) bool
}

// FaultHandlerFunc adapts a function to FaultHandler.
type FaultHandlerFunc func(err error, hook HookInfo) bool

func (f FaultHandlerFunc) HandleCallbackError(err error, hook HookInfo) bool { return f(err, hook) }

// Personality is a named set of hooks that applies to messages from
// particular senders or conversations. A personality with no contexts
// applies everywhere.
type Personality struct {
	name     string
	contexts map[string]struct{}

	mu      sync.RWMutex
	hooks   []*hook
	crons   []*CronJob
	fault   FaultHandler
	started StartedHandler
	bot     *Bot
}

// NewPersonality returns a personality scoped to the given sender or
// conversation identifiers.
func NewPersonality(name string, contexts ...string) *Personality {
	p := &Personality{name: name, contexts: make(map[string]struct{}, len(contexts))}
	for _, c := range contexts {
		p.contexts[c] = struct{}{}
	}
	return p
}

func (p *Personality) Name() string { return p.name }

// Contexts returns the identifiers the personality is scoped to, sorted.
func (p *Personality) Contexts() []string {
	out := make([]string, 0, len(p.contexts))
	for c := range p.contexts {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Matches reports whether c's sender (number or UUID) or conversation is in
// scope.
func (p *Personality) Matches(c Context) bool {
	if len(p.contexts) == 0 {
		return true
	}
	for _, id := range []string{string(c.Sender), string(c.SenderUUID), c.Conversation} {
		if _, ok := p.contexts[id]; ok && id != "" {
			return true
		}
	}
	return false
}

// SetFaultHandler replaces the handler for faults raised by this
// personality's hooks.
func (p *Personality) SetFaultHandler(h FaultHandler) {
	p.mu.Lock()
	p.fault = h
	p.mu.Unlock()
}

// OnStarted registers fn to run once the bot is running.
func (p *Personality) OnStarted(fn StartedHandler) {
	p.mu.Lock()
	p.started = fn
	p.mu.Unlock()
}

// Register appends a hook. Hooks are evaluated in registration order
// regardless of trigger kind.
func (p *Personality) Register(trigger Trigger, h Handler) HookID {
	hk := &hook{id: nextHookID(), trigger: trigger, handler: h, personality: p}
	p.mu.Lock()
	p.hooks = append(p.hooks, hk)
	p.mu.Unlock()
	return hk.id
}

// Remove unregisters the hook with the given id. A dispatch already in
// progress will not invoke it once Remove returns.
func (p *Personality) Remove(id HookID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := slices.IndexFunc(p.hooks, func(h *hook) bool { return h.id == id })
	if idx < 0 {
		return false
	}
	p.hooks[idx].removed.Store(true)
	p.hooks = slices.Delete(p.hooks, idx, idx+1)
	return true
}

func (p *Personality) OnMessage(h Handler) { p.Register(Any(), h) }

func (p *Personality) OnPrefix(prefix string, h Handler) { p.Register(Prefix(prefix), h) }

func (p *Personality) OnKeyword(keyword string, h Handler, opts ...KeywordOption) {
	p.Register(Keyword(keyword, opts...), h)
}

func (p *Personality) OnMention(identity Account, h Handler) { p.Register(MentionOf(identity), h) }

// OnCron registers h to run whenever expr matches. The expression is
// validated here; one that does not parse or never fires returns a
// *scheduler.ScheduleError.
func (p *Personality) OnCron(expr string, h CronHandler) (*CronJob, error) {
	id := nextHookID()
	name := fmt.Sprintf("%s/cron#%d", p.name, id)
	p.mu.RLock()
	attached := p.bot
	p.mu.RUnlock()
	loc, now := time.UTC, time.Now()
	if attached != nil {
		loc, now = attached.location, attached.clock.Now()
	}
	if err := scheduler.Validate(name, expr, loc, now); err != nil {
		return nil, err
	}

	job := &CronJob{id: id, name: name, expr: expr, handler: h, personality: p}
	p.mu.Lock()
	p.crons = append(p.crons, job)
	b := p.bot
	p.mu.Unlock()

	if b != nil {
		b.activateCron(job)
	}
	return job, nil
}

// RemoveCron unregisters job and cancels its future firings.
func (p *Personality) RemoveCron(job *CronJob) bool {
	p.mu.Lock()
	idx := slices.Index(p.crons, job)
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	p.crons = slices.Delete(p.crons, idx, idx+1)
	b := p.bot
	p.mu.Unlock()

	if b != nil {
		b.deactivateCron(job)
	}
	return true
}

func (p *Personality) snapshot() []*hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.hooks)
}

func (p *Personality) cronSnapshot() []*CronJob {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.crons)
}

func (p *Personality) faultHandler() FaultHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fault
}

func (p *Personality) startedHandler() StartedHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// attach binds p to b. It reports false if p already belongs to a bot.
func (p *Personality) attach(b *Bot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bot != nil {
		return false
	}
	p.bot = b
	return true
}

// CronJob is a cron registration owned by a personality.
type CronJob struct {
	id          HookID
	name        string
	expr        string
	handler     CronHandler
	personality *Personality

	mu  sync.Mutex
	job *scheduler.Job
}

func (j *CronJob) Name() string { return j.name }

func (j *CronJob) info() HookInfo {
	return HookInfo{ID: j.id, Kind: TriggerCron, Criterion: j.expr, Personality: j.personality.Name()}
}
