package bot

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// HookError is a fault raised by a hook, including a recovered panic.
type HookError struct {
	Hook HookInfo
	Err  error
}

func (e *HookError) Error() string { return fmt.Sprintf("hook %s: %v", e.Hook, e.Err) }

func (e *HookError) Unwrap() error { return e.Err }

// PanicError carries the value a hook panicked with.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Resolve returns the personalities whose scope includes c, in the order
// they were added.
func (b *Bot) Resolve(c Context) []*Personality {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Personality
	for _, p := range b.personalities {
		if p.Matches(c) {
			out = append(out, p)
		}
	}
	return out
}

// Dispatch offers msg to the hooks of every matching personality, then to
// the bot's own hooks, until one reports it handled. Hook lists are
// captured when dispatch starts, so registrations made by a running hook
// apply to later messages.
func (b *Bot) Dispatch(ctx context.Context, msg *Message) (bool, error) {
	c := ContextOf(msg)
	log := b.logger.WithDispatch(uuid.NewString())
	log.DebugWithIntention(pkgLogger.IntentionDispatch, "Dispatching message",
		"sender", c.Sender, "conversation", c.Conversation, "group", c.Group)

	order := append(b.Resolve(c), b.Personality)
	for _, p := range order {
		for _, h := range p.snapshot() {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if h.removed.Load() || !h.trigger.Match(msg) {
				continue
			}

			handled, err := b.invoke(ctx, h, c, msg)
			if err != nil {
				herr := &HookError{Hook: h.info(), Err: err}
				if !b.handleFault(log, p, herr) {
					return false, herr
				}
				continue
			}
			if handled {
				log.DebugWithIntention(pkgLogger.IntentionSuccess, "Message handled", "hook", h.info())
				return true, nil
			}
		}
	}
	log.DebugWithIntention(pkgLogger.IntentionDispatch, "Message not handled")
	return false, nil
}

func (b *Bot) invoke(ctx context.Context, h *hook, c Context, msg *Message) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled, err = false, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.handler(ctx, b, c, msg)
}

// handleFault routes herr to the owning personality's fault handler, then
// the bot's, then the default policy of logging and continuing.
func (b *Bot) handleFault(log *pkgLogger.Logger, owner *Personality, herr *HookError) bool {
	for _, p := range []*Personality{owner, b.Personality} {
		if p == nil {
			continue
		}
		if fh := p.faultHandler(); fh != nil {
			return fh.HandleCallbackError(herr.Err, herr.Hook)
		}
	}
	log.Error("Hook failed", "hook", herr.Hook, "error", herr.Err)
	return true
}
