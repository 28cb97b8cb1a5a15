package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Handler reacts to a message. Returning true marks the message handled and
// stops evaluation of later hooks.
type Handler func(ctx context.Context, b *Bot, c Context, msg *Message) (bool, error)

// CronHandler runs on a cron schedule.
type CronHandler func(ctx context.Context, b *Bot) error

// StartedHandler runs once when the bot starts.
type StartedHandler func(ctx context.Context, b *Bot) error

type TriggerKind int

const (
	TriggerAny TriggerKind = iota
	TriggerPrefix
	TriggerKeyword
	TriggerMention
	TriggerCron
	TriggerStarted
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerAny:
		return "message"
	case TriggerPrefix:
		return "prefix"
	case TriggerKeyword:
		return "keyword"
	case TriggerMention:
		return "mention"
	case TriggerCron:
		return "cron"
	case TriggerStarted:
		return "started"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger decides whether a hook applies to a message.
type Trigger interface {
	Kind() TriggerKind
	Match(msg *Message) bool
	// Criterion is the prefix, keyword or identity the trigger matches on.
	Criterion() string
}

// Any matches every message.
func Any() Trigger { return anyTrigger{} }

type anyTrigger struct{}

func (anyTrigger) Kind() TriggerKind   { return TriggerAny }
func (anyTrigger) Match(*Message) bool { return true }
func (anyTrigger) Criterion() string   { return "" }

// Prefix matches messages whose text starts with p.
func Prefix(p string) Trigger { return prefixTrigger(p) }

type prefixTrigger string

func (prefixTrigger) Kind() TriggerKind         { return TriggerPrefix }
func (t prefixTrigger) Match(msg *Message) bool { return strings.HasPrefix(msg.Text, string(t)) }
func (t prefixTrigger) Criterion() string       { return string(t) }

// KeywordOption adjusts how a keyword matches.
type KeywordOption func(*keywordTrigger)

// KeywordCaseInsensitive ignores case.
func KeywordCaseInsensitive() KeywordOption {
	return func(t *keywordTrigger) { t.foldCase = true }
}

// KeywordWholeWord only matches the keyword between word boundaries.
func KeywordWholeWord() KeywordOption {
	return func(t *keywordTrigger) { t.wholeWord = true }
}

// Keyword matches messages containing k. Without options it is a
// case-sensitive substring match.
func Keyword(k string, opts ...KeywordOption) Trigger {
	t := &keywordTrigger{keyword: k}
	for _, opt := range opts {
		opt(t)
	}
	if t.foldCase || t.wholeWord {
		expr := regexp.QuoteMeta(k)
		if t.wholeWord {
			expr = `\b` + expr + `\b`
		}
		if t.foldCase {
			expr = `(?i)` + expr
		}
		t.pattern = regexp.MustCompile(expr)
	}
	return t
}

type keywordTrigger struct {
	keyword   string
	foldCase  bool
	wholeWord bool
	pattern   *regexp.Regexp
}

func (*keywordTrigger) Kind() TriggerKind { return TriggerKeyword }

func (t *keywordTrigger) Match(msg *Message) bool {
	if t.pattern != nil {
		return t.pattern.MatchString(msg.Text)
	}
	return strings.Contains(msg.Text, t.keyword)
}

func (t *keywordTrigger) Criterion() string { return t.keyword }

// MentionOf matches messages that @mention identity.
func MentionOf(identity Account) Trigger { return mentionTrigger(identity) }

type mentionTrigger Account

func (mentionTrigger) Kind() TriggerKind         { return TriggerMention }
func (t mentionTrigger) Match(msg *Message) bool { return msg.Mentioned(Account(t)) }
func (t mentionTrigger) Criterion() string       { return string(t) }

// HookID identifies a registration for later removal.
type HookID uint64

var hookSeq atomic.Uint64

func nextHookID() HookID { return HookID(hookSeq.Add(1)) }

// HookInfo describes a hook in fault reports and logs.
type HookInfo struct {
	ID          HookID
	Kind        TriggerKind
	Criterion   string
	Personality string
}

func (h HookInfo) String() string {
	s := fmt.Sprintf("%s/%s#%d", h.Personality, h.Kind, h.ID)
	if h.Criterion != "" {
		s += fmt.Sprintf("(%q)", h.Criterion)
	}
	return s
}

type hook struct {
	id          HookID
	trigger     Trigger
	handler     Handler
	personality *Personality
	removed     atomic.Bool
}

func (h *hook) info() HookInfo {
	return HookInfo{
		ID:          h.id,
		Kind:        h.trigger.Kind(),
		Criterion:   h.trigger.Criterion(),
		Personality: h.personality.Name(),
	}
}
