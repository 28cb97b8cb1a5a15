package bot

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	botAccount = Account("+15559990000")
	alice      = Account("+15550001111")
	bob        = Account("+15550002222")
	family     = GroupID("ZmFtaWx5LWdyb3VwLWlkLTAwMDAwMDAwMDAwMDAwMDA=")
)

func direct(from Account, text string) *Message {
	return &Message{Text: text, Sender: from, SenderUUID: from}
}

func inGroup(from Account, group GroupID, text string) *Message {
	return &Message{Text: text, Sender: from, SenderUUID: from, Group: group}
}

// trace returns a handler that appends name to calls and returns result.
func trace(calls *[]string, name string, result bool) Handler {
	return func(context.Context, *Bot, Context, *Message) (bool, error) {
		*calls = append(*calls, name)
		return result, nil
	}
}

func failing(calls *[]string, name string, err error) Handler {
	return func(context.Context, *Bot, Context, *Message) (bool, error) {
		*calls = append(*calls, name)
		return false, err
	}
}

func TestDispatchShortCircuitsOnFirstHandled(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	b.OnPrefix("/ping", trace(&calls, "H1", true))
	b.OnMessage(trace(&calls, "H2", true))

	handled, err := b.Dispatch(context.Background(), direct(alice, "/ping"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"H1"}, calls)

	calls = nil
	handled, err = b.Dispatch(context.Background(), direct(alice, "hello"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"H2"}, calls)
}

func TestDispatchRegistrationOrderAcrossKinds(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	b.OnMessage(trace(&calls, "any", false))
	b.OnKeyword("lunch", trace(&calls, "keyword", false))
	b.OnPrefix("lunch", trace(&calls, "prefix", false))
	b.OnMention(botAccount, trace(&calls, "mention", false))

	msg := direct(alice, "lunch?")
	msg.Mentions = []Mention{{Number: ptr(string(botAccount))}}
	handled, err := b.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, []string{"any", "keyword", "prefix", "mention"}, calls)
}

func TestDispatchFaultHandlerContinues(t *testing.T) {
	var faults []HookInfo
	b := newTestBot(t, WithFaultHandler(FaultHandlerFunc(func(err error, h HookInfo) bool {
		faults = append(faults, h)
		return true
	})))
	var calls []string
	b.OnMessage(failing(&calls, "H1", errors.New("boom")))
	b.OnMessage(trace(&calls, "H2", true))

	handled, err := b.Dispatch(context.Background(), direct(alice, "hi"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"H1", "H2"}, calls)
	require.Len(t, faults, 1)
	assert.Equal(t, TriggerAny, faults[0].Kind)
	assert.Equal(t, "root", faults[0].Personality)
}

func TestDispatchFaultHandlerPropagates(t *testing.T) {
	boom := errors.New("boom")
	b := newTestBot(t, WithFaultHandler(FaultHandlerFunc(func(error, HookInfo) bool { return false })))
	var calls []string
	b.OnPrefix("!", failing(&calls, "H1", boom))
	b.OnMessage(trace(&calls, "H2", true))

	handled, err := b.Dispatch(context.Background(), direct(alice, "!cmd"))
	assert.False(t, handled)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var herr *HookError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, TriggerPrefix, herr.Hook.Kind)
	assert.Equal(t, "!", herr.Hook.Criterion)
	assert.Equal(t, []string{"H1"}, calls)
}

func TestDispatchDefaultFaultPolicyContinues(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	b.OnMessage(failing(&calls, "H1", errors.New("boom")))
	b.OnMessage(trace(&calls, "H2", false))

	handled, err := b.Dispatch(context.Background(), direct(alice, "hi"))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, []string{"H1", "H2"}, calls)
}

func TestDispatchRecoversPanics(t *testing.T) {
	var got error
	b := newTestBot(t, WithFaultHandler(FaultHandlerFunc(func(err error, _ HookInfo) bool {
		got = err
		return true
	})))
	var calls []string
	b.OnMessage(func(context.Context, *Bot, Context, *Message) (bool, error) {
		panic("kaboom")
	})
	b.OnMessage(trace(&calls, "after", true))

	handled, err := b.Dispatch(context.Background(), direct(alice, "hi"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"after"}, calls)

	var perr *PanicError
	require.True(t, errors.As(got, &perr))
	assert.Equal(t, "kaboom", perr.Value)
	assert.NotEmpty(t, perr.Stack)
}

func TestPersonalityFaultHandlerTakesPrecedence(t *testing.T) {
	var rootFaults, personalityFaults int
	b := newTestBot(t, WithFaultHandler(FaultHandlerFunc(func(error, HookInfo) bool {
		rootFaults++
		return true
	})))

	scoped := NewPersonality("scoped", string(family))
	scoped.SetFaultHandler(FaultHandlerFunc(func(error, HookInfo) bool {
		personalityFaults++
		return true
	}))
	var calls []string
	scoped.OnMessage(failing(&calls, "scoped", errors.New("bad")))
	b.AddPersonality(scoped)

	plain := NewPersonality("plain", string(family))
	plain.OnMessage(failing(&calls, "plain", errors.New("bad")))
	b.AddPersonality(plain)

	_, err := b.Dispatch(context.Background(), inGroup(alice, family, "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"scoped", "plain"}, calls)
	assert.Equal(t, 1, personalityFaults)
	assert.Equal(t, 1, rootFaults)
}

func TestPersonalityHooksRunBeforeGlobal(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	p := NewPersonality("family", string(family))
	p.OnMessage(trace(&calls, "P", false))
	b.AddPersonality(p)
	b.OnMessage(trace(&calls, "G1", false))

	_, err := b.Dispatch(context.Background(), inGroup(alice, family, "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"P", "G1"}, calls)

	calls = nil
	_, err = b.Dispatch(context.Background(), inGroup(alice, "other-group", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"G1"}, calls)
}

func TestResolve(t *testing.T) {
	b := newTestBot(t)
	everywhere := NewPersonality("everywhere")
	bySender := NewPersonality("alice", string(alice))
	byGroup := NewPersonality("family", string(family))
	b.AddPersonality(byGroup)
	b.AddPersonality(everywhere)
	b.AddPersonality(bySender)

	names := func(ps []*Personality) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name())
		}
		return out
	}

	assert.Equal(t, []string{"family", "everywhere", "alice"}, names(b.Resolve(ContextOf(inGroup(alice, family, "x")))))
	assert.Equal(t, []string{"everywhere", "alice"}, names(b.Resolve(ContextOf(direct(alice, "x")))))
	assert.Equal(t, []string{"everywhere"}, names(b.Resolve(ContextOf(direct(bob, "x")))))

	const bobUUID = "b0b0b0b0-0000-4000-8000-000000000009"
	byUUID := NewPersonality("bob-by-uuid", bobUUID)
	b.AddPersonality(byUUID)
	fromBob := &Message{Text: "x", Sender: bob, SenderUUID: bobUUID}
	assert.Equal(t, []string{"everywhere", "bob-by-uuid"}, names(b.Resolve(ContextOf(fromBob))))
	assert.Equal(t, []string{"everywhere", "bob-by-uuid"}, names(b.Resolve(ContextOf(&Message{Text: "x", Sender: bob, SenderUUID: bobUUID, Group: "other"}))))
}

func TestPersonalityHandledSkipsGlobal(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	first := NewPersonality("first", string(alice))
	first.OnMessage(trace(&calls, "first", false))
	second := NewPersonality("second", string(alice))
	second.OnMessage(trace(&calls, "second", true))
	b.AddPersonality(first)
	b.AddPersonality(second)
	b.OnMessage(trace(&calls, "global", true))

	handled, err := b.Dispatch(context.Background(), direct(alice, "x"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestKeywordMatching(t *testing.T) {
	tests := []struct {
		name string
		trig Trigger
		text string
		want bool
	}{
		{"substring", Keyword("cat"), "concatenate", true},
		{"case_sensitive", Keyword("Cat"), "cat", false},
		{"case_insensitive", Keyword("Cat", KeywordCaseInsensitive()), "a CAT!", true},
		{"whole_word_miss", Keyword("cat", KeywordWholeWord()), "concatenate", false},
		{"whole_word_hit", Keyword("cat", KeywordWholeWord()), "the cat sat", true},
		{"whole_word_folded", Keyword("cat", KeywordWholeWord(), KeywordCaseInsensitive()), "Cat.", true},
		{"metacharacters", Keyword("a.b", KeywordCaseInsensitive()), "axb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trig.Match(direct(alice, tt.text)))
		})
	}
}

func TestMentionMatching(t *testing.T) {
	msg := direct(alice, "hi")
	msg.Mentions = []Mention{{UUID: "b0b0b0b0-0000-4000-8000-000000000009"}}

	assert.True(t, MentionOf("b0b0b0b0-0000-4000-8000-000000000009").Match(msg))
	assert.False(t, MentionOf(botAccount).Match(msg))
	assert.False(t, MentionOf(botAccount).Match(direct(alice, "no mentions")))
}

func TestRemoveHook(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	id := b.Register(Prefix("/"), trace(&calls, "gone", true))
	b.OnMessage(trace(&calls, "kept", false))

	assert.True(t, b.Remove(id))
	assert.False(t, b.Remove(id))

	_, err := b.Dispatch(context.Background(), direct(alice, "/x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, calls)
}

func TestRegistrationDuringDispatch(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	var victim HookID
	b.OnMessage(func(_ context.Context, bot *Bot, _ Context, _ *Message) (bool, error) {
		calls = append(calls, "mutator")
		if victim != 0 {
			bot.Remove(victim)
			victim = 0
			bot.OnMessage(trace(&calls, "late", false))
		}
		return false, nil
	})
	victim = b.Register(Any(), trace(&calls, "victim", false))

	_, err := b.Dispatch(context.Background(), direct(alice, "one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mutator"}, calls)

	calls = nil
	_, err = b.Dispatch(context.Background(), direct(alice, "two"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mutator", "late"}, calls)
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	b := newTestBot(t)
	var calls []string
	b.OnMessage(trace(&calls, "H1", false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handled, err := b.Dispatch(ctx, direct(alice, "hi"))
	assert.False(t, handled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestHookInfoString(t *testing.T) {
	info := HookInfo{ID: 7, Kind: TriggerKeyword, Criterion: "lunch", Personality: "family"}
	assert.Equal(t, `family/keyword#7("lunch")`, info.String())
	assert.Equal(t, "root/message#1", HookInfo{ID: 1, Personality: "root"}.String())
}
