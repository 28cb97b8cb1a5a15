// Package responder turns configured replies and announcements into bot
// personalities.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/fpt/signal-bot/internal/config"
	"github.com/fpt/signal-bot/pkg/bot"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// HelpCommand lists the configured triggers for the asking conversation.
const HelpCommand = "!help"

// Build creates one personality per entry of cfgs. Nothing is attached to
// a bot yet.
func Build(cfgs []config.PersonalityConfig, logger *pkgLogger.Logger) ([]*bot.Personality, error) {
	if logger == nil {
		logger = pkgLogger.NewComponentLogger("responder")
	} else {
		logger = logger.WithComponent("responder")
	}

	out := make([]*bot.Personality, 0, len(cfgs))
	for _, pc := range cfgs {
		p := bot.NewPersonality(pc.Name, pc.Contexts...)
		for _, rc := range pc.Replies {
			p.Register(trigger(rc), replyHandler(rc.Text))
		}
		for _, ac := range pc.Announcements {
			if _, err := p.OnCron(ac.Schedule, announceHandler(ac)); err != nil {
				return nil, errors.Wrapf(err, "personality %q", pc.Name)
			}
		}
		p.SetFaultHandler(faultLogger(logger, pc.Name))
		logger.DebugWithIntention(pkgLogger.IntentionConfig, "Built personality",
			"personality", pc.Name, "replies", len(pc.Replies), "announcements", len(pc.Announcements))
		out = append(out, p)
	}
	return out, nil
}

// Install builds the personalities for cfgs, adds them to b and registers
// the help command on b itself.
func Install(b *bot.Bot, cfgs []config.PersonalityConfig, logger *pkgLogger.Logger) error {
	personalities, err := Build(cfgs, logger)
	if err != nil {
		return err
	}
	for _, p := range personalities {
		b.AddPersonality(p)
	}
	b.OnPrefix(HelpCommand, helpHandler(personalities, cfgs))
	return nil
}

func trigger(rc config.ReplyConfig) bot.Trigger {
	switch {
	case rc.Prefix != "":
		return bot.Prefix(rc.Prefix)
	case rc.Mention != "":
		return bot.MentionOf(bot.Account(rc.Mention))
	default:
		var opts []bot.KeywordOption
		if rc.IgnoreCase {
			opts = append(opts, bot.KeywordCaseInsensitive())
		}
		if rc.WholeWord {
			opts = append(opts, bot.KeywordWholeWord())
		}
		return bot.Keyword(rc.Keyword, opts...)
	}
}

// expand fills {name} and {sender} in text.
func expand(text string, c bot.Context) string {
	name := c.SenderName
	if name == "" {
		name = string(c.Sender)
	}
	return strings.NewReplacer("{name}", name, "{sender}", string(c.Sender)).Replace(text)
}

func replyHandler(text string) bot.Handler {
	return func(ctx context.Context, b *bot.Bot, c bot.Context, msg *bot.Message) (bool, error) {
		if err := Send(ctx, b, Reply(c, msg, expand(text, c))); err != nil {
			return false, err
		}
		return true, nil
	}
}

func announceHandler(ac config.AnnouncementConfig) bot.CronHandler {
	return func(ctx context.Context, b *bot.Bot) error {
		return Send(ctx, b, To(ac.To, ac.Text))
	}
}

// helpHandler answers with the replies of every personality in scope.
// personalities[i] was built from cfgs[i].
func helpHandler(personalities []*bot.Personality, cfgs []config.PersonalityConfig) bot.Handler {
	return func(ctx context.Context, b *bot.Bot, c bot.Context, msg *bot.Message) (bool, error) {
		var lines []string
		for i, p := range personalities {
			if !p.Matches(c) {
				continue
			}
			for _, rc := range cfgs[i].Replies {
				lines = append(lines, describe(rc))
			}
		}
		text := "No commands are configured here."
		if len(lines) > 0 {
			text = "Available commands:\n" + strings.Join(lines, "\n")
		}
		if err := Send(ctx, b, Reply(c, msg, text)); err != nil {
			return false, err
		}
		return true, nil
	}
}

func describe(rc config.ReplyConfig) string {
	switch {
	case rc.Prefix != "":
		return fmt.Sprintf("%s ...", rc.Prefix)
	case rc.Mention != "":
		return fmt.Sprintf("@%s", rc.Mention)
	default:
		return fmt.Sprintf("messages containing %q", rc.Keyword)
	}
}

func faultLogger(logger *pkgLogger.Logger, personality string) bot.FaultHandler {
	return bot.FaultHandlerFunc(func(err error, hook bot.HookInfo) bool {
		logger.Error("Responder hook failed", "personality", personality, "hook", hook, "error", err)
		return true
	})
}
