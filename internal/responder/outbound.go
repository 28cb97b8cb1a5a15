package responder

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fpt/signal-bot/pkg/bot"
)

// MethodSend is the signal-cli method that delivers a message.
const MethodSend = "send"

// Outbound is a message to deliver to one conversation.
type Outbound struct {
	Params map[string]any // recipient or groupId
	Text   string
	// QuoteTimestamp and QuoteAuthor make the message a reply when set.
	QuoteTimestamp int64
	QuoteAuthor    bot.Account
}

// Reply addresses the conversation c, quoting msg.
func Reply(c bot.Context, msg *bot.Message, text string) Outbound {
	out := Outbound{Params: c.ReplyParams(), Text: text}
	if msg != nil && !msg.Timestamp.IsZero() {
		out.QuoteTimestamp = msg.Timestamp.UnixMilli()
		out.QuoteAuthor = msg.Sender
	}
	return out
}

// To addresses an account (phone number or UUID) or a group id.
func To(recipient, text string) Outbound {
	return Outbound{Params: RecipientParams(recipient), Text: text}
}

// RecipientParams picks the send parameter for recipient: phone numbers and
// UUIDs are individual recipients, anything else is taken as a group id.
func RecipientParams(recipient string) map[string]any {
	if strings.HasPrefix(recipient, "+") {
		return map[string]any{"recipient": []string{recipient}}
	}
	if _, err := uuid.Parse(recipient); err == nil {
		return map[string]any{"recipient": []string{recipient}}
	}
	return map[string]any{"groupId": recipient}
}

// Send delivers out through b.
func Send(ctx context.Context, b *bot.Bot, out Outbound) error {
	params := make(map[string]any, len(out.Params)+3)
	for k, v := range out.Params {
		params[k] = v
	}
	params["message"] = out.Text
	if out.QuoteTimestamp != 0 {
		params["quoteTimestamp"] = out.QuoteTimestamp
		params["quoteAuthor"] = string(out.QuoteAuthor)
	}
	if _, err := b.Call(ctx, MethodSend, params); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}
