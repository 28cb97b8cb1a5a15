package bot

import (
	"encoding/json"
	"time"
)

// Account is a phone number (with + and country code) or an account UUID.
type Account string

// GroupID is the base64 identifier signal-cli uses for groups.
type GroupID string

// Envelope is the subset of a signal-cli receive envelope the bot reads.
// Message kinds it does not interpret are kept raw.
type Envelope struct {
	Source         string          `json:"source"`
	SourceNumber   *string         `json:"sourceNumber"`
	SourceUUID     string          `json:"sourceUuid"`
	SourceName     string          `json:"sourceName"`
	SourceDevice   int             `json:"sourceDevice"`
	Timestamp      int64           `json:"timestamp"`
	DataMessage    *DataMessage    `json:"dataMessage,omitempty"`
	EditMessage    json.RawMessage `json:"editMessage,omitempty"`
	SyncMessage    json.RawMessage `json:"syncMessage,omitempty"`
	ReceiptMessage json.RawMessage `json:"receiptMessage,omitempty"`
	TypingMessage  json.RawMessage `json:"typingMessage,omitempty"`
	CallMessage    json.RawMessage `json:"callMessage,omitempty"`
}

type DataMessage struct {
	Timestamp        int64           `json:"timestamp"`
	Message          *string         `json:"message"`
	ExpiresInSeconds int             `json:"expiresInSeconds"`
	ViewOnce         bool            `json:"viewOnce,omitempty"`
	Mentions         []Mention       `json:"mentions,omitempty"`
	GroupInfo        *GroupInfo      `json:"groupInfo,omitempty"`
	Quote            json.RawMessage `json:"quote,omitempty"`
	Reaction         json.RawMessage `json:"reaction,omitempty"`
	Attachments      json.RawMessage `json:"attachments,omitempty"`
	Sticker          json.RawMessage `json:"sticker,omitempty"`
}

// Mention is an @mention inside a data message.
type Mention struct {
	Name   string  `json:"name"`
	Number *string `json:"number"`
	UUID   string  `json:"uuid"`
	Start  int     `json:"start"`
	Length int     `json:"length"`
}

// Refers reports whether the mention points at identity, by number or UUID.
func (m Mention) Refers(identity Account) bool {
	if identity == "" {
		return false
	}
	if m.Number != nil && Account(*m.Number) == identity {
		return true
	}
	return Account(m.UUID) == identity
}

type GroupInfo struct {
	GroupID GroupID `json:"groupId"`
	Type    string  `json:"type"`
}

type receiveParams struct {
	Account  string    `json:"account"`
	Envelope *Envelope `json:"envelope"`
}

// Message is a received text message as handed to hooks.
type Message struct {
	Text      string
	Timestamp time.Time
	// Sender is the phone number when known, otherwise the UUID.
	Sender     Account
	SenderUUID Account
	SenderName string
	Group      GroupID
	Mentions   []Mention
	ExpiresIn  time.Duration

	Envelope *Envelope
}

// NewMessage extracts a Message from env. It reports false for envelopes
// that carry no data message or a data message without text.
func NewMessage(env *Envelope) (*Message, bool) {
	if env == nil || env.DataMessage == nil || env.DataMessage.Message == nil {
		return nil, false
	}
	dm := env.DataMessage

	msg := &Message{
		Text:       *dm.Message,
		Timestamp:  time.UnixMilli(dm.Timestamp),
		Sender:     Account(env.SourceUUID),
		SenderUUID: Account(env.SourceUUID),
		SenderName: env.SourceName,
		Mentions:   dm.Mentions,
		ExpiresIn:  time.Duration(dm.ExpiresInSeconds) * time.Second,
		Envelope:   env,
	}
	if env.SourceNumber != nil && *env.SourceNumber != "" {
		msg.Sender = Account(*env.SourceNumber)
	}
	if dm.GroupInfo != nil {
		msg.Group = dm.GroupInfo.GroupID
	}
	return msg, true
}

// Mentioned reports whether any mention in the message refers to identity.
func (m *Message) Mentioned(identity Account) bool {
	for _, mention := range m.Mentions {
		if mention.Refers(identity) {
			return true
		}
	}
	return false
}
