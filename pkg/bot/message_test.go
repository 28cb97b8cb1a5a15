package bot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupEnvelope = `{
	"source": "+15550001111",
	"sourceNumber": "+15550001111",
	"sourceUuid": "6f1c2a4e-0000-4000-8000-000000000001",
	"sourceName": "Alice",
	"sourceDevice": 1,
	"timestamp": 1772366400000,
	"dataMessage": {
		"timestamp": 1772366400000,
		"message": "hey @bot",
		"expiresInSeconds": 3600,
		"viewOnce": false,
		"mentions": [{"name": "bot", "number": "+15559990000", "uuid": "b0b0b0b0-0000-4000-8000-000000000009", "start": 4, "length": 1}],
		"groupInfo": {"groupId": "Z3JvdXAtaWQtMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=", "type": "DELIVER"}
	}
}`

func TestNewMessageFromGroupEnvelope(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(groupEnvelope), &env))

	msg, ok := NewMessage(&env)
	require.True(t, ok)
	assert.Equal(t, "hey @bot", msg.Text)
	assert.Equal(t, Account("+15550001111"), msg.Sender)
	assert.Equal(t, Account("6f1c2a4e-0000-4000-8000-000000000001"), msg.SenderUUID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, GroupID("Z3JvdXAtaWQtMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA="), msg.Group)
	assert.Equal(t, time.Hour, msg.ExpiresIn)
	assert.Equal(t, int64(1772366400000), msg.Timestamp.UnixMilli())
	assert.True(t, msg.Mentioned("+15559990000"))
	assert.True(t, msg.Mentioned("b0b0b0b0-0000-4000-8000-000000000009"))
	assert.False(t, msg.Mentioned("+15550001111"))
	assert.False(t, msg.Mentioned(""))

	c := ContextOf(msg)
	assert.True(t, c.Group)
	assert.Equal(t, "Z3JvdXAtaWQtMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=", c.Conversation)
	assert.Equal(t, map[string]any{"groupId": c.Conversation}, c.ReplyParams())
}

func TestNewMessageDirectFromUUIDOnlySender(t *testing.T) {
	env := &Envelope{
		SourceUUID: "6f1c2a4e-0000-4000-8000-000000000002",
		SourceName: "Bob",
		Timestamp:  1,
		DataMessage: &DataMessage{
			Timestamp: 1,
			Message:   ptr("hi"),
		},
	}
	msg, ok := NewMessage(env)
	require.True(t, ok)
	assert.Equal(t, Account("6f1c2a4e-0000-4000-8000-000000000002"), msg.Sender)

	c := ContextOf(msg)
	assert.False(t, c.Group)
	assert.Equal(t, "6f1c2a4e-0000-4000-8000-000000000002", c.Conversation)
	assert.Equal(t, map[string]any{"recipient": []string{c.Conversation}}, c.ReplyParams())
}

func TestNewMessageRejectsNonText(t *testing.T) {
	for name, env := range map[string]*Envelope{
		"nil":       nil,
		"typing":    {TypingMessage: json.RawMessage(`{"action":"STARTED"}`)},
		"no_text":   {DataMessage: &DataMessage{Timestamp: 1}},
		"reception": {ReceiptMessage: json.RawMessage(`{}`)},
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := NewMessage(env)
			assert.False(t, ok)
		})
	}
}

func ptr(s string) *string { return &s }
