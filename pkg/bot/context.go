package bot

// Context identifies where a message came from. For a direct message the
// conversation is the sender; for a group message it is the group id.
type Context struct {
	Sender       Account
	SenderUUID   Account // may equal Sender when no number is known
	SenderName   string
	Conversation string
	Group        bool
}

// ContextOf derives the Context of msg.
func ContextOf(msg *Message) Context {
	c := Context{
		Sender:       msg.Sender,
		SenderUUID:   msg.SenderUUID,
		SenderName:   msg.SenderName,
		Conversation: string(msg.Sender),
	}
	if msg.Group != "" {
		c.Conversation = string(msg.Group)
		c.Group = true
	}
	return c
}

// ReplyParams returns the send parameters that address this conversation.
func (c Context) ReplyParams() map[string]any {
	if c.Group {
		return map[string]any{"groupId": c.Conversation}
	}
	return map[string]any{"recipient": []string{c.Conversation}}
}
