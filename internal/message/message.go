// Package message defines the immutable inbound message and the outbound
// response exchanged with the gateway. The core never mutates a Message
// after receipt.
package message

import "time"

// Message is a single inbound chat message.
type Message struct {
	Sender  string    // sender identifier
	Chat    string    // chat identifier (equals Sender for direct chats)
	Text    string    // raw text content
	Arrived time.Time // arrival timestamp, set by the gateway
}

// IsGroup reports whether the message came from a group chat rather than a
// direct conversation.
func (m Message) IsGroup() bool {
	return m.Chat != "" && m.Chat != m.Sender
}

// Response is the text a handler wants delivered back to the chat the
// message came from.
type Response struct {
	Chat string
	Text string
}
