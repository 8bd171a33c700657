// Package gateway abstracts the messaging transport. The core consumes an
// inbound message stream and emits responses through a sink; what speaks
// the actual chat protocol lives outside this repo.
package gateway

import (
	"context"

	"plugbot/internal/message"
)

// Source delivers inbound messages. Receive blocks until a message
// arrives, the stream ends (ok=false), or ctx is cancelled. Messages of a
// single chat are delivered in arrival order.
type Source interface {
	Receive(ctx context.Context) (msg message.Message, ok bool)
}

// Sink sends a text response to a chat. A send failure means the response
// is dropped; it never aborts dispatch.
type Sink interface {
	Send(chatID, text string) error
}

// Gateway is a channel-backed Source/Sink pair. Transport adapters push
// inbound messages with Inject and drain Outbound; tests use it directly.
type Gateway struct {
	in  chan message.Message
	out chan message.Response
}

// New creates a Gateway with the given channel capacity.
func New(buffer int) *Gateway {
	return &Gateway{
		in:  make(chan message.Message, buffer),
		out: make(chan message.Response, buffer),
	}
}

// Inject queues an inbound message. It blocks when the buffer is full so a
// slow core applies backpressure to the transport.
func (g *Gateway) Inject(ctx context.Context, msg message.Message) error {
	select {
	case g.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseInbound signals end of the inbound stream.
func (g *Gateway) CloseInbound() {
	close(g.in)
}

// Receive implements Source.
func (g *Gateway) Receive(ctx context.Context) (message.Message, bool) {
	select {
	case msg, ok := <-g.in:
		return msg, ok
	case <-ctx.Done():
		return message.Message{}, false
	}
}

// Send implements Sink.
func (g *Gateway) Send(chatID, text string) error {
	g.out <- message.Response{Chat: chatID, Text: text}
	return nil
}

// Outbound exposes the response stream for the transport adapter.
func (g *Gateway) Outbound() <-chan message.Response {
	return g.out
}
