package message

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Message is the data structure moved through an elastic channel
// by the ingress and egress stages. It carries the stage specific
// envelope along with the receive time and the trace span.
type Message[T Envelope] struct {
	receiveTime time.Time
	span        trace.SpanContext

	envelope T
}

// NewMessage creates a new message wrapping the given envelope.
func NewMessage[T Envelope](envelope T) *Message[T] {
	return &Message[T]{
		envelope: envelope,
	}
}

// SetReceiveTime sets the time the message was received.
func (m *Message[T]) SetReceiveTime(receiveTime time.Time) {
	m.receiveTime = receiveTime
}

// GetReceiveTime returns the time the message was received.
func (m *Message[T]) GetReceiveTime() time.Time {
	return m.receiveTime
}

// SaveSpan saves the trace span of the message.
func (m *Message[T]) SaveSpan(span trace.Span) {
	m.span = span.SpanContext()
}

// LoadSpanContext loads the trace of the message
// into the provided context.
func (m *Message[T]) LoadSpanContext(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(ctx, m.span)
}

// Destroy cleans up the message and its envelope.
func (m *Message[T]) Destroy() {
	m.envelope.Destroy()
}

// GetEnvelope returns the envelope of the message,
// i.e. the stage's specific data.
func (m *Message[T]) GetEnvelope() T {
	return m.envelope
}
