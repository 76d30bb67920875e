// Package message contains the structures and interfaces for messages.
package message

// Envelope interface defines the common methods for all message envelopes.
type Envelope interface {
	// Destroy cleans up the envelope.
	Destroy()
}

// Serializable interface defines the common methods for all message envelopes
// that can be serialized into bytes.
type Serializable interface {
	Envelope

	// GetBytes returns the bytes of the message.
	GetBytes() []byte
}
