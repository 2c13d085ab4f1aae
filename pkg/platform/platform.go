// Package platform defines the transport-neutral contract between the
// coordinator core and a concrete chat platform client.
package platform

import (
	"context"

	"briefbot/pkg/bus"
)

// Handler processes one inbound platform event. Adapters hand events off
// without blocking on their completion.
type Handler func(context.Context, bus.InboundEvent)

// Adapter bridges one external transport (for example Telegram) into briefbot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Destination is where a response is written: a thread when ThreadID is set,
// otherwise the originating channel.
type Destination struct {
	ChannelID string
	ThreadID  string
}

// InThread reports whether the destination is a thread rather than a channel.
func (d Destination) InThread() bool {
	return d.ThreadID != ""
}

// Thread is a platform-native sub-conversation attached to an originating
// message.
type Thread struct {
	ID   string
	Name string
}

// Handle identifies one delivered message, usable for later deletion.
type Handle struct {
	ChannelID string
	MessageID string
}

// Attachment carries one uploadable payload. Data is copied per send attempt
// because platform clients consume upload buffers.
type Attachment struct {
	Name string
	Data []byte
}

// Clone returns a fresh copy safe to hand to a consuming upload.
func (a Attachment) Clone() Attachment {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Attachment{Name: a.Name, Data: data}
}

// Messenger is the capability surface the coordinator needs from a platform
// client. All calls are fallible and honor context cancellation.
type Messenger interface {
	// SendMessage delivers text (with optional attachments) to a destination.
	SendMessage(ctx context.Context, dest Destination, text string, attachments []Attachment) (Handle, error)

	// CreateThread creates a new thread from the originating event. A
	// concurrent platform-side creation surfaces as ErrThreadExists.
	CreateThread(ctx context.Context, event bus.InboundEvent, name string) (Thread, error)

	// FetchExistingThread looks up a thread the platform attached to the
	// event. The second return is false when none exists yet.
	FetchExistingThread(ctx context.Context, event bus.InboundEvent) (Thread, bool, error)

	// DeleteMessage removes a previously sent message. Used for the transient
	// working indicator.
	DeleteMessage(ctx context.Context, handle Handle) error
}
