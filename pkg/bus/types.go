package bus

import "time"

// EventKind classifies how a trigger reached the bot.
type EventKind string

const (
	KindMention     EventKind = "mention"
	KindSlash       EventKind = "slash"
	KindThreadReply EventKind = "thread_reply"
)

// InboundEvent is one delivery of a user trigger from the platform. The
// platform may redeliver the same EventID more than once; deduplication is the
// coordinator's job, not the adapter's. Instances are immutable after receipt.
type InboundEvent struct {
	EventID        string            `json:"event_id"`
	AuthorID       string            `json:"author_id"`
	AuthorName     string            `json:"author_name,omitempty"`
	ChannelID      string            `json:"channel_id"`
	GuildID        string            `json:"guild_id,omitempty"`
	InThread       bool              `json:"in_thread"`
	ThreadID       string            `json:"thread_id,omitempty"`
	HasAttachments bool              `json:"has_attachments"`
	Kind           EventKind         `json:"kind"`
	Text           string            `json:"text"`
	ReceivedAt     time.Time         `json:"received_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response is the payload produced by the collaborator chain for one event.
// Provider and Model record which backend answered, for persistence.
type Response struct {
	Text           string          `json:"text"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	Visualizations []Visualization `json:"visualizations,omitempty"`
}

// Visualization is one rendered chart image attached to a response.
type Visualization struct {
	Name string `json:"name"`
	PNG  []byte `json:"-"`
}
