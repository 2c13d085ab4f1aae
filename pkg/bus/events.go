package bus

import "time"

type EventType string

const (
	EventRejectedDuplicate EventType = "event_rejected_duplicate"
	EventRateLimited       EventType = "event_rate_limited"
	EventThreadResolved    EventType = "thread_resolved"
	EventProcessingStarted EventType = "processing_started"
	EventDelivered         EventType = "delivered"
	EventFailed            EventType = "failed"
)

// Event is one lifecycle observation emitted by the coordinator.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	EventID   string            `json:"event_id,omitempty"`
	ChannelID string            `json:"channel_id,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}
