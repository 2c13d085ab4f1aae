// Package store persists completed request/response exchanges for history
// queries and usage stats. Persistence is best-effort: a store failure never
// blocks delivery.
package store

import (
	"context"
	"time"
)

// Exchange is one completed request/response pair.
type Exchange struct {
	ID        string
	EventID   string
	AuthorID  string
	ChannelID string
	ThreadID  string
	Prompt    string
	Response  string
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Stats summarizes stored activity.
type Stats struct {
	Exchanges   int64
	UniqueUsers int64
}

// Store records and queries exchanges.
type Store interface {
	// RecordExchange persists one exchange. The ID is assigned by the store.
	RecordExchange(ctx context.Context, exchange Exchange) error

	// RecentExchanges returns up to limit exchanges for a thread, oldest first.
	RecentExchanges(ctx context.Context, threadID string, limit int) ([]Exchange, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
