package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "briefbot.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryExchanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.RecordExchange(ctx, Exchange{
			EventID:   "evt-" + string(rune('a'+i)),
			AuthorID:  "user-1",
			ChannelID: "chan-1",
			ThreadID:  "thread-1",
			Prompt:    "question",
			Response:  "answer",
			Provider:  "openai",
			Model:     "gpt-5",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordExchange error: %v", err)
		}
	}

	exchanges, err := s.RecentExchanges(ctx, "thread-1", 10)
	if err != nil {
		t.Fatalf("RecentExchanges error: %v", err)
	}
	if len(exchanges) != 3 {
		t.Fatalf("exchanges = %d, want 3", len(exchanges))
	}
	if exchanges[0].EventID != "evt-a" || exchanges[2].EventID != "evt-c" {
		t.Fatalf("exchanges not in oldest-first order: %v, %v", exchanges[0].EventID, exchanges[2].EventID)
	}
	if exchanges[0].ID == "" {
		t.Fatal("expected store-assigned ID")
	}
}

func TestRecentExchangesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.RecordExchange(ctx, Exchange{
			EventID:   "evt",
			AuthorID:  "user-1",
			ChannelID: "chan-1",
			ThreadID:  "thread-1",
			Prompt:    "q",
			Response:  string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordExchange error: %v", err)
		}
	}

	exchanges, err := s.RecentExchanges(ctx, "thread-1", 2)
	if err != nil {
		t.Fatalf("RecentExchanges error: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(exchanges))
	}
	// Limit keeps the newest, still returned oldest first.
	if exchanges[0].Response != "d" || exchanges[1].Response != "e" {
		t.Fatalf("responses = %q, %q, want d, e", exchanges[0].Response, exchanges[1].Response)
	}
}

func TestRecentExchangesEmptyThread(t *testing.T) {
	s := newTestStore(t)

	exchanges, err := s.RecentExchanges(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("RecentExchanges error: %v", err)
	}
	if len(exchanges) != 0 {
		t.Fatalf("exchanges = %d, want 0", len(exchanges))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, author := range []string{"user-1", "user-1", "user-2"} {
		err := s.RecordExchange(ctx, Exchange{
			EventID:   "evt",
			AuthorID:  author,
			ChannelID: "chan-1",
			Prompt:    "q",
			Response:  "a",
		})
		if err != nil {
			t.Fatalf("RecordExchange error: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Exchanges != 3 {
		t.Fatalf("exchanges = %d, want 3", stats.Exchanges)
	}
	if stats.UniqueUsers != 2 {
		t.Fatalf("unique users = %d, want 2", stats.UniqueUsers)
	}
}
