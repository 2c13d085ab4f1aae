package agent

import (
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxExchanges = 10
	defaultTTL          = 24 * time.Hour
	maxThreadsTracked   = 1000
)

type MemoryEntry struct {
	Role    string
	Content string
	At      time.Time
}

// Memory keeps per-thread conversation history, bounded by exchange count
// and entry age. Threads beyond the tracking cap are evicted least recently
// used first.
type Memory struct {
	maxExchanges int
	ttl          time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	threads map[string]*threadMemory
}

type threadMemory struct {
	entries  []MemoryEntry
	lastUsed time.Time
}

func NewMemory(maxExchanges int, ttl time.Duration) *Memory {
	if maxExchanges <= 0 {
		maxExchanges = defaultMaxExchanges
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Memory{
		maxExchanges: maxExchanges,
		ttl:          ttl,
		now:          time.Now,
		threads:      make(map[string]*threadMemory),
	}
}

// Append records one entry under threadID. Empty roles or content are ignored.
func (m *Memory) Append(threadID, role, content string) {
	role = strings.TrimSpace(role)
	content = strings.TrimSpace(content)
	if threadID == "" || role == "" || content == "" {
		return
	}

	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		if len(m.threads) >= maxThreadsTracked {
			m.evictOldestLocked()
		}
		thread = &threadMemory{}
		m.threads[threadID] = thread
	}

	thread.entries = append(thread.entries, MemoryEntry{Role: role, Content: content, At: now})
	thread.lastUsed = now

	// Two entries per exchange: one user, one assistant.
	if max := m.maxExchanges * 2; len(thread.entries) > max {
		thread.entries = thread.entries[len(thread.entries)-max:]
	}
}

// List returns the live entries for threadID, oldest first. Entries older
// than the TTL are dropped.
func (m *Memory) List(threadID string) []MemoryEntry {
	cutoff := m.now().UTC().Add(-m.ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[threadID]
	if !ok || len(thread.entries) == 0 {
		return nil
	}

	var out []MemoryEntry
	for _, entry := range thread.entries {
		if entry.At.Before(cutoff) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Clear forgets one thread's history.
func (m *Memory) Clear(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.threads, threadID)
}

// Threads reports how many threads currently hold history.
func (m *Memory) Threads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.threads)
}

func (m *Memory) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, thread := range m.threads {
		if oldestID == "" || thread.lastUsed.Before(oldestAt) {
			oldestID = id
			oldestAt = thread.lastUsed
		}
	}
	if oldestID != "" {
		delete(m.threads, oldestID)
	}
}
