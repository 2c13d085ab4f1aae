// Package ratelimit bounds per-user request frequency with a cooldown between
// requests and a rolling per-minute window.
package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Reason explains why a request was limited.
type Reason string

const (
	ReasonCooldown     Reason = "cooldown"
	ReasonMaxPerMinute Reason = "max_per_minute"
)

const (
	defaultCooldown        = 10 * time.Second
	defaultMaxPerMinute    = 6
	defaultMaxUsersTracked = 10000
	cleanupInterval        = time.Hour
	inactiveThreshold      = time.Hour
	aggressiveThreshold    = 30 * time.Minute
)

// Limiter tracks per-user request history. All state lives behind one mutex;
// checks never perform I/O.
type Limiter struct {
	cooldown        time.Duration
	maxPerMinute    int
	maxUsersTracked int
	now             func() time.Time
	log             *slog.Logger

	mu          sync.Mutex
	lastRequest map[string]time.Time
	requests    map[string][]time.Time
	lastCleanup time.Time
}

// New builds a limiter. Non-positive arguments fall back to defaults.
func New(cooldown time.Duration, maxPerMinute, maxUsersTracked int, log *slog.Logger) *Limiter {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if maxPerMinute <= 0 {
		maxPerMinute = defaultMaxPerMinute
	}
	if maxUsersTracked <= 0 {
		maxUsersTracked = defaultMaxUsersTracked
	}
	if log == nil {
		log = slog.Default()
	}

	return &Limiter{
		cooldown:        cooldown,
		maxPerMinute:    maxPerMinute,
		maxUsersTracked: maxUsersTracked,
		now:             time.Now,
		log:             log.With("component", "ratelimit"),
		lastRequest:     make(map[string]time.Time),
		requests:        make(map[string][]time.Time),
	}
}

// Check reports whether userID is currently limited, how long it should wait,
// and why. A passing check registers the request.
func (l *Limiter) Check(userID string) (limited bool, wait time.Duration, reason Reason) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.lastRequest) > l.maxUsersTracked {
		l.log.Warn("Rate limiter over user cap, running aggressive cleanup", "tracked", len(l.lastRequest))
		l.cleanupLocked(now, true)
		l.lastCleanup = now
	} else if now.Sub(l.lastCleanup) > cleanupInterval {
		l.cleanupLocked(now, false)
		l.lastCleanup = now
	}

	if last, ok := l.lastRequest[userID]; ok {
		if since := now.Sub(last); since < l.cooldown {
			return true, l.cooldown - since, ReasonCooldown
		}
	}

	minuteAgo := now.Add(-time.Minute)
	recent := l.requests[userID][:0]
	for _, at := range l.requests[userID] {
		if at.After(minuteAgo) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.maxPerMinute {
		oldest := recent[0]
		for _, at := range recent[1:] {
			if at.Before(oldest) {
				oldest = at
			}
		}
		l.requests[userID] = recent
		return true, oldest.Add(time.Minute).Sub(now), ReasonMaxPerMinute
	}

	l.lastRequest[userID] = now
	l.requests[userID] = append(recent, now)
	return false, 0, ""
}

// cleanupLocked drops users inactive past the threshold. Must be called with
// mu held.
func (l *Limiter) cleanupLocked(now time.Time, aggressive bool) {
	threshold := inactiveThreshold
	if aggressive {
		threshold = aggressiveThreshold
	}
	cutoff := now.Add(-threshold)

	removed := 0
	for userID, last := range l.lastRequest {
		if last.Before(cutoff) {
			delete(l.lastRequest, userID)
			delete(l.requests, userID)
			removed++
		}
	}

	if aggressive && len(l.lastRequest) > l.maxUsersTracked {
		// Still over cap after dropping idles: shed down to half the cap,
		// oldest first.
		type userAt struct {
			id string
			at time.Time
		}
		users := make([]userAt, 0, len(l.lastRequest))
		for id, at := range l.lastRequest {
			users = append(users, userAt{id, at})
		}
		sort.Slice(users, func(i, j int) bool { return users[i].at.Before(users[j].at) })
		for _, user := range users {
			if len(l.lastRequest) <= l.maxUsersTracked/2 {
				break
			}
			delete(l.lastRequest, user.id)
			delete(l.requests, user.id)
			removed++
		}
	}

	if removed > 0 {
		l.log.Info("Rate limiter cleanup", "removed", removed, "tracked", len(l.lastRequest), "aggressive", aggressive)
	}
}

// Tracked reports how many users are currently tracked.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastRequest)
}
