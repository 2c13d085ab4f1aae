package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/dedupe"
	"briefbot/pkg/platform"
)

const threadNameLimit = 80

// Resolver decides where a response lands: the event's own thread, a cached
// resolution, a platform-created thread, or a freshly created one. Any
// creation failure falls back to the originating channel; the thread surface
// is never worth failing the request over.
type Resolver struct {
	messenger    platform.Messenger
	resolutions  *dedupe.ResolutionCache
	pollInterval time.Duration
	pollTimeout  time.Duration
	log          *slog.Logger
}

// NewResolver builds a resolver around messenger and the shared resolution
// cache.
func NewResolver(messenger platform.Messenger, resolutions *dedupe.ResolutionCache, cfg config.ResolverConfig, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		messenger:    messenger,
		resolutions:  resolutions,
		pollInterval: cfg.PollInterval(),
		pollTimeout:  cfg.PollTimeout(),
		log:          log.With("component", "gateway.resolver"),
	}
}

// Resolve returns the destination for event's response. It never creates a
// second thread for an origin that already has one.
func (r *Resolver) Resolve(ctx context.Context, event bus.InboundEvent) (platform.Destination, error) {
	if event.InThread {
		return platform.Destination{ChannelID: event.ChannelID, ThreadID: event.ThreadID}, nil
	}

	cacheKey := resolutionKey(event)
	if threadID, ok := r.resolutions.Resolve(cacheKey); ok {
		r.log.Debug("Thread resolved from cache", "event_id", event.EventID, "thread_id", threadID)
		return platform.Destination{ChannelID: event.ChannelID, ThreadID: threadID}, nil
	}

	// Platforms attach their own thread to messages with uploads; give that
	// creation time to land before making one ourselves.
	if event.HasAttachments {
		if thread, ok := r.waitForPlatformThread(ctx, event); ok {
			r.resolutions.Register(cacheKey, thread.ID)
			return platform.Destination{ChannelID: event.ChannelID, ThreadID: thread.ID}, nil
		}
	}

	thread, err := r.createThread(ctx, event)
	if err != nil {
		r.log.Warn("Thread creation failed, responding in channel", "event_id", event.EventID, "channel_id", event.ChannelID, "error", err)
		return platform.Destination{ChannelID: event.ChannelID}, nil
	}

	r.resolutions.Register(cacheKey, thread.ID)
	return platform.Destination{ChannelID: event.ChannelID, ThreadID: thread.ID}, nil
}

// waitForPlatformThread polls for a platform-created thread until the
// deadline. Context cancellation ends the wait early.
func (r *Resolver) waitForPlatformThread(ctx context.Context, event bus.InboundEvent) (platform.Thread, bool) {
	deadline := time.Now().Add(r.pollTimeout)

	for {
		thread, ok, err := r.messenger.FetchExistingThread(ctx, event)
		if err != nil {
			r.log.Warn("Thread lookup failed during poll", "event_id", event.EventID, "error", err)
		} else if ok {
			r.log.Debug("Platform thread appeared", "event_id", event.EventID, "thread_id", thread.ID)
			return thread, true
		}

		if time.Now().After(deadline) {
			return platform.Thread{}, false
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return platform.Thread{}, false
		case <-timer.C:
		}
	}
}

// createThread makes a thread for the event. A concurrent platform-side
// creation is absorbed by fetching the winner instead of failing.
func (r *Resolver) createThread(ctx context.Context, event bus.InboundEvent) (platform.Thread, error) {
	thread, err := r.messenger.CreateThread(ctx, event, threadName(event))
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, platform.ErrThreadExists) {
		return platform.Thread{}, fmt.Errorf("create thread: %w", err)
	}

	existing, ok, fetchErr := r.messenger.FetchExistingThread(ctx, event)
	if fetchErr != nil {
		return platform.Thread{}, fmt.Errorf("fetch existing thread: %w", fetchErr)
	}
	if !ok {
		return platform.Thread{}, fmt.Errorf("thread reported existing but not found for event %s", event.EventID)
	}

	r.log.Debug("Adopted concurrently created thread", "event_id", event.EventID, "thread_id", existing.ID)
	return existing, nil
}

// threadName derives a bounded human-readable thread title from the event.
func threadName(event bus.InboundEvent) string {
	name := strings.TrimSpace(event.Text)
	name = strings.ReplaceAll(name, "\n", " ")
	if name == "" {
		name = "Discussion"
	}
	if len(name) > threadNameLimit {
		name = strings.TrimSpace(name[:threadNameLimit-3]) + "..."
	}
	return name
}

// resolutionKey identifies one origin message for thread resolution.
func resolutionKey(event bus.InboundEvent) string {
	return event.ChannelID + ":" + event.EventID
}
