package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/dedupe"
	"briefbot/pkg/platform"
	"briefbot/pkg/ratelimit"
	"briefbot/pkg/store"
)

const (
	defaultMessageCacheSize = 1000
	defaultCommandCacheSize = 500

	workingIndicatorText = "Working on it..."
	storeWriteTimeout    = 5 * time.Second
)

// Processor produces the response for one accepted event.
type Processor interface {
	Process(ctx context.Context, event bus.InboundEvent, threadID string) (bus.Response, error)
}

// Coordinator drives one inbound event through dedup, rate limiting, thread
// resolution, processing and delivery. Each event is answered at most once:
// the dual dedup gate is the first thing an event meets, and nothing before
// it has side effects.
type Coordinator struct {
	messages  *dedupe.Cache
	commands  *dedupe.Cache
	limiter   *ratelimit.Limiter
	resolver  *Resolver
	deliverer *Deliverer
	processor Processor
	messenger platform.Messenger
	events    *bus.EventBus
	store     store.Store
	log       *slog.Logger
}

// CoordinatorDeps carries the collaborators a coordinator needs. Store may be
// nil to disable persistence.
type CoordinatorDeps struct {
	Resolver  *Resolver
	Deliverer *Deliverer
	Processor Processor
	Messenger platform.Messenger
	Events    *bus.EventBus
	Store     store.Store
	Limiter   *ratelimit.Limiter
}

// NewCoordinator builds the coordinator and its dedup caches.
func NewCoordinator(cfg config.DedupConfig, deps CoordinatorDeps, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}

	messageMax := cfg.MessageMaxSize
	if messageMax <= 0 {
		messageMax = defaultMessageCacheSize
	}
	commandMax := cfg.CommandMaxSize
	if commandMax <= 0 {
		commandMax = defaultCommandCacheSize
	}

	return &Coordinator{
		messages:  dedupe.NewCache(messageMax),
		commands:  dedupe.NewCache(commandMax),
		limiter:   deps.Limiter,
		resolver:  deps.Resolver,
		deliverer: deps.Deliverer,
		processor: deps.Processor,
		messenger: deps.Messenger,
		events:    deps.Events,
		store:     deps.Store,
		log:       log.With("component", "gateway.coordinator"),
	}
}

// Handle runs the full lifecycle for one inbound event. It is safe for
// concurrent invocation; redeliveries of the same event collapse at the
// dedup gate.
func (c *Coordinator) Handle(ctx context.Context, event bus.InboundEvent) {
	requestID := uuid.NewString()
	log := c.log.With("event_id", event.EventID, "request_id", requestID)

	// Both keys must be fresh. The message key collapses platform
	// redeliveries; the command key collapses the same trigger arriving
	// through different surfaces for one author.
	messageKey := event.EventID + ":" + event.ChannelID
	commandKey := event.EventID + ":" + event.AuthorID

	if !c.messages.CheckAndRegister(messageKey) {
		log.Info("Dropped duplicate delivery", "key", "message")
		c.publish(ctx, bus.Event{Type: bus.EventRejectedDuplicate, EventID: event.EventID, ChannelID: event.ChannelID, RequestID: requestID, Payload: map[string]string{"key": "message"}})
		return
	}
	if !c.commands.CheckAndRegister(commandKey) {
		log.Info("Dropped duplicate delivery", "key", "command")
		c.publish(ctx, bus.Event{Type: bus.EventRejectedDuplicate, EventID: event.EventID, ChannelID: event.ChannelID, RequestID: requestID, Payload: map[string]string{"key": "command"}})
		return
	}

	if c.limiter != nil {
		if limited, wait, reason := c.limiter.Check(event.AuthorID); limited {
			log.Info("Rate limited", "author_id", event.AuthorID, "reason", reason, "wait", wait)
			c.publish(ctx, bus.Event{Type: bus.EventRateLimited, EventID: event.EventID, ChannelID: event.ChannelID, RequestID: requestID, Payload: map[string]string{"reason": string(reason)}})
			c.notifyRateLimited(ctx, event, wait)
			return
		}
	}

	dest, err := c.resolver.Resolve(ctx, event)
	if err != nil {
		log.Error("Thread resolution failed", "error", err)
		c.fail(ctx, event, requestID, platform.Destination{ChannelID: event.ChannelID}, fmt.Errorf("resolve thread: %w", err))
		return
	}
	log.Info("Thread resolved", "channel_id", dest.ChannelID, "thread_id", dest.ThreadID)
	c.publish(ctx, bus.Event{Type: bus.EventThreadResolved, EventID: event.EventID, ChannelID: dest.ChannelID, ThreadID: dest.ThreadID, RequestID: requestID})

	// The indicator is removed on every exit path from here on.
	indicator, indicatorErr := c.messenger.SendMessage(ctx, dest, workingIndicatorText, nil)
	if indicatorErr != nil {
		log.Warn("Failed to post working indicator", "error", indicatorErr)
	}
	removeIndicator := func() {
		if indicatorErr != nil {
			return
		}
		if err := c.messenger.DeleteMessage(ctx, indicator); err != nil {
			log.Warn("Failed to remove working indicator", "error", err)
		}
	}

	c.publish(ctx, bus.Event{Type: bus.EventProcessingStarted, EventID: event.EventID, ChannelID: dest.ChannelID, ThreadID: dest.ThreadID, RequestID: requestID})

	response, err := c.processor.Process(ctx, event, dest.ThreadID)
	if err != nil {
		removeIndicator()
		log.Error("Processing failed", "error", err)
		c.fail(ctx, event, requestID, dest, fmt.Errorf("process: %w", err))
		return
	}

	// The indicator stays up until the first chunk's fate is known.
	chunks, err := c.deliverer.Deliver(ctx, dest, response)
	removeIndicator()
	if err != nil {
		log.Error("Delivery failed", "chunks_sent", chunks, "error", err)
		c.fail(ctx, event, requestID, dest, fmt.Errorf("deliver: %w", err))
		return
	}

	log.Info("Delivered", "chunks", chunks, "thread_id", dest.ThreadID)
	c.publish(ctx, bus.Event{Type: bus.EventDelivered, EventID: event.EventID, ChannelID: dest.ChannelID, ThreadID: dest.ThreadID, RequestID: requestID, Payload: map[string]string{"chunks": fmt.Sprintf("%d", chunks)}})

	c.recordExchange(event, dest, response)
}

// fail reports a terminal failure to the bus and tells the user, best-effort.
func (c *Coordinator) fail(ctx context.Context, event bus.InboundEvent, requestID string, dest platform.Destination, cause error) {
	c.publish(ctx, bus.Event{Type: bus.EventFailed, EventID: event.EventID, ChannelID: dest.ChannelID, ThreadID: dest.ThreadID, RequestID: requestID, Error: cause.Error()})

	if dest.ChannelID == "" {
		return
	}
	text := "Sorry, something went wrong handling that request."
	if _, err := c.messenger.SendMessage(ctx, dest, text, nil); err != nil {
		c.log.Warn("Failed to send failure notice", "event_id", event.EventID, "error", err)
	}
}

// notifyRateLimited tells the author to slow down, in the channel the
// request came from.
func (c *Coordinator) notifyRateLimited(ctx context.Context, event bus.InboundEvent, wait time.Duration) {
	dest := platform.Destination{ChannelID: event.ChannelID, ThreadID: event.ThreadID}
	text := fmt.Sprintf("You're sending requests too quickly. Try again in %s.", wait.Round(time.Second))
	if _, err := c.messenger.SendMessage(ctx, dest, text, nil); err != nil {
		c.log.Warn("Failed to send rate limit notice", "event_id", event.EventID, "error", err)
	}
}

// recordExchange persists the exchange without blocking the event lifecycle.
func (c *Coordinator) recordExchange(event bus.InboundEvent, dest platform.Destination, response bus.Response) {
	if c.store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()

		err := c.store.RecordExchange(ctx, store.Exchange{
			EventID:   event.EventID,
			AuthorID:  event.AuthorID,
			ChannelID: dest.ChannelID,
			ThreadID:  dest.ThreadID,
			Prompt:    event.Text,
			Response:  response.Text,
			Provider:  response.Provider,
			Model:     response.Model,
		})
		if err != nil {
			c.log.Warn("Failed to record exchange", "event_id", event.EventID, "error", err)
		}
	}()
}

func (c *Coordinator) publish(ctx context.Context, event bus.Event) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, event)
}
