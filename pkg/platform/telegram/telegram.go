// Package telegram bridges Telegram updates into briefbot inbound events and
// implements the messenger surface on top of forum topics.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/platform"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const adapterName = "telegram"
const messagePreviewLimit = 240

// Adapter connects one Telegram bot to the coordinator. Forum topics stand in
// for threads; the topics it creates are remembered so a concurrent creation
// for the same origin resolves to the existing topic.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu     sync.Mutex
	bot    *telego.Bot
	topics map[string]platform.Thread
}

// NewAdapter validates Telegram configuration and constructs an adapter.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "platform.telegram"),
		topics:    make(map[string]platform.Thread),
	}, nil
}

// Name returns the adapter identifier used in logs and event metadata.
func (a *Adapter) Name() string {
	return adapterName
}

// Run starts long polling and forwards each text update to handler. Handler
// invocations run on their own goroutines; the coordinator serializes per-key.
func (a *Adapter) Run(ctx context.Context, handler platform.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram adapter started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.observeTopic(update)

			event, ok := a.toInboundEvent(update)
			if !ok {
				continue
			}

			a.log.Info("Received message",
				"event_id", event.EventID,
				"channel_id", event.ChannelID,
				"author_id", event.AuthorID,
				"kind", event.Kind,
				"content", previewText(event.Text),
			)

			go a.sendTypingAction(ctx, event)
			go handler(ctx, event)
		}
	}
}

// sendTypingAction fires the native typing indicator for the chat that
// produced the event. Best effort; failures are logged and dropped.
func (a *Adapter) sendTypingAction(ctx context.Context, event bus.InboundEvent) {
	bot, err := a.currentBot()
	if err != nil {
		return
	}

	chatID, err := parseChatID(event.ChannelID)
	if err != nil {
		return
	}

	params := tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)
	if event.InThread {
		params.MessageThreadID = parseThreadID(event.ThreadID)
	}

	if err := bot.SendChatAction(ctx, params); err != nil {
		a.log.Debug("Failed to send typing action", "error", err)
	}
}

// observeTopic records forum topics seen on the update stream, so a topic the
// platform created asynchronously is discoverable by FetchExistingThread. A
// topic's thread id equals the message id of its root message, which is the
// event id resolution polls with.
func (a *Adapter) observeTopic(update telego.Update) {
	message := update.Message
	if message == nil || message.MessageThreadID == 0 {
		return
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	threadID := strconv.Itoa(message.MessageThreadID)
	key := chatID + "/" + threadID

	name := ""
	if message.ForumTopicCreated != nil {
		name = message.ForumTopicCreated.Name
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.topics[key]; ok {
		if name != "" && existing.Name == "" {
			existing.Name = name
			a.topics[key] = existing
		}
		return
	}
	a.topics[key] = platform.Thread{ID: threadID, Name: name}
}

// toInboundEvent maps one Telegram update onto the neutral event shape.
// Updates without text, without a sender, or from unauthorized senders are
// dropped.
func (a *Adapter) toInboundEvent(update telego.Update) (bus.InboundEvent, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundEvent{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		content = strings.TrimSpace(message.Caption)
	}
	if content == "" {
		return bus.InboundEvent{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundEvent{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundEvent{}, false
	}

	kind := bus.KindMention
	switch {
	case strings.HasPrefix(content, "/"):
		kind = bus.KindSlash
	case message.MessageThreadID != 0:
		kind = bus.KindThreadReply
	}

	inThread := message.MessageThreadID != 0
	threadID := ""
	if inThread {
		threadID = strconv.Itoa(message.MessageThreadID)
	}

	return bus.InboundEvent{
		EventID:        strconv.Itoa(message.MessageID),
		AuthorID:       senderID,
		AuthorName:     strings.TrimSpace(message.From.FirstName),
		ChannelID:      strconv.FormatInt(message.Chat.ID, 10),
		InThread:       inThread,
		ThreadID:       threadID,
		HasAttachments: len(message.Photo) > 0 || message.Document != nil,
		Kind:           kind,
		Text:           content,
		ReceivedAt:     time.Unix(message.Date, 0),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}, true
}

// SendMessage delivers text to the destination chat or topic. Attachments are
// uploaded as photos after the text; the returned handle refers to the text
// message.
func (a *Adapter) SendMessage(ctx context.Context, dest platform.Destination, text string, attachments []platform.Attachment) (platform.Handle, error) {
	bot, err := a.currentBot()
	if err != nil {
		return platform.Handle{}, err
	}

	chatID, err := parseChatID(dest.ChannelID)
	if err != nil {
		return platform.Handle{}, err
	}
	threadID := parseThreadID(dest.ThreadID)

	params := tu.Message(tu.ID(chatID), text)
	params.MessageThreadID = threadID

	sent, err := bot.SendMessage(ctx, params)
	if err != nil {
		return platform.Handle{}, mapTelegramError(err)
	}

	for _, attachment := range attachments {
		photo := tu.Photo(tu.ID(chatID), tu.FileFromBytes(attachment.Data, attachment.Name))
		photo.MessageThreadID = threadID
		if _, err := bot.SendPhoto(ctx, photo); err != nil {
			return platform.Handle{}, mapTelegramError(err)
		}
	}

	return platform.Handle{
		ChannelID: dest.ChannelID,
		MessageID: strconv.Itoa(sent.MessageID),
	}, nil
}

// CreateThread creates a forum topic for the event. A topic already recorded
// for the same origin surfaces as ErrThreadExists.
func (a *Adapter) CreateThread(ctx context.Context, event bus.InboundEvent, name string) (platform.Thread, error) {
	bot, err := a.currentBot()
	if err != nil {
		return platform.Thread{}, err
	}

	key := topicKey(event)
	a.mu.Lock()
	if _, exists := a.topics[key]; exists {
		a.mu.Unlock()
		return platform.Thread{}, platform.ErrThreadExists
	}
	a.mu.Unlock()

	chatID, err := parseChatID(event.ChannelID)
	if err != nil {
		return platform.Thread{}, err
	}

	topic, err := bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(chatID),
		Name:   name,
	})
	if err != nil {
		return platform.Thread{}, mapTelegramError(err)
	}

	thread := platform.Thread{
		ID:   strconv.Itoa(topic.MessageThreadID),
		Name: topic.Name,
	}

	a.mu.Lock()
	a.topics[key] = thread
	a.mu.Unlock()

	return thread, nil
}

// FetchExistingThread returns the topic previously recorded for the event's
// origin, if any.
func (a *Adapter) FetchExistingThread(_ context.Context, event bus.InboundEvent) (platform.Thread, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	thread, ok := a.topics[topicKey(event)]
	return thread, ok, nil
}

// DeleteMessage removes one previously sent message.
func (a *Adapter) DeleteMessage(ctx context.Context, handle platform.Handle) error {
	bot, err := a.currentBot()
	if err != nil {
		return err
	}

	chatID, err := parseChatID(handle.ChannelID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(handle.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", handle.MessageID, err)
	}

	if err := bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	}); err != nil {
		return mapTelegramError(err)
	}
	return nil
}

func (a *Adapter) currentBot() (*telego.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bot == nil {
		return nil, errors.New("telegram adapter is not running")
	}
	return a.bot, nil
}

// senderAllowed checks the allow_from list; an empty list accepts everyone.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func topicKey(event bus.InboundEvent) string {
	return event.ChannelID + "/" + event.EventID
}

func parseChatID(channelID string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}
	return chatID, nil
}

func parseThreadID(threadID string) int {
	id, err := strconv.Atoi(strings.TrimSpace(threadID))
	if err != nil {
		return 0
	}
	return id
}

// mapTelegramError lifts Bot API failures onto the neutral error taxonomy so
// the delivery layer can decide between retry, degrade and fallback.
func mapTelegramError(err error) error {
	if err == nil {
		return nil
	}

	description := strings.ToLower(err.Error())
	switch {
	case strings.Contains(description, "not enough rights"),
		strings.Contains(description, "forbidden"),
		strings.Contains(description, "chat is not a forum"):
		return fmt.Errorf("%w: %s", platform.ErrForbidden, err)
	case strings.Contains(description, "message is too long"),
		strings.Contains(description, "request entity too large"):
		return fmt.Errorf("%w: %s", platform.ErrPayloadTooLarge, err)
	case strings.Contains(description, "too many requests"),
		strings.Contains(description, "retry after"),
		strings.Contains(description, "bad gateway"),
		strings.Contains(description, "gateway timeout"):
		return platform.Transient(err)
	}
	return err
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
