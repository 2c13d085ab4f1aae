package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/platform"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = time.Second
)

// Deliverer writes one response to its destination: splitting over the
// message limit, retrying transient first-chunk failures with backoff, and
// degrading to text-only when attachments are the problem.
type Deliverer struct {
	messenger     platform.Messenger
	messageLimit  int
	splitHeadroom int
	retryAttempts int
	retryBase     time.Duration
	sleep         func(context.Context, time.Duration) error
	log           *slog.Logger
}

// NewDeliverer builds a deliverer from config. Non-positive settings fall
// back to defaults.
func NewDeliverer(messenger platform.Messenger, cfg config.DeliveryConfig, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}

	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	retryBase := time.Duration(cfg.RetryBaseMS) * time.Millisecond
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}

	return &Deliverer{
		messenger:     messenger,
		messageLimit:  cfg.MessageLimit,
		splitHeadroom: cfg.SplitHeadroom,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
		sleep:         sleepContext,
		log:           log.With("component", "gateway.delivery"),
	}
}

// Deliver sends response to dest. Attachments ride on the first chunk only.
// Returns the number of chunks sent.
func (d *Deliverer) Deliver(ctx context.Context, dest platform.Destination, response bus.Response) (int, error) {
	chunks := splitMessage(response.Text, d.messageLimit, d.splitHeadroom)
	if len(chunks) == 0 {
		return 0, errors.New("response has no text")
	}

	attachments := make([]platform.Attachment, 0, len(response.Visualizations))
	for _, visualization := range response.Visualizations {
		attachments = append(attachments, platform.Attachment{
			Name: visualization.Name,
			Data: visualization.PNG,
		})
	}

	if err := d.sendFirstChunk(ctx, dest, chunks[0], attachments); err != nil {
		return 0, err
	}

	for i, chunk := range chunks[1:] {
		if _, err := d.messenger.SendMessage(ctx, dest, chunk, nil); err != nil {
			return i + 1, fmt.Errorf("send chunk %d/%d: %w", i+2, len(chunks), err)
		}
	}

	return len(chunks), nil
}

// sendFirstChunk retries transient failures with exponential backoff. Each
// attempt clones the attachment buffers because a failed upload may have
// consumed them. A payload rejection drops the attachments and sends the
// text alone; exhausting the retry budget on an attachment-bearing send also
// falls back to one text-only resend before giving up.
func (d *Deliverer) sendFirstChunk(ctx context.Context, dest platform.Destination, text string, attachments []platform.Attachment) error {
	var lastErr error

	for attempt := 0; attempt < d.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.retryBase << (attempt - 1)
			d.log.Warn("Retrying delivery", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		fresh := make([]platform.Attachment, len(attachments))
		for i, attachment := range attachments {
			fresh[i] = attachment.Clone()
		}

		_, err := d.messenger.SendMessage(ctx, dest, text, fresh)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, platform.ErrPayloadTooLarge) && len(attachments) > 0 {
			d.log.Warn("Attachments rejected, degrading to text-only", "error", err)
			attachments = nil
			continue
		}
		if !platform.IsTransient(err) {
			return fmt.Errorf("send first chunk: %w", err)
		}
	}

	if len(attachments) > 0 {
		d.log.Warn("Retries exhausted, degrading to text-only", "error", lastErr)
		_, err := d.messenger.SendMessage(ctx, dest, text, nil)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("send first chunk after %d attempts: %w", d.retryAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
