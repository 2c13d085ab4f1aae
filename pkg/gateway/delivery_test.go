package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/platform"
)

func newTestDeliverer(messenger *fakeMessenger, cfg config.DeliveryConfig) (*Deliverer, *[]time.Duration) {
	deliverer := NewDeliverer(messenger, cfg, nil)
	var slept []time.Duration
	deliverer.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return deliverer, &slept
}

func TestDeliverSingleChunk(t *testing.T) {
	messenger := &fakeMessenger{}
	deliverer, _ := newTestDeliverer(messenger, config.DeliveryConfig{})

	dest := platform.Destination{ChannelID: "chan-1", ThreadID: "thread-1"}
	chunks, err := deliverer.Deliver(context.Background(), dest, bus.Response{Text: "hello"})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("chunks = %d, want 1", chunks)
	}

	sent := messenger.sentMessages()
	if len(sent) != 1 || sent[0].text != "hello" || sent[0].dest != dest {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestDeliverSplitsLongResponse(t *testing.T) {
	messenger := &fakeMessenger{}
	deliverer, _ := newTestDeliverer(messenger, config.DeliveryConfig{MessageLimit: 100})

	text := strings.Repeat("word ", 60)
	chunks, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, bus.Response{Text: text})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if chunks < 2 {
		t.Fatalf("chunks = %d, want 2+", chunks)
	}

	sent := messenger.sentMessages()
	if len(sent) != chunks {
		t.Fatalf("sent = %d messages, want %d", len(sent), chunks)
	}
	if !strings.HasPrefix(sent[0].text, "[Part 1/") {
		t.Fatalf("first chunk = %q", sent[0].text)
	}
}

func TestDeliverAttachmentsFirstChunkOnly(t *testing.T) {
	messenger := &fakeMessenger{}
	deliverer, _ := newTestDeliverer(messenger, config.DeliveryConfig{MessageLimit: 100})

	response := bus.Response{
		Text:           strings.Repeat("word ", 60),
		Visualizations: []bus.Visualization{{Name: "chart_1.png", PNG: []byte{1, 2, 3}}},
	}
	if _, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, response); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	sent := messenger.sentMessages()
	if len(sent[0].attachments) != 1 {
		t.Fatalf("first chunk attachments = %d, want 1", len(sent[0].attachments))
	}
	for i, message := range sent[1:] {
		if len(message.attachments) != 0 {
			t.Fatalf("chunk %d carries attachments", i+2)
		}
	}
}

func TestDeliverRetriesTransientWithBackoff(t *testing.T) {
	transient := platform.Transient(errors.New("connection reset"))
	messenger := &fakeMessenger{sendErrs: []error{transient, transient, nil}}
	deliverer, slept := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3, RetryBaseMS: 1000})

	response := bus.Response{
		Text:           "answer",
		Visualizations: []bus.Visualization{{Name: "chart_1.png", PNG: []byte{1, 2, 3}}},
	}
	chunks, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, response)
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("chunks = %d, want 1", chunks)
	}

	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("backoffs = %v, want [1s 2s]", *slept)
	}

	// The successful attempt must carry a fresh attachment buffer.
	sent := messenger.sentMessages()
	if len(sent) != 1 || len(sent[0].attachments) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if &sent[0].attachments[0].Data[0] == &response.Visualizations[0].PNG[0] {
		t.Fatal("attachment buffer was not recreated for the retry")
	}
}

func TestDeliverGivesUpAfterRetryBudget(t *testing.T) {
	transient := platform.Transient(errors.New("connection reset"))
	messenger := &fakeMessenger{sendErrs: []error{transient, transient, transient}}
	deliverer, slept := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3, RetryBaseMS: 1000})

	_, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, bus.Response{Text: "answer"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(*slept) != 2 {
		t.Fatalf("backoffs = %v, want 2 sleeps for 3 attempts", *slept)
	}
}

func TestDeliverDegradesToTextAfterRetryExhaustion(t *testing.T) {
	transient := platform.Transient(errors.New("connection reset"))
	messenger := &fakeMessenger{sendErrs: []error{transient, transient, transient, nil}}
	deliverer, slept := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3, RetryBaseMS: 1000})

	response := bus.Response{
		Text:           "answer",
		Visualizations: []bus.Visualization{{Name: "chart_1.png", PNG: []byte{1, 2, 3}}},
	}
	chunks, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, response)
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("chunks = %d, want 1", chunks)
	}
	if len(*slept) != 2 {
		t.Fatalf("backoffs = %v, want 2 sleeps for 3 attempts", *slept)
	}

	sent := messenger.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if len(sent[0].attachments) != 0 {
		t.Fatal("expected degraded resend without attachments")
	}
	if sent[0].text != "answer" {
		t.Fatalf("text = %q", sent[0].text)
	}
}

func TestDeliverFailsWhenDegradedResendFails(t *testing.T) {
	transient := platform.Transient(errors.New("connection reset"))
	messenger := &fakeMessenger{sendErrs: []error{transient, transient, transient, transient}}
	deliverer, _ := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3, RetryBaseMS: 1000})

	response := bus.Response{
		Text:           "answer",
		Visualizations: []bus.Visualization{{Name: "chart_1.png", PNG: []byte{1}}},
	}
	if _, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, response); err == nil {
		t.Fatal("expected error when the text-only resend also fails")
	}
}

func TestDeliverPermanentErrorNoRetry(t *testing.T) {
	messenger := &fakeMessenger{sendErrs: []error{platform.ErrForbidden}}
	deliverer, slept := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3})

	_, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, bus.Response{Text: "answer"})
	if !errors.Is(err, platform.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("backoffs = %v, want none for permanent error", *slept)
	}
}

func TestDeliverDegradesToTextOnPayloadRejection(t *testing.T) {
	messenger := &fakeMessenger{sendErrs: []error{platform.ErrPayloadTooLarge, nil}}
	deliverer, _ := newTestDeliverer(messenger, config.DeliveryConfig{RetryAttempts: 3})

	response := bus.Response{
		Text:           "answer",
		Visualizations: []bus.Visualization{{Name: "chart_1.png", PNG: []byte{1}}},
	}
	chunks, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, response)
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("chunks = %d, want 1", chunks)
	}

	sent := messenger.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if len(sent[0].attachments) != 0 {
		t.Fatal("expected degraded send without attachments")
	}
	if sent[0].text != "answer" {
		t.Fatalf("text = %q", sent[0].text)
	}
}

func TestDeliverRejectsEmptyResponse(t *testing.T) {
	deliverer, _ := newTestDeliverer(&fakeMessenger{}, config.DeliveryConfig{})

	if _, err := deliverer.Deliver(context.Background(), platform.Destination{ChannelID: "chan-1"}, bus.Response{}); err == nil {
		t.Fatal("expected error for empty response")
	}
}
