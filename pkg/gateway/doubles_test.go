package gateway

import (
	"context"
	"sync"

	"briefbot/pkg/bus"
	"briefbot/pkg/platform"
)

// fakeMessenger records every call and answers from scripted state. Used
// across the resolver, delivery and coordinator tests.
type fakeMessenger struct {
	mu sync.Mutex

	sent    []sentMessage
	deleted []platform.Handle
	ops     []string // interleaved call order across sends and deletes

	sendErrs []error // consumed per SendMessage call, nil entries succeed
	sendSeq  int

	createThreadResult platform.Thread
	createThreadErr    error
	createCalls        int

	existingThread    platform.Thread
	existingOK        bool
	existingErr       error
	fetchCalls        int
	existingAfterPoll int // FetchExistingThread returns ok after this many calls
}

type sentMessage struct {
	dest        platform.Destination
	text        string
	attachments []platform.Attachment
}

func (f *fakeMessenger) SendMessage(_ context.Context, dest platform.Destination, text string, attachments []platform.Attachment) (platform.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.sendSeq < len(f.sendErrs) {
		err = f.sendErrs[f.sendSeq]
	}
	f.sendSeq++
	if err != nil {
		return platform.Handle{}, err
	}

	f.sent = append(f.sent, sentMessage{dest: dest, text: text, attachments: attachments})
	f.ops = append(f.ops, "send:"+text)
	return platform.Handle{ChannelID: dest.ChannelID, MessageID: "msg-" + text[:min(8, len(text))]}, nil
}

func (f *fakeMessenger) CreateThread(_ context.Context, _ bus.InboundEvent, name string) (platform.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createThreadErr != nil {
		return platform.Thread{}, f.createThreadErr
	}
	if f.createThreadResult.ID == "" {
		return platform.Thread{ID: "thread-created", Name: name}, nil
	}
	return f.createThreadResult, nil
}

func (f *fakeMessenger) FetchExistingThread(context.Context, bus.InboundEvent) (platform.Thread, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if f.existingErr != nil {
		return platform.Thread{}, false, f.existingErr
	}
	if f.existingAfterPoll > 0 && f.fetchCalls < f.existingAfterPoll {
		return platform.Thread{}, false, nil
	}
	return f.existingThread, f.existingOK, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, handle platform.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, handle)
	f.ops = append(f.ops, "delete:"+handle.MessageID)
	return nil
}

func (f *fakeMessenger) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeMessenger) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeMessenger) deletedHandles() []platform.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]platform.Handle, len(f.deleted))
	copy(out, f.deleted)
	return out
}

// fakeProcessor answers with a scripted response or error.
type fakeProcessor struct {
	mu       sync.Mutex
	calls    int
	threadID string
	response bus.Response
	err      error
}

func (f *fakeProcessor) Process(_ context.Context, _ bus.InboundEvent, threadID string) (bus.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.threadID = threadID
	if f.err != nil {
		return bus.Response{}, f.err
	}
	return f.response, nil
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
