package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"briefbot/pkg/agent"
	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	"briefbot/pkg/dedupe"
	"briefbot/pkg/platform"
	providertypes "briefbot/pkg/provider/types"

	"github.com/stretchr/testify/require"
)

type recordingProviderClient struct {
	mu          sync.Mutex
	healthCalls int
	prompts     []string
}

func (p *recordingProviderClient) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthCalls++
	return nil
}

func (p *recordingProviderClient) Generate(_ context.Context, request providertypes.Request) (providertypes.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, request.Prompt)
	return providertypes.Result{Text: "ok:" + request.Prompt}, nil
}

func (p *recordingProviderClient) snapshot() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prompts := make([]string, len(p.prompts))
	copy(prompts, p.prompts)
	return p.healthCalls, prompts
}

// scriptedAdapter feeds a fixed event sequence through the handler and
// serves the messenger surface from the embedded fake.
type scriptedAdapter struct {
	*fakeMessenger
	name    string
	inbound []bus.InboundEvent
	done    chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler platform.Handler) error {
	for _, event := range a.inbound {
		handler(ctx, event)
	}
	close(a.done)

	<-ctx.Done()
	return nil
}

func TestServiceRunE2EScriptedAdapter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providerClient := &recordingProviderClient{}
	cfg := &config.Config{
		Agents: config.AgentsConfig{Defaults: config.AgentDefaults{Provider: "openai", Model: "gpt-5.2"}},
		Gateway: config.GatewayConfig{
			Host: "127.0.0.1",
			Port: freeTCPPort(t),
		},
	}

	adapter := &scriptedAdapter{
		fakeMessenger: &fakeMessenger{createThreadResult: platform.Thread{ID: "thread-1"}},
		name:          "scripted",
		inbound: []bus.InboundEvent{
			{EventID: "evt-1", AuthorID: "user-1", ChannelID: "100", Kind: bus.KindMention, Text: "one"},
			{EventID: "evt-1", AuthorID: "user-1", ChannelID: "100", Kind: bus.KindMention, Text: "one"},
			{EventID: "evt-2", AuthorID: "user-2", ChannelID: "200", Kind: bus.KindMention, Text: "two"},
		},
		done: make(chan struct{}),
	}

	log := slog.Default()
	memory := agent.NewMemory(10, time.Hour)
	processor := agent.NewProcessor(providerClient, memory, nil, nil, nil, cfg.Agents.Defaults, log)

	deliverer := NewDeliverer(adapter.fakeMessenger, cfg.Delivery, log)
	deliverer.sleep = func(context.Context, time.Duration) error { return nil }

	coordinator := NewCoordinator(cfg.Dedup, CoordinatorDeps{
		Resolver:  NewResolver(adapter.fakeMessenger, dedupe.NewResolutionCache(100), cfg.Resolver, log),
		Deliverer: deliverer,
		Processor: processor,
		Messenger: adapter.fakeMessenger,
		Events:    bus.NewEventBus(),
	}, log)

	svc := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service.test"),
		provider:      providerClient,
		events:        bus.NewEventBus(),
		adapters:      []platform.Adapter{adapter},
		coordinators:  map[string]*Coordinator{adapter.Name(): coordinator},
		adapterStates: map[string]adapterState{adapter.Name(): {}},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for scripted events")
	}

	// Readiness flips once an adapter runs and the provider reported healthy.
	statusURL := "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)) + "/readyz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	healthCalls, prompts := providerClient.snapshot()
	require.GreaterOrEqual(t, healthCalls, 1)
	// evt-1 redelivery collapses at the dedup gate.
	require.Equal(t, []string{"one", "two"}, prompts)

	var responses []string
	for _, message := range adapter.sentMessages() {
		if message.text == workingIndicatorText {
			continue
		}
		responses = append(responses, message.text)
	}
	require.Equal(t, []string{"ok:one", "ok:two"}, responses)

	// Each accepted event posted and removed one working indicator.
	require.Len(t, adapter.deletedHandles(), 2)
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
