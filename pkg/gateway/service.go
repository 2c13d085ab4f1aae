package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"briefbot/pkg/agent"
	"briefbot/pkg/bus"
	"briefbot/pkg/charts"
	"briefbot/pkg/config"
	"briefbot/pkg/dedupe"
	"briefbot/pkg/platform"
	"briefbot/pkg/provider"
	"briefbot/pkg/ratelimit"
	"briefbot/pkg/scrape"
	"briefbot/pkg/store"
)

const (
	defaultStatusHost = "0.0.0.0"
	defaultStatusPort = 18790
)

// Service owns the long-running pieces: the status server, the provider
// health loop, and one coordinator per platform adapter.
type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	provider     provider.Client
	events       *bus.EventBus
	store        store.Store
	adapters     []platform.Adapter
	coordinators map[string]*Coordinator

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	adapterStates    map[string]adapterState
}

type adapterState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Adapters         map[string]adapterState `json:"adapters"`
	Store            *storeStatus            `json:"store,omitempty"`
}

type storeStatus struct {
	Exchanges   int64 `json:"exchanges"`
	UniqueUsers int64 `json:"unique_users"`
}

// NewService wires the full pipeline around the given adapters. Every adapter
// must also implement platform.Messenger.
func NewService(cfg *config.Config, adapters []platform.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one platform adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	var exchangeStore store.Store
	if path := strings.TrimSpace(cfg.Storage.Path); path != "" {
		sqliteStore, err := store.NewSQLiteStore(path, log)
		if err != nil {
			return nil, fmt.Errorf("initialize store: %w", err)
		}
		exchangeStore = sqliteStore
	}

	var scraper agent.Scraper
	if strings.TrimSpace(cfg.Scrape.PrimaryURL) != "" || strings.TrimSpace(cfg.Scrape.FallbackURL) != "" {
		scraper = scrape.NewChain(cfg.Scrape, log)
	}

	var chartRenderer agent.ChartRenderer
	if chartService := charts.NewService(cfg.Charts, log); chartService != nil {
		chartRenderer = chartService
	}

	memory := agent.NewMemory(
		cfg.Agents.Defaults.MemoryMax,
		time.Duration(cfg.Agents.Defaults.MemoryTTLHours)*time.Hour,
	)
	var history agent.HistorySource
	if exchangeStore != nil {
		history = exchangeStore
	}
	processor := agent.NewProcessor(client, memory, history, scraper, chartRenderer, cfg.Agents.Defaults, log)

	limiter := ratelimit.New(
		time.Duration(cfg.RateLimit.CooldownSeconds)*time.Second,
		cfg.RateLimit.MaxPerMinute,
		cfg.RateLimit.MaxUsersTracked,
		log,
	)

	events := bus.NewEventBus()
	resolutions := dedupe.NewResolutionCache(cfg.Dedup.ResolutionMaxSize)

	coordinators := make(map[string]*Coordinator, len(adapters))
	adapterStates := make(map[string]adapterState, len(adapters))
	for _, adapter := range adapters {
		messenger, ok := adapter.(platform.Messenger)
		if !ok {
			return nil, fmt.Errorf("adapter %s does not provide a messenger surface", adapter.Name())
		}

		coordinators[adapter.Name()] = NewCoordinator(cfg.Dedup, CoordinatorDeps{
			Resolver:  NewResolver(messenger, resolutions, cfg.Resolver, log),
			Deliverer: NewDeliverer(messenger, cfg.Delivery, log),
			Processor: processor,
			Messenger: messenger,
			Events:    events,
			Store:     exchangeStore,
			Limiter:   limiter,
		}, log)
		adapterStates[adapter.Name()] = adapterState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		provider:      client,
		events:        events,
		store:         exchangeStore,
		adapters:      adapters,
		coordinators:  coordinators,
		adapterStates: adapterStates,
	}, nil
}

// Events exposes the lifecycle bus for observers.
func (s *Service) Events() *bus.EventBus {
	return s.events
}

// Run starts the status server, the provider health loop and the adapters,
// then blocks until the context ends or a component fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkProviderHealth(ctx)
			}
		}
	}()

	errCh := make(chan error, len(s.adapters))
	for _, adapter := range s.adapters {
		adapter := adapter
		coordinator := s.coordinators[adapter.Name()]
		s.setAdapterState(adapter.Name(), adapterState{Running: true})

		go func() {
			err := adapter.Run(ctx, coordinator.Handle)
			s.setAdapterState(adapter.Name(), adapterState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s adapter: %w", adapter.Name(), err)
			}
		}()
	}

	defer s.shutdown()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) shutdown() {
	s.events.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("Failed to close store", "error", err)
		}
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondStatus(w, r, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, r, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, r *http.Request, statusCode int, status string) {
	payload := s.currentStatus(status)
	payload.Store = s.storeStats(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	adapters := make(map[string]adapterState, len(s.adapterStates))
	for name, state := range s.adapterStates {
		adapters[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Adapters:         adapters,
	}
}

// storeStats reads aggregate exchange counts for the status payload. Stats
// are advisory; a read failure leaves them out.
func (s *Service) storeStats(ctx context.Context) *storeStatus {
	if s.store == nil {
		return nil
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Warn("Failed to read store stats", "error", err)
		return nil
	}

	return &storeStatus{Exchanges: stats.Exchanges, UniqueUsers: stats.UniqueUsers}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.adapterStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.providerLastOKAt.IsZero() {
		return false
	}

	return s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setAdapterState(name string, state adapterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapterStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
