// Package agent turns an inbound request into a response: it gathers thread
// history and linked-page context, calls the model provider, and attaches
// rendered charts.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
	providertypes "briefbot/pkg/provider/types"
	"briefbot/pkg/scrape"
	"briefbot/pkg/store"
)

const (
	maxScrapedURLs       = 3
	scrapeDeadline       = 30 * time.Second
	defaultSeedExchanges = 10

	systemPrompt = "You are BriefBot, a concise research assistant in a group chat. " +
		"Answer directly. When data suits it, present results as a markdown table. " +
		"Cite the source URL when your answer draws on scraped page content."
)

// Generator is the slice of the provider client the processor needs.
type Generator interface {
	Generate(ctx context.Context, request providertypes.Request) (providertypes.Result, error)
}

// ChartRenderer renders chart images from response text.
type ChartRenderer interface {
	FromText(ctx context.Context, text string) []bus.Visualization
}

// Scraper resolves a URL to readable text.
type Scraper interface {
	Scrape(ctx context.Context, url string) (scrape.Result, error)
}

// HistorySource restores prior exchanges for threads not yet in memory.
type HistorySource interface {
	RecentExchanges(ctx context.Context, threadID string, limit int) ([]store.Exchange, error)
}

// Processor produces one response per accepted event.
type Processor struct {
	generator Generator
	memory    *Memory
	history   HistorySource
	scraper   Scraper
	charts    ChartRenderer
	defaults  config.AgentDefaults
	log       *slog.Logger
}

// NewProcessor wires the response pipeline. history, scraper and
// chartRenderer may be nil to disable those stages.
func NewProcessor(generator Generator, memory *Memory, history HistorySource, scraper Scraper, chartRenderer ChartRenderer, defaults config.AgentDefaults, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}

	return &Processor{
		generator: generator,
		memory:    memory,
		history:   history,
		scraper:   scraper,
		charts:    chartRenderer,
		defaults:  defaults,
		log:       log.With("component", "agent.processor"),
	}
}

// Process answers event within threadID. The thread's history is consulted
// and updated; linked pages are scraped best-effort.
func (p *Processor) Process(ctx context.Context, event bus.InboundEvent, threadID string) (bus.Response, error) {
	prompt := strings.TrimSpace(event.Text)
	if prompt == "" {
		return bus.Response{}, fmt.Errorf("event %s has no text", event.EventID)
	}

	startedAt := time.Now()

	request := providertypes.Request{
		System: systemPrompt,
		Prompt: prompt,
		Model:  p.defaults.Model,
	}

	if pageContext := p.scrapeLinks(ctx, prompt); pageContext != "" {
		request.Prompt = prompt + "\n\n" + pageContext
	}

	p.seedMemory(ctx, threadID)
	for _, entry := range p.memory.List(threadID) {
		role := providertypes.RoleUser
		if entry.Role == string(providertypes.RoleAssistant) {
			role = providertypes.RoleAssistant
		}
		request.History = append(request.History, providertypes.Message{Role: role, Content: entry.Content})
	}

	result, err := p.generator.Generate(ctx, request)
	if err != nil {
		return bus.Response{}, fmt.Errorf("generate response: %w", err)
	}

	p.memory.Append(threadID, string(providertypes.RoleUser), prompt)
	p.memory.Append(threadID, string(providertypes.RoleAssistant), result.Text)

	response := bus.Response{
		Text:     result.Text,
		Provider: result.Metadata.Provider,
		Model:    result.Metadata.Model,
	}
	if p.charts != nil {
		response.Visualizations = p.charts.FromText(ctx, result.Text)
	}

	p.log.Info("Response generated",
		"event_id", event.EventID,
		"thread_id", threadID,
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(result.Text),
		"visualizations", len(response.Visualizations),
	)

	return response, nil
}

// seedMemory restores a cold thread's context from stored exchanges, so
// conversation continuity survives restarts. Failures only cost the context.
func (p *Processor) seedMemory(ctx context.Context, threadID string) {
	if p.history == nil || threadID == "" {
		return
	}
	if len(p.memory.List(threadID)) > 0 {
		return
	}

	limit := p.defaults.MemoryMax
	if limit <= 0 {
		limit = defaultSeedExchanges
	}

	exchanges, err := p.history.RecentExchanges(ctx, threadID, limit)
	if err != nil {
		p.log.Warn("Failed to load thread history", "thread_id", threadID, "error", err)
		return
	}

	for _, exchange := range exchanges {
		p.memory.Append(threadID, string(providertypes.RoleUser), exchange.Prompt)
		p.memory.Append(threadID, string(providertypes.RoleAssistant), exchange.Response)
	}
}

// scrapeLinks fetches up to maxScrapedURLs links from the prompt and formats
// their content as a context block. Failures only cost the context.
func (p *Processor) scrapeLinks(ctx context.Context, prompt string) string {
	if p.scraper == nil {
		return ""
	}

	urls := scrape.ExtractURLs(prompt)
	if len(urls) == 0 {
		return ""
	}
	if len(urls) > maxScrapedURLs {
		urls = urls[:maxScrapedURLs]
	}

	ctx, cancel := context.WithTimeout(ctx, scrapeDeadline)
	defer cancel()

	var sections []string
	for _, url := range urls {
		result, err := p.scraper.Scrape(ctx, url)
		if err != nil {
			p.log.Warn("Link scrape failed", "url", url, "error", err)
			continue
		}
		sections = append(sections, fmt.Sprintf("Content of %s:\n%s", result.URL, result.Content))
	}

	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}
