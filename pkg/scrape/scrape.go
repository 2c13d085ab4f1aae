// Package scrape extracts readable text from URLs through a primary/fallback
// provider chain. Scrape failures are reported to the caller but are never
// fatal to a response lifecycle.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"briefbot/pkg/config"
)

const (
	defaultTimeout       = 20 * time.Second
	defaultMaxContentLen = 8000
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Result is one successful scrape.
type Result struct {
	URL     string
	Content string
	Source  string
}

// Scraper turns one URL into readable text.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, url string) (string, error)
}

// ExtractURLs returns the distinct URLs found in text, in order of appearance.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, match := range matches {
		trimmed := strings.TrimRight(match, ").,;")
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		urls = append(urls, trimmed)
	}
	return urls
}

// Chain tries each scraper in order and returns the first non-empty result.
type Chain struct {
	scrapers      []Scraper
	maxContentLen int
	log           *slog.Logger
}

// NewChain builds the provider chain from config. A missing primary endpoint
// yields an empty chain whose Scrape always fails.
func NewChain(cfg config.ScrapeConfig, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	var scrapers []Scraper
	if strings.TrimSpace(cfg.PrimaryURL) != "" {
		scrapers = append(scrapers, &extractAPIScraper{
			name:     "primary",
			endpoint: strings.TrimSpace(cfg.PrimaryURL),
			apiKey:   strings.TrimSpace(cfg.APIKey),
			client:   client,
		})
	}
	if strings.TrimSpace(cfg.FallbackURL) != "" {
		scrapers = append(scrapers, &readerScraper{
			name:     "fallback",
			endpoint: strings.TrimSpace(cfg.FallbackURL),
			client:   client,
		})
	}

	maxContentLen := cfg.MaxContentLen
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}

	return &Chain{
		scrapers:      scrapers,
		maxContentLen: maxContentLen,
		log:           log.With("component", "scrape.chain"),
	}
}

// Scrape resolves url through the chain. Each provider failure is logged and
// the next provider is tried; only full-chain exhaustion returns an error.
func (c *Chain) Scrape(ctx context.Context, url string) (Result, error) {
	if len(c.scrapers) == 0 {
		return Result{}, errors.New("no scrape providers configured")
	}

	var lastErr error
	for _, scraper := range c.scrapers {
		content, err := scraper.Scrape(ctx, url)
		if err != nil {
			c.log.Warn("Scrape provider failed", "provider", scraper.Name(), "url", url, "error", err)
			lastErr = err
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			c.log.Warn("Scrape provider returned empty content", "provider", scraper.Name(), "url", url)
			lastErr = fmt.Errorf("%s returned empty content", scraper.Name())
			continue
		}
		if len(content) > c.maxContentLen {
			content = content[:c.maxContentLen]
		}
		return Result{URL: url, Content: content, Source: scraper.Name()}, nil
	}

	return Result{}, fmt.Errorf("all scrape providers failed for %s: %w", url, lastErr)
}

// extractAPIScraper posts to a firecrawl-style extraction API that returns
// JSON with the page content as markdown.
type extractAPIScraper struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

func (s *extractAPIScraper) Name() string { return s.name }

func (s *extractAPIScraper) Scrape(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"url":             url,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction api returned %d", resp.StatusCode)
	}

	var payload struct {
		Markdown string `json:"markdown"`
		Data     struct {
			Markdown string `json:"markdown"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}

	// Response shape varies across API versions; accept both.
	if payload.Markdown != "" {
		return payload.Markdown, nil
	}
	return payload.Data.Markdown, nil
}

// readerScraper fetches endpoint+url from a reader-style proxy that returns
// plain text directly.
type readerScraper struct {
	name     string
	endpoint string
	client   *http.Client
}

func (s *readerScraper) Name() string { return s.name }

func (s *readerScraper) Scrape(ctx context.Context, url string) (string, error) {
	target := strings.TrimRight(s.endpoint, "/") + "/" + url

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader returned %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(content), nil
}
