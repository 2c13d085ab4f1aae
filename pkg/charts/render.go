package charts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"briefbot/pkg/bus"
	"briefbot/pkg/config"
)

const (
	defaultRenderURL     = "https://quickchart.io/chart"
	renderTimeout        = 15 * time.Second
	maxChartsPerResponse = 3
	maxPNGBytes          = 8 << 20
)

// Renderer turns a parsed table into a PNG image.
type Renderer interface {
	Render(ctx context.Context, table Table) ([]byte, error)
}

// Service extracts tables from response text and renders them. A nil or
// disabled Service renders nothing.
type Service struct {
	renderer Renderer
	log      *slog.Logger
}

// NewService builds the chart service from config. Returns nil when charts
// are disabled.
func NewService(cfg config.ChartsConfig, log *slog.Logger) *Service {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}

	renderURL := strings.TrimSpace(cfg.RenderURL)
	if renderURL == "" {
		renderURL = defaultRenderURL
	}

	return &Service{
		renderer: &httpRenderer{
			endpoint: renderURL,
			client:   &http.Client{Timeout: renderTimeout},
		},
		log: log.With("component", "charts"),
	}
}

// FromText renders the chartable tables in text into visualizations. Render
// failures are logged and skipped; the text itself is never modified.
func (s *Service) FromText(ctx context.Context, text string) []bus.Visualization {
	if s == nil {
		return nil
	}

	tables := ExtractTables(text)
	if len(tables) > maxChartsPerResponse {
		tables = tables[:maxChartsPerResponse]
	}

	var visualizations []bus.Visualization
	for i, table := range tables {
		png, err := s.renderer.Render(ctx, table)
		if err != nil {
			s.log.Warn("Chart render failed", "title", table.Title, "error", err)
			continue
		}
		visualizations = append(visualizations, bus.Visualization{
			Name: fmt.Sprintf("chart_%d.png", i+1),
			PNG:  png,
		})
	}
	return visualizations
}

// httpRenderer posts a chart definition to a quickchart-style endpoint and
// reads back the PNG.
type httpRenderer struct {
	endpoint string
	client   *http.Client
}

func (r *httpRenderer) Render(ctx context.Context, table Table) ([]byte, error) {
	definition := map[string]any{
		"type": "bar",
		"data": map[string]any{
			"labels": table.Labels(),
			"datasets": []map[string]any{{
				"label": table.Title,
				"data":  table.Values(),
			}},
		},
		"options": map[string]any{
			"plugins": map[string]any{
				"title": map[string]any{"display": true, "text": table.Title},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"chart":   definition,
		"format":  "png",
		"width":   800,
		"height":  450,
		"version": "4",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart renderer returned %d", resp.StatusCode)
	}

	png, err := io.ReadAll(io.LimitReader(resp.Body, maxPNGBytes))
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("chart renderer returned empty body")
	}
	return png, nil
}
