package provider

import (
	"context"
	"fmt"
	"log/slog"

	"briefbot/pkg/config"
	providerfantasy "briefbot/pkg/provider/fantasy"
	provideropenai "briefbot/pkg/provider/openai"
	providertypes "briefbot/pkg/provider/types"
)

type Client interface {
	Health(ctx context.Context) error
	Generate(ctx context.Context, request providertypes.Request) (providertypes.Result, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Agents.Defaults.Provider
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
