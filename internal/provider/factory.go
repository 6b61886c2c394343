package provider

import (
	"fmt"

	"brightpath/internal/config"
)

// New creates a Capability from one endpoint config.
func New(cfg config.ProviderConfig) (Capability, error) {
	switch cfg.Kind {
	case "gateway":
		return NewGatewayClient(cfg.Name, cfg.URL, cfg.Key, cfg.Model), nil
	case "vision":
		return NewVisionClient(cfg.Name, cfg.URL, cfg.Key, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", cfg.Kind)
	}
}

// BuildRegistry creates every configured provider, keyed by name.
func BuildRegistry(endpoints []config.ProviderConfig) (map[string]Capability, error) {
	registry := make(map[string]Capability, len(endpoints))
	for _, ep := range endpoints {
		cap, err := New(ep)
		if err != nil {
			return nil, err
		}
		registry[ep.Name] = cap
	}
	return registry, nil
}
