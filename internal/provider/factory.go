// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"fmt"

	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// New builds the provider described by cfg.
func New(cfg types.ProviderConfig) (Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider config without id")
	}
	switch cfg.Kind {
	case types.ProviderOpenAI, types.ProviderOpenAICompatible:
		return NewOpenAI(cfg)
	case types.ProviderAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

// BuildEntries turns provider configs into chain entries, registering one
// gate per provider in reg. Providers without an API key are skipped and
// reported in skipped so a partially configured chain still runs.
func BuildEntries(cfgs []types.ProviderConfig, reg *ratelimit.Registry) (entries []Entry, skipped []string, err error) {
	for _, cfg := range cfgs {
		if cfg.APIKey == "" {
			skipped = append(skipped, cfg.ID)
			continue
		}
		p, err := New(cfg)
		if err != nil {
			return nil, skipped, err
		}
		entries = append(entries, Entry{
			Provider: p,
			Gate:     reg.Register(cfg.ID, cfg.MinInterval),
			Timeout:  cfg.Timeout,
		})
	}
	return entries, skipped, nil
}
