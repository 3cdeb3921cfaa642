// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/lesson-engine/internal/secrets"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// envKeyReplacer maps nested keys to env names, so sources.code.token is
// read from LESSON_ENGINE_SOURCES_CODE_TOKEN.
var envKeyReplacer = strings.NewReplacer(".", "_")

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_mode", "dev")
	v.SetDefault("trace_endpoint", "")

	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.user_agent", "lesson-engine/"+version)

	v.SetDefault("sources.adapter_timeout", 12*time.Second)
	v.SetDefault("sources.base_count", 3)
	v.SetDefault("sources.max_count", 6)

	v.SetDefault("sources.docs.enabled", true)
	v.SetDefault("sources.docs.min_interval", 500*time.Millisecond)
	v.SetDefault("sources.docs.quota_cooldown", 10*time.Minute)

	v.SetDefault("sources.qa.enabled", true)
	v.SetDefault("sources.qa.min_interval", time.Second)
	v.SetDefault("sources.qa.quota_cooldown", time.Hour)
	v.SetDefault("sources.qa.site", "stackoverflow")
	v.SetDefault("sources.qa.api_key", "")

	// GitHub allows 10 unauthenticated search requests per minute.
	v.SetDefault("sources.code.enabled", true)
	v.SetDefault("sources.code.min_interval", 6*time.Second)
	v.SetDefault("sources.code.quota_cooldown", 15*time.Minute)
	v.SetDefault("sources.code.min_stars", 100)
	v.SetDefault("sources.code.recency_years", 3)
	v.SetDefault("sources.code.token", "")

	v.SetDefault("sources.blog.enabled", true)
	v.SetDefault("sources.blog.min_interval", time.Second)
	v.SetDefault("sources.blog.quota_cooldown", 15*time.Minute)
	v.SetDefault("sources.blog.min_reactions", 10)

	v.SetDefault("sources.video.enabled", true)
	v.SetDefault("sources.video.min_interval", time.Second)
	v.SetDefault("sources.video.quota_cooldown", 6*time.Hour)
	v.SetDefault("sources.video.max_candidates", 8)
	v.SetDefault("sources.video.caption_language", "en")
	v.SetDefault("sources.video.api_key", "")
	v.SetDefault("sources.video.weights.views", 0.3)
	v.SetDefault("sources.video.weights.like_ratio", 0.2)
	v.SetDefault("sources.video.weights.authority", 0.2)
	v.SetDefault("sources.video.weights.relevance", 0.2)
	v.SetDefault("sources.video.weights.recency", 0.1)

	v.SetDefault("transcription.backend", "")
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.language_code", "en-US")
	v.SetDefault("transcription.audio_endpoint", "")
	v.SetDefault("transcription.max_audio_per_video", 60*time.Second)
	v.SetDefault("transcription.daily_budget", 30*time.Minute)
	v.SetDefault("transcription.min_interval", 3*time.Second)

	v.SetDefault("store.driver", string(types.StoreSQLite))
	v.SetDefault("store.path", "data/lessons.db")
	v.SetDefault("store.dsn", "")

	v.SetDefault("orchestrator.deadline", 110*time.Second)
	v.SetDefault("orchestrator.single_flight", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "lesson-engine:ratelimit")
}

// defaultProviders is the chain used when the config names none. Intervals
// follow each provider's free-tier requests-per-minute quota.
func defaultProviders() []types.ProviderConfig {
	return []types.ProviderConfig{
		{
			ID:          "groq",
			Kind:        types.ProviderOpenAICompatible,
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			MinInterval: 2 * time.Second,
		},
		{
			ID:          "gemini",
			Kind:        types.ProviderOpenAICompatible,
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:       "gemini-2.0-flash",
			MinInterval: 4 * time.Second,
		},
		{
			ID:          "anthropic",
			Kind:        types.ProviderAnthropic,
			MinInterval: 1200 * time.Millisecond,
		},
	}
}

// decodeConfig unmarshals v and fills credentials from s.
func decodeConfig(v *viper.Viper, s secrets.Secrets) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if seen[p.ID] {
			return cfg, fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	s.Apply(&cfg)
	return cfg, nil
}

// loadConfig builds the engine config from viper, the loaded secrets and
// the persistent flags.
func loadConfig(cmd *cobra.Command) (types.EngineConfig, error) {
	cfg, err := decodeConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return cfg, err
	}
	if mode, _ := cmd.Flags().GetString("log-mode"); mode != "" {
		cfg.LogMode = mode
	}
	return cfg, nil
}
