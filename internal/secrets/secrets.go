// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files. The
// filename is the key name and the trimmed file contents are the value.
//
// Known key files: github-token, stackexchange-key, youtube-api-key,
// openai-api-key, and <provider-id>-api-key for each generation provider
// (groq-api-key, gemini-api-key, anthropic-api-key).
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Key file names for the source adapters and the transcription backend.
const (
	GitHubToken      = "github-token"
	StackExchangeKey = "stackexchange-key"
	YouTubeAPIKey    = "youtube-api-key"
	OpenAIAPIKey     = "openai-api-key"
)

// Secrets maps key names to values.
type Secrets map[string]string

// Load reads every regular, non-hidden file in dir. A missing directory is
// not an error. Unreadable files are reported in skipped and do not abort.
func Load(dir string) (s Secrets, skipped []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil, nil
		}
		return nil, nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	s = make(Secrets)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			s[name] = value
		}
	}
	return s, skipped, nil
}

// Get returns current when it is set, otherwise the secret stored under key.
// Explicit configuration wins over the secrets directory.
func (s Secrets) Get(key, current string) string {
	if current != "" {
		return current
	}
	return s[key]
}

// Names returns the loaded key names, sorted.
func (s Secrets) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ProviderKey is the key file name for a generation provider id.
func ProviderKey(id string) string {
	return id + "-api-key"
}

// Apply fills empty credentials in cfg from s.
func (s Secrets) Apply(cfg *types.EngineConfig) {
	cfg.Sources.Code.Token = s.Get(GitHubToken, cfg.Sources.Code.Token)
	cfg.Sources.QA.APIKey = s.Get(StackExchangeKey, cfg.Sources.QA.APIKey)
	cfg.Sources.Video.APIKey = s.Get(YouTubeAPIKey, cfg.Sources.Video.APIKey)
	if cfg.Transcription.Backend == types.TranscriptionWhisper {
		cfg.Transcription.APIKey = s.Get(OpenAIAPIKey, cfg.Transcription.APIKey)
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.APIKey = s.Get(ProviderKey(p.ID), p.APIKey)
	}
}
