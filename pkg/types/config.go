package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make
// network requests.
type HTTPConfig struct {
	// Timeout is the transport-level request timeout. Adapter and provider
	// deadlines are enforced separately through contexts.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "lesson-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SourceConfig holds the settings every source adapter shares.
type SourceConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// MinInterval is the minimum time between two calls to the source API.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval"`

	// QuotaCooldown is how long the adapter reports itself unavailable after
	// the source signals an exhausted quota.
	QuotaCooldown time.Duration `json:"quota_cooldown" yaml:"quota_cooldown" mapstructure:"quota_cooldown"`
}

// DocsConfig configures the official documentation adapter.
type DocsConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`
}

// QAConfig configures the Q&A platform adapter (StackExchange).
type QAConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`

	// APIKey raises the StackExchange daily quota when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Site is the StackExchange site to search (default "stackoverflow").
	Site string `json:"site" yaml:"site" mapstructure:"site"`
}

// CodeSearchConfig configures the code-hosting search adapter (GitHub).
type CodeSearchConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`

	Token string `json:"token,omitempty" yaml:"token,omitempty" mapstructure:"token"`

	// MinStars is the popularity threshold for the strict tiers (default 100).
	MinStars int `json:"min_stars" yaml:"min_stars" mapstructure:"min_stars"`

	// RecencyYears limits results to repositories pushed within this many
	// years (default 3).
	RecencyYears int `json:"recency_years" yaml:"recency_years" mapstructure:"recency_years"`
}

// BlogConfig configures the community blog adapter (DEV Community).
type BlogConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`

	// MinReactions is the minimum positive reaction count (default 10).
	MinReactions int `json:"min_reactions" yaml:"min_reactions" mapstructure:"min_reactions"`
}

// VideoWeights weights the components of the video ranking score. Weights
// need not sum to one; the score is normalized by their sum.
type VideoWeights struct {
	Views     float64 `json:"views" yaml:"views" mapstructure:"views"`
	LikeRatio float64 `json:"like_ratio" yaml:"like_ratio" mapstructure:"like_ratio"`
	Authority float64 `json:"authority" yaml:"authority" mapstructure:"authority"`
	Relevance float64 `json:"relevance" yaml:"relevance" mapstructure:"relevance"`
	Recency   float64 `json:"recency" yaml:"recency" mapstructure:"recency"`
}

// VideoConfig configures the video platform adapter (YouTube).
type VideoConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`

	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxCandidates is how many search hits are ranked (default 8).
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" mapstructure:"max_candidates"`

	// CaptionLanguage is the preferred caption track language (default "en").
	CaptionLanguage string `json:"caption_language" yaml:"caption_language" mapstructure:"caption_language"`

	Weights VideoWeights `json:"weights" yaml:"weights" mapstructure:"weights"`
}

// SourcesConfig groups the adapter settings and the aggregator's knobs.
type SourcesConfig struct {
	// AdapterTimeout is the hard deadline for one adapter call (default 12s).
	AdapterTimeout time.Duration `json:"adapter_timeout" yaml:"adapter_timeout" mapstructure:"adapter_timeout"`

	// BaseCount is the number of items list-capable sources return when all
	// peers are healthy (default 3).
	BaseCount int `json:"base_count" yaml:"base_count" mapstructure:"base_count"`

	// MaxCount caps the compensated item count (default 6).
	MaxCount int `json:"max_count" yaml:"max_count" mapstructure:"max_count"`

	Docs  DocsConfig       `json:"docs" yaml:"docs" mapstructure:"docs"`
	QA    QAConfig         `json:"qa" yaml:"qa" mapstructure:"qa"`
	Code  CodeSearchConfig `json:"code" yaml:"code" mapstructure:"code"`
	Blog  BlogConfig       `json:"blog" yaml:"blog" mapstructure:"blog"`
	Video VideoConfig      `json:"video" yaml:"video" mapstructure:"video"`
}

// TranscriptionBackend selects the speech-to-text fallback.
type TranscriptionBackend string

const (
	TranscriptionOff     TranscriptionBackend = ""
	TranscriptionWhisper TranscriptionBackend = "whisper"
	TranscriptionGCP     TranscriptionBackend = "gcp"
)

// TranscriptionConfig configures the speech-to-text fallback used when a
// video has no native captions.
type TranscriptionConfig struct {
	Backend TranscriptionBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// APIKey, BaseURL and Model address an OpenAI-compatible transcription
	// endpoint for the whisper backend.
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model   string `json:"model" yaml:"model" mapstructure:"model"`

	// LanguageCode is the BCP-47 language for the gcp backend (default "en-US").
	LanguageCode string `json:"language_code" yaml:"language_code" mapstructure:"language_code"`

	// AudioEndpoint serves audio clips by video id.
	AudioEndpoint string `json:"audio_endpoint" yaml:"audio_endpoint" mapstructure:"audio_endpoint"`

	// MaxAudioPerVideo caps the audio sent per video (default 60s).
	MaxAudioPerVideo time.Duration `json:"max_audio_per_video" yaml:"max_audio_per_video" mapstructure:"max_audio_per_video"`

	// DailyBudget caps total transcribed audio per UTC day (default 30m).
	DailyBudget time.Duration `json:"daily_budget" yaml:"daily_budget" mapstructure:"daily_budget"`

	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval"`
}

// ProviderKind selects the client implementation for a generation provider.
type ProviderKind string

const (
	ProviderOpenAI           ProviderKind = "openai"
	ProviderOpenAICompatible ProviderKind = "openai-compatible"
	ProviderAnthropic        ProviderKind = "anthropic"
)

// ProviderConfig configures one entry of the generation provider chain.
// The chain order is the order of EngineConfig.Providers.
type ProviderConfig struct {
	// ID names the provider in attempts, usage reports, and records
	// (e.g. "groq", "gemini", "anthropic").
	ID      string       `json:"id" yaml:"id" mapstructure:"id"`
	Kind    ProviderKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	APIKey  string       `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string       `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model   string       `json:"model" yaml:"model" mapstructure:"model"`

	// MinInterval is derived from the provider's published quota, e.g. 2s
	// for 30 requests per minute.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval"`

	// Timeout bounds a single attempt (default 45s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// StoreDriver selects the content store backend.
type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// StoreConfig configures the content store.
type StoreConfig struct {
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Path is the SQLite database file (default "data/lessons.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// OrchestratorConfig configures the content orchestrator.
type OrchestratorConfig struct {
	// Deadline bounds research plus generation for one cache miss
	// (default 110s).
	Deadline time.Duration `json:"deadline" yaml:"deadline" mapstructure:"deadline"`

	// SingleFlight collapses concurrent misses on the same fingerprint in
	// this process into one generation.
	SingleFlight bool `json:"single_flight" yaml:"single_flight" mapstructure:"single_flight"`
}

// RedisConfig enables shared rate-limiter state across processes.
type RedisConfig struct {
	// URL is a redis:// URL. Empty keeps limiter state in process.
	URL       string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
}

// EngineConfig groups every component configuration.
type EngineConfig struct {
	HTTP          HTTPConfig          `json:"http" yaml:"http" mapstructure:"http"`
	Sources       SourcesConfig       `json:"sources" yaml:"sources" mapstructure:"sources"`
	Transcription TranscriptionConfig `json:"transcription" yaml:"transcription" mapstructure:"transcription"`
	Providers     []ProviderConfig    `json:"providers" yaml:"providers" mapstructure:"providers"`
	Store         StoreConfig         `json:"store" yaml:"store" mapstructure:"store"`
	Orchestrator  OrchestratorConfig  `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Redis         RedisConfig         `json:"redis" yaml:"redis" mapstructure:"redis"`

	// LogMode is "dev" or "prod".
	LogMode string `json:"log_mode" yaml:"log_mode" mapstructure:"log_mode"`
}
