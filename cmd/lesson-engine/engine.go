// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/api/youtube/v3"

	"github.com/pdiddy/lesson-engine/internal/lesson"
	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/internal/research"
	"github.com/pdiddy/lesson-engine/internal/sources"
	"github.com/pdiddy/lesson-engine/internal/store"
	"github.com/pdiddy/lesson-engine/internal/tracing"
	"github.com/pdiddy/lesson-engine/internal/usage"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// transcriptionGate is the registry id of the speech-to-text pacing gate.
const transcriptionGate = "transcription"

// engine wires every component for one CLI invocation.
type engine struct {
	cfg    types.EngineConfig
	log    *logger.Logger
	stats  *usage.Stats
	agg    *research.Aggregator
	chain  *provider.Chain
	store  store.Store
	orch   *lesson.Orchestrator
	closer []func(context.Context) error
}

// engineParts selects what newEngine builds. Record commands need only the
// store; research needs only the aggregator.
type engineParts struct {
	research bool
	generate bool
	store    bool
}

func newEngine(cmd *cobra.Command, parts engineParts) (*engine, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	e := &engine{cfg: cfg, log: log, stats: usage.NewStats()}
	e.closer = append(e.closer, func(context.Context) error { log.Sync(); return nil })

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		shutdown := tracing.Init(ctx, tracing.Config{
			ServiceName: "lesson-engine",
			Version:     version,
			Endpoint:    viper.GetString("trace_endpoint"),
			Writer:      os.Stderr,
		}, log)
		e.closer = append(e.closer, shutdown)
	}

	reg, err := e.registry(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	sink := usage.Multi{usage.NewLogSink(log), e.stats}

	if parts.research || parts.generate {
		adapters, err := e.adapters(ctx, reg)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.agg = research.New(adapters, research.ConfigFrom(cfg.Sources), sink, log)
	}

	if parts.generate {
		entries, skipped, err := provider.BuildEntries(cfg.Providers, reg)
		if err != nil {
			e.Close()
			return nil, err
		}
		for _, id := range skipped {
			log.Warn("provider skipped: no api key", "provider", id, "secret", id+"-api-key")
		}
		if len(entries) == 0 {
			log.Warn("no generation provider configured; cache misses will fail")
		}
		e.chain = provider.NewChain(entries, sink, log)
	}

	if parts.store || parts.generate {
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.store = st
		e.closer = append(e.closer, func(context.Context) error { return st.Close() })

		var r research.Researcher
		if e.agg != nil {
			r = e.agg
		}
		var gen lesson.Generator
		if e.chain != nil {
			gen = e.chain
		}
		e.orch = lesson.New(st, r, gen, lesson.ConfigFrom(cfg.Orchestrator), log)
	}
	return e, nil
}

// registry returns the limiter registry, shared through Redis when a URL
// is configured.
func (e *engine) registry(ctx context.Context) (*ratelimit.Registry, error) {
	if e.cfg.Redis.URL == "" {
		return ratelimit.NewRegistry(ratelimit.LocalFactory), nil
	}
	rdb, err := ratelimit.Connect(ctx, e.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	e.closer = append(e.closer, func(context.Context) error { return rdb.Close() })
	e.log.Info("rate limiter state shared through redis", "prefix", e.cfg.Redis.KeyPrefix)
	return ratelimit.NewRegistry(ratelimit.RedisFactory(rdb, e.cfg.Redis.KeyPrefix, e.log)), nil
}

// adapters builds all five source adapters in canonical order. A source
// without credentials is still built and reports itself unavailable.
func (e *engine) adapters(ctx context.Context, reg *ratelimit.Registry) ([]sources.Adapter, error) {
	sc := e.cfg.Sources
	client := &http.Client{Timeout: e.cfg.HTTP.Timeout}
	deps := func(kind types.SourceKind, c types.SourceConfig) sources.Deps {
		return sources.Deps{
			Client:    client,
			Gate:      reg.Register(string(kind), c.MinInterval),
			UserAgent: e.cfg.HTTP.UserAgent,
			Log:       e.log,
		}
	}

	var svc *youtube.Service
	if sc.Video.APIKey != "" {
		s, err := sources.NewYouTubeService(ctx, sc.Video.APIKey)
		if err != nil {
			return nil, err
		}
		svc = s
	} else if sc.Video.Enabled {
		e.log.Warn("video source disabled: no api key", "secret", "youtube-api-key")
	}

	var transcriber sources.VideoTranscriber
	tcfg := e.cfg.Transcription
	bt, err := sources.NewTranscriber(ctx, tcfg, client, reg.Register(transcriptionGate, tcfg.MinInterval), e.log)
	if err != nil {
		return nil, err
	}
	if bt != nil {
		transcriber = bt
		e.closer = append(e.closer, func(context.Context) error { return bt.Close() })
	}

	return []sources.Adapter{
		sources.NewDocsAdapter(sc.Docs, deps(types.SourceOfficialDocs, sc.Docs.SourceConfig)),
		sources.NewQAAdapter(sc.QA, deps(types.SourceQAPlatform, sc.QA.SourceConfig)),
		sources.NewCodeSearchAdapter(sc.Code, deps(types.SourceCodeSearch, sc.Code.SourceConfig)),
		sources.NewBlogAdapter(sc.Blog, deps(types.SourceCommunityBlog, sc.Blog.SourceConfig)),
		sources.NewVideoAdapter(sc.Video, deps(types.SourceVideoPlatform, sc.Video.SourceConfig), svc, transcriber),
	}, nil
}

// Close releases resources in reverse order of acquisition.
func (e *engine) Close() error {
	ctx := context.Background()
	var errs []error
	for i := len(e.closer) - 1; i >= 0; i-- {
		if err := e.closer[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closer = nil
	return errors.Join(errs...)
}
