package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/chatrelay/internal/archive"
	"github.com/ent0n29/chatrelay/internal/config"
	"github.com/ent0n29/chatrelay/internal/httpapi"
	"github.com/ent0n29/chatrelay/internal/observability"
	"github.com/ent0n29/chatrelay/internal/orchestrator"
	"github.com/ent0n29/chatrelay/internal/relay"
	"github.com/ent0n29/chatrelay/internal/session"
	"github.com/ent0n29/chatrelay/internal/transcribe"
	"github.com/ent0n29/chatrelay/internal/upstream"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Store        *session.Store
	Sweeper      *session.Sweeper
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	client, err := upstream.NewClient(upstream.Config{
		Mode:   cfg.UpstreamMode,
		URL:    cfg.UpstreamURL,
		APIKey: cfg.UpstreamAPIKey,
	})
	if err != nil {
		_ = archiveStore.Close()
		return nil, fmt.Errorf("upstream client init failed: %w", err)
	}

	store := session.NewStore(cfg.SessionTTL, cfg.SessionMaxMessages)
	store.SetEvictHook(func(_ session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(store.Stats().Sessions))
	})
	sweeper := session.NewSweeper(store, cfg.SessionSweepInterval)

	engine := relay.NewEngine(store, client, relay.OptionsFromConfig(cfg))
	orch := orchestrator.New(store, engine, transcribe.NewSimulated(), archiveStore, metrics)
	api := httpapi.New(cfg, store, orch, metrics)

	cleanup := func() error {
		var errs []string
		sweeper.Stop()
		if err := archiveStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        store,
		Sweeper:      sweeper,
		Orchestrator: orch,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
