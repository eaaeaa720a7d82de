package main

import (
	"context"
	"fmt"
	"log/slog"

	"newscast/internal/acquire"
	"newscast/internal/archive"
	"newscast/internal/artifacts"
	"newscast/internal/batch"
	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/lipsync"
	"newscast/internal/narration"
	"newscast/internal/notifications"
	"newscast/internal/pipeline"
	"newscast/internal/script"
	"newscast/internal/stage"
)

// app holds everything a pipeline run needs.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ledger.Store
	notifier  notifications.Service
	poller    *lipsync.Poller
	executors stage.Set
	orch      *pipeline.Orchestrator
	batches   *batch.Controller
}

func buildApp(ctx context.Context, cfg *config.Config, store *ledger.Store, logger *slog.Logger) (*app, error) {
	public, err := artifacts.Open(ctx, cfg, artifacts.RolePublic)
	if err != nil {
		return nil, fmt.Errorf("open public artifact store: %w", err)
	}
	archived, err := artifacts.Open(ctx, cfg, artifacts.RoleArchive)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}

	chain, err := acquire.ChainFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build source chain: %w", err)
	}
	provider, err := script.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build script provider: %w", err)
	}

	syncso := lipsync.NewSyncSo(cfg.LipSync)
	poller := lipsync.NewPoller(lipsync.PollerConfigFrom(cfg), syncso, store, logger)

	executors := stage.Set{
		ledger.StageAcquired:       acquire.NewExecutor(chain, logger),
		ledger.StageScripted:       script.NewExecutor(cfg, provider, logger),
		ledger.StageNarrated:       narration.NewExecutor(cfg, narration.NewSynthesizer(cfg), public, logger),
		ledger.StageVideoSubmitted: lipsync.NewSubmitExecutor(cfg, syncso, store, logger),
		ledger.StageVideoReady:     lipsync.NewAwaitExecutor(poller, store, logger),
		ledger.StageArchived:       archive.NewExecutor(public, archived, nil, logger),
		ledger.StageDone:           archive.NewManifestExecutor(archived, logger),
	}

	notifier := notifications.NewService(cfg)
	orch, err := pipeline.New(cfg, store, executors, notifier, logger)
	if err != nil {
		poller.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		notifier:  notifier,
		poller:    poller,
		executors: executors,
		orch:      orch,
		batches:   batch.New(cfg, store, orch, notifier, logger),
	}, nil
}

// Close stops the poller. The ledger belongs to the command context.
func (r *app) Close() {
	if r.poller != nil {
		r.poller.Close()
	}
}
