package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/vision2voice/internal/config"
	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/pipeline"
	"github.com/MimeLyc/vision2voice/internal/visionapi"
)

// components are the pieces shared by every command.
type components struct {
	cfg    *config.Config
	store  *history.ObservedStore
	client *visionapi.Client
	orch   *pipeline.Orchestrator
}

func openComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	client, err := visionapi.NewClient(&visionapi.Config{
		APIURL:  cfg.API.URL(),
		Timeout: cfg.API.Timeout,
	})
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := history.NewStore(openCtx, history.Options{
		Backend:    cfg.Storage.Backend,
		SQLitePath: cfg.DBPath(),
		Redis: history.RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	observed := history.Observed(store, history.NewHub())

	return &components{
		cfg:    cfg,
		store:  observed,
		client: client,
		orch:   pipeline.NewOrchestrator(client, observed),
	}, nil
}

func (c *components) Close() error {
	return c.store.Close()
}
