package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vitalhub/topicsync/internal/backfill"
	"github.com/vitalhub/topicsync/internal/catalog"
	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/ingest"
	"github.com/vitalhub/topicsync/internal/provider"
	"github.com/vitalhub/topicsync/internal/refresh"
	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/pkg/anthropic"
)

// env wires the dependency graph once per command invocation.
type env struct {
	store      store.Store
	catalog    *catalog.Catalog
	providers  []provider.Provider
	classifier classifier.Classifier
	backfill   *backfill.Backfiller
	ingestor   *ingest.Ingestor
	refresher  *refresh.Refresher
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv validates config for the mode and builds the collaborators that
// mode needs. "read" stops at the store and catalog; "sync" and "serve"
// build the full pipeline.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	e := &env{
		store:   st,
		catalog: catalog.New(st),
	}
	if mode == "read" {
		return e, nil
	}

	cl := classifier.New(anthropic.NewClient(cfg.Anthropic.Key), classifier.Options{
		Model:           cfg.Anthropic.Model,
		MaxTokens:       int64(cfg.Anthropic.MaxTokens),
		RequestInterval: time.Duration(cfg.Anthropic.RequestIntervalSecs) * time.Second,
	})

	e.classifier = cl
	e.providers = []provider.Provider{
		provider.NewMedlinePlus(cfg.MedlinePlus.BaseURL, nil),
		provider.NewPubMed(cfg.PubMed.BaseURL, cfg.PubMed.Key, nil),
	}
	e.backfill = backfill.New(st, cl)
	e.ingestor = ingest.New(e.providers, st, cl, e.backfill, e.catalog)
	e.refresher = refresh.New(e.providers, st, cl, e.catalog)
	return e, nil
}
