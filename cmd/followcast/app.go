package main

import (
	"context"
	"errors"
	"fmt"

	"followcast/internal/api"
	"followcast/internal/cache"
	"followcast/internal/campaign"
	"followcast/internal/config"
	"followcast/internal/ingest"
	"followcast/internal/jobs"
	"followcast/internal/logging"
	"followcast/internal/query"
	"followcast/internal/schedule"
	"followcast/internal/service"
	"followcast/internal/store/filestore"
	"followcast/internal/store/sqlitestore"
	"followcast/internal/xclient"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      config.Config
	store    cache.Store
	client   *xclient.V1Client
	jobs     *jobs.Manager
	query    *query.Engine
	registry *campaign.Registry
	svc      *service.Service
	feed     *api.Feed
}

func openStore(cfg config.StorageConfig) (cache.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlitestore.Open(cfg.DBPath)
	case "file":
		return filestore.Open(cfg.DBPath)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// newApp wires storage, the X client and the engines. Background work runs
// under base and stops when it is cancelled.
func newApp(base context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Credentials.BearerToken == "" && cfg.Credentials.AccessToken == "" {
		logging.Warn("credentials_missing", map[string]any{"hint": "set X_BEARER_TOKEN or the OAuth user tokens"})
	}
	client := xclient.NewV1Client(
		xclient.NewHTTPClient(cfg.Credentials.BearerToken),
		cfg.Credentials.ConsumerKey,
		cfg.Credentials.ConsumerSecret,
		cfg.Credentials.AccessToken,
		cfg.Credentials.AccessSecret,
	)

	builder := ingest.NewBuilder(store, client, ingest.Options{
		PageSize:    cfg.Ingest.PageSize,
		LookupBatch: cfg.Ingest.LookupBatch,
		Backoff:     cfg.Limits.Backoff(),
	})
	jm := jobs.NewManager(base, store, builder)
	qe := query.NewEngine(store)
	feed := api.NewFeed(256)

	runner := &campaign.Runner{
		Candidates: qe,
		History:    store,
		Messenger:  client,
		Notifier:   campaign.Multi{campaign.LogNotifier{}, feed},
		Limits:     schedule.Limits{Ceiling: cfg.Limits.MessageCeiling, Window: cfg.Limits.Window()},
		PageSize:   cfg.Campaign.PageSize,
		Backoff:    cfg.Limits.Backoff(),
	}
	reg := campaign.NewRegistry(base, runner)

	return &app{
		cfg:      cfg,
		store:    store,
		client:   client,
		jobs:     jm,
		query:    qe,
		registry: reg,
		svc:      service.New(jm, qe, reg),
		feed:     feed,
	}, nil
}

// account picks the followee: --account, then account.id, then a lookup of
// account.username.
func (a *app) account(ctx context.Context) (string, error) {
	if accountArg != "" {
		return accountArg, nil
	}
	if a.cfg.Account.ID != "" {
		return a.cfg.Account.ID, nil
	}
	if a.cfg.Account.Username == "" {
		return "", errors.New("no account: pass --account or set account.id or account.username")
	}
	u, err := a.client.UserByScreenName(ctx, a.cfg.Account.Username)
	if err != nil {
		return "", fmt.Errorf("resolve @%s: %w", a.cfg.Account.Username, err)
	}
	logging.Info("account_resolved", map[string]any{"username": a.cfg.Account.Username, "id": u.ID})
	return u.ID, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
