package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/cue"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/storage"
	"github.com/kalambet/siketchat/internal/widget"
)

// app holds everything a client-side command needs. Close releases the
// store and stops any pending retry timer.
type app struct {
	cfg    config.Config
	store  *storage.Store
	widget *widget.Widget
	client *backend.Client
}

type appOptions struct {
	remoteSessions bool
	notifier       notify.Notifier
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return openAppWith(ctx, cfg, opts)
}

func openAppWith(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	notifier := opts.notifier
	if notifier == nil {
		notifier = notify.Func(printNotification)
	}
	var player cue.Player = cue.NopPlayer{}
	if cfg.Cue.Player == "bell" {
		player = cue.NewBellPlayer(os.Stderr)
	}

	w, client, err := widget.Build(ctx, cfg, store, widget.BuildOptions{
		Player:         player,
		Notifier:       notifier,
		RemoteSessions: opts.remoteSessions,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, store: store, widget: w, client: client}, nil
}

func (a *app) Close() {
	a.widget.Shutdown()
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}
