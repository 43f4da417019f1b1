package widget

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/clock"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/cue"
	"github.com/kalambet/siketchat/internal/feedback"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/prefs"
	"github.com/kalambet/siketchat/internal/session"
)

// StateStore persists client-local key/value state.
type StateStore interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
}

// BuildOptions overrides the collaborators Build would otherwise derive
// from the configuration.
type BuildOptions struct {
	Player     cue.Player
	Clock      clock.Clock
	Notifier   notify.Notifier
	Identity   session.IdentitySource
	HTTPClient *http.Client
	// RemoteSessions asks the backend to mint session ids on reset.
	RemoteSessions bool
	Logger         *slog.Logger
}

// Build wires a Widget from configuration. It does not probe the backend;
// call Start for that.
func Build(ctx context.Context, cfg config.Config, state StateStore, opts BuildOptions) (*Widget, *backend.Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	identity := opts.Identity
	if identity == nil {
		identity = session.StaticIdentity(cfg.Identity.CustomerID)
	}

	client := backend.New(cfg.Backend.BaseURL, backend.Options{
		Token:           cfg.Backend.APIToken,
		HealthTimeout:   cfg.Backend.HealthTimeout,
		ChatTimeout:     cfg.Backend.ChatTimeout,
		FeedbackTimeout: cfg.Backend.FeedbackTimeout,
		HTTPClient:      opts.HTTPClient,
		Now:             clk.Now,
	})

	sessOpts := session.Options{Now: clk.Now, Logger: logger}
	if opts.RemoteSessions {
		sessOpts.Remote = client
	}
	sessions, err := session.Open(state, sessOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session: %w", err)
	}

	pm, err := prefs.Load(state, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading preferences: %w", err)
	}

	player := opts.Player
	if player == nil {
		player = cue.NopPlayer{}
	}
	cues := cue.NewCoordinator(player, pm, cue.Options{
		Clock:         clk,
		ReceivedDelay: cfg.Cue.ReceivedDelay,
		Logger:        logger,
	})

	policy := connectivity.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}
	monitor := connectivity.New(client, connectivity.Options{Clock: clk, Policy: policy, Logger: logger})

	ctrl := chat.NewController(client, monitor, cues, chat.NewLog(), chat.Options{
		Notifier: opts.Notifier,
		Now:      clk.Now,
		Logger:   logger,
	})
	fb := feedback.NewSubmitter(client, feedback.Options{Notifier: opts.Notifier, Logger: logger})

	w := New(Deps{
		Sessions:   sessions,
		CustomerID: session.CustomerID(ctx, identity),
		Prefs:      pm,
		Monitor:    monitor,
		Cues:       cues,
		Chat:       ctrl,
		Feedback:   fb,
		Notifier:   opts.Notifier,
		MaxRetries: policy.MaxAttempts,
		Logger:     logger,
	})
	return w, client, nil
}
