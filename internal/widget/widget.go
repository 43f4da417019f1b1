// Package widget composes the chat core into the assistant widget: it owns
// visibility, session reset and the sound controls, and forwards
// conversation turns and ratings to the chat and feedback components.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/cue"
	"github.com/kalambet/siketchat/internal/feedback"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/prefs"
	"github.com/kalambet/siketchat/internal/session"
)

var ErrUnknownMessage = errors.New("no such message")

const (
	bannerDisconnected = "Unable to connect to the support service."
	bannerChecking     = "Connecting to the support service..."
)

// Banner is the persistent connection banner. It stays visible while the
// backend is unreachable and can only be cleared by a successful probe.
type Banner struct {
	Visible bool
	Text    string
	State   connectivity.State
	// Retryable is set when automatic retries are exhausted and the user has
	// to retry explicitly.
	Retryable bool
}

type Deps struct {
	Sessions   *session.Store
	CustomerID string
	Prefs      *prefs.Manager
	Monitor    *connectivity.Monitor
	Cues       *cue.Coordinator
	Chat       *chat.Controller
	Feedback   *feedback.Submitter
	Notifier   notify.Notifier
	MaxRetries int
	Logger     *slog.Logger
}

type Widget struct {
	sessions   *session.Store
	customerID string
	prefs      *prefs.Manager
	monitor    *connectivity.Monitor
	cues       *cue.Coordinator
	chat       *chat.Controller
	feedback   *feedback.Submitter
	notifier   notify.Notifier
	maxRetries int
	logger     *slog.Logger

	mu   sync.Mutex
	open bool
}

func New(d Deps) *Widget {
	if d.Notifier == nil {
		d.Notifier = notify.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Widget{
		sessions:   d.Sessions,
		customerID: d.CustomerID,
		prefs:      d.Prefs,
		monitor:    d.Monitor,
		cues:       d.Cues,
		chat:       d.Chat,
		feedback:   d.Feedback,
		notifier:   d.Notifier,
		maxRetries: d.MaxRetries,
		logger:     d.Logger,
	}
}

// Start runs the initial health probe.
func (w *Widget) Start(ctx context.Context) connectivity.State {
	st := w.monitor.Probe(ctx)
	w.logger.Info("widget started", "session_id", w.sessions.Current().ID, "customer_id", w.customerID, "state", st)
	return st
}

// Shutdown stops background retries.
func (w *Widget) Shutdown() { w.monitor.Close() }

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Open shows the widget. The welcome cue plays once per opening when the
// conversation is empty and the backend is connected.
func (w *Widget) Open() {
	w.mu.Lock()
	if w.open {
		w.mu.Unlock()
		return
	}
	w.open = true
	w.mu.Unlock()

	w.cues.Fire(cue.Open)
	if w.chat.Log().Len() == 0 && w.monitor.State() == connectivity.Connected {
		w.cues.Fire(cue.Welcome)
	}
}

func (w *Widget) Close() {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	w.open = false
	w.mu.Unlock()

	w.cues.Fire(cue.Close)
}

// Toggle flips visibility and reports whether the widget is now open.
func (w *Widget) Toggle() bool {
	if w.IsOpen() {
		w.Close()
		return false
	}
	w.Open()
	return true
}

func (w *Widget) Send(ctx context.Context, text string) (chat.Message, error) {
	return w.chat.Send(ctx, text, w.sessions.Current().ID, w.customerID)
}

// Rate submits feedback for the message with the given id.
func (w *Widget) Rate(ctx context.Context, messageID uint64, rating int, comments string) error {
	msg, ok := w.chat.Log().Get(messageID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMessage, messageID)
	}
	return w.feedback.Submit(ctx, msg.LogID, rating, comments)
}

// Retry is the explicit, user-triggered re-probe.
func (w *Widget) Retry(ctx context.Context) connectivity.State {
	st := w.monitor.Retry(ctx)
	if st == connectivity.Connected {
		w.notifier.Notify(notify.Notification{Level: notify.Success, Text: "Connected to the support service."})
	}
	return st
}

// Reset starts a new conversation: a new session id, an empty log and a
// fresh probe cycle.
func (w *Widget) Reset(ctx context.Context) (session.Session, error) {
	sess, err := w.sessions.Reset(ctx, w.customerID)
	if err != nil {
		return session.Session{}, fmt.Errorf("resetting session: %w", err)
	}
	w.chat.Log().Clear()
	w.monitor.Restart(ctx)
	w.notifier.Notify(notify.Notification{Level: notify.Info, Text: "Started a new conversation."})
	return sess, nil
}

// ToggleSound flips the sound preference. Turning sound on plays the click
// cue so the change is audible.
func (w *Widget) ToggleSound() (prefs.Preferences, error) {
	p, err := w.prefs.ToggleSound()
	if err != nil {
		return p, err
	}
	if p.SoundEnabled {
		w.cues.FireForced(cue.Click)
	}
	return p, nil
}

func (w *Widget) VolumeUp() (prefs.Preferences, error) {
	return w.adjustVolume(func() (prefs.Preferences, error) { return w.prefs.StepVolume(prefs.VolumeStep) })
}

func (w *Widget) VolumeDown() (prefs.Preferences, error) {
	return w.adjustVolume(func() (prefs.Preferences, error) { return w.prefs.StepVolume(-prefs.VolumeStep) })
}

func (w *Widget) SetVolume(v float64) (prefs.Preferences, error) {
	return w.adjustVolume(func() (prefs.Preferences, error) { return w.prefs.SetVolume(v) })
}

func (w *Widget) adjustVolume(fn func() (prefs.Preferences, error)) (prefs.Preferences, error) {
	p, err := fn()
	if err != nil {
		return p, err
	}
	w.cues.Fire(cue.Click)
	return p, nil
}

func (w *Widget) Banner() Banner {
	st := w.monitor.State()
	switch st {
	case connectivity.Disconnected:
		return Banner{
			Visible:   true,
			Text:      bannerDisconnected,
			State:     st,
			Retryable: w.monitor.Retries() >= w.maxRetries,
		}
	case connectivity.Checking:
		return Banner{Text: bannerChecking, State: st}
	default:
		return Banner{State: st}
	}
}

// Subscribe forwards connection state changes to fn.
func (w *Widget) Subscribe(fn func(connectivity.State)) (unsubscribe func()) {
	return w.monitor.Subscribe(fn)
}

func (w *Widget) State() connectivity.State { return w.monitor.State() }
func (w *Widget) Messages() []chat.Message { return w.chat.Log().Messages() }
func (w *Widget) Session() session.Session { return w.sessions.Current() }
func (w *Widget) CustomerID() string { return w.customerID }
func (w *Widget) Preferences() prefs.Preferences { return w.prefs.Current() }
func (w *Widget) InFlight() bool { return w.chat.InFlight() }
