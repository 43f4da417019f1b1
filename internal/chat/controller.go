// Package chat runs conversation turns against the support backend and
// keeps the resulting message log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/cue"
	"github.com/kalambet/siketchat/internal/notify"
)

// ErrSendRejected is returned when a send was not attempted: the text was
// blank, the backend is not connected, or another send is in flight. The
// log is left untouched.
var ErrSendRejected = errors.New("send rejected")

// ErrConversationReset is returned when the log was cleared while the
// backend call was pending. The outcome is dropped instead of being
// appended to the new conversation.
var ErrConversationReset = errors.New("conversation was reset while the reply was pending")

const (
	TextTimeout     = "The request timed out. Please check your connection and try again."
	TextUnreachable = "Unable to reach the support service. Please check your connection and use Retry."
	TextGeneric     = "Sorry, something went wrong while sending your message. Please try again."
	TextRejected    = "I'm experiencing technical difficulties. Please try again in a moment."
)

// Backend is the chat call of the support API.
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (backend.Reply, error)
}

// Gate exposes the connection state a send depends on, and the single
// write path a send is allowed to take into it.
type Gate interface {
	State() connectivity.State
	MarkUnreachable()
}

type Cues interface {
	Fire(e cue.Event)
}

type Options struct {
	Notifier notify.Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

// Controller performs one conversation turn at a time.
type Controller struct {
	backend  Backend
	gate     Gate
	cues     Cues
	log      *Log
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger

	inFlight atomic.Bool
}

func NewController(b Backend, gate Gate, cues Cues, log *Log, opts Options) *Controller {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		backend:  b,
		gate:     gate,
		cues:     cues,
		log:      log,
		notifier: opts.Notifier,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

func (c *Controller) Log() *Log { return c.log }

// InFlight reports whether a send is outstanding.
func (c *Controller) InFlight() bool { return c.inFlight.Load() }

// Send appends the user's message, calls the backend and appends the bot
// reply, or an error bubble describing the failure. The returned message is
// the appended bot entry. Failures of the exchange itself are reported
// through the log, cues and notifications, not the error result; the error
// is reserved for rejected sends and for outcomes discarded because the
// conversation was reset meanwhile.
func (c *Controller) Send(ctx context.Context, text, sessionID, customerID string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, fmt.Errorf("%w: empty message", ErrSendRejected)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return Message{}, fmt.Errorf("%w: a message is already being sent", ErrSendRejected)
	}
	defer c.inFlight.Store(false)

	if st := c.gate.State(); st != connectivity.Connected {
		return Message{}, fmt.Errorf("%w: backend is %s", ErrSendRejected, st)
	}

	_, gen := c.log.appendFirst(Message{Kind: User, Text: text, Timestamp: c.now()})
	c.cues.Fire(cue.Sent)

	reply, err := c.backend.Chat(ctx, backend.ChatRequest{
		Message:    text,
		SessionID:  sessionID,
		CustomerID: customerID,
	})
	if err != nil {
		return c.fail(gen, err)
	}

	conf := reply.Confidence
	msg, ok := c.log.AppendAt(gen, Message{
		Kind:        Bot,
		Text:        reply.Text,
		Timestamp:   reply.Timestamp,
		Intent:      reply.Intent,
		Confidence:  &conf,
		Suggestions: reply.Suggestions,
		LogID:       reply.LogID,
	})
	if !ok {
		c.logger.Debug("dropping reply for a cleared conversation", "log_id", reply.LogID)
		return Message{}, ErrConversationReset
	}
	c.cues.Fire(cue.Received)
	c.logger.Debug("reply received", "intent", reply.Intent, "confidence", reply.Confidence, "log_id", reply.LogID)
	return msg, nil
}

func (c *Controller) fail(gen uint64, err error) (Message, error) {
	kind := backend.KindOf(err)

	var appErr *backend.ApplicationError
	if errors.As(err, &appErr) {
		text := appErr.Message
		if text == "" {
			text = TextRejected
		}
		c.logger.Warn("chat rejected by backend", "error", err)
		msg, ok := c.log.AppendAt(gen, Message{Kind: Bot, Text: text, Timestamp: c.now(), IsError: true})
		if !ok {
			c.logger.Debug("dropping error bubble for a cleared conversation", "error", err)
			return Message{}, ErrConversationReset
		}
		c.cues.Fire(cue.Error)
		return msg, nil
	}

	text := failureText(err)
	// Reachability is not tied to the conversation, so a reset does not
	// undo the demotion.
	if kind == backend.KindNoResponse {
		c.gate.MarkUnreachable()
	}
	c.logger.Warn("chat request failed", "kind", kind, "error", err)

	msg, ok := c.log.AppendAt(gen, Message{Kind: Bot, Text: text, Timestamp: c.now(), IsError: true})
	if !ok {
		c.logger.Debug("dropping error bubble for a cleared conversation", "error", err)
		return Message{}, ErrConversationReset
	}
	c.cues.Fire(cue.Error)
	c.notifier.Notify(notify.Notification{Level: notify.Error, Text: text})
	return msg, nil
}

// failureText is the user-facing description of a transport failure.
func failureText(err error) string {
	var srvErr *backend.ServerError
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return TextTimeout
	case errors.As(err, &srvErr):
		if srvErr.Detail != "" {
			return fmt.Sprintf("Server error (%d): %s", srvErr.Status, srvErr.Detail)
		}
		return fmt.Sprintf("Server error (%d). Please try again later.", srvErr.Status)
	case errors.Is(err, backend.ErrNoResponse):
		return TextUnreachable
	default:
		return TextGeneric
	}
}
