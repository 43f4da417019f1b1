// Package feedback submits ratings against delivered replies. Submission is
// best effort and reports its outcome only as a notification.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/notify"
)

const (
	MinRating = 1
	MaxRating = 5
)

var ErrInvalidRating = fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)

const (
	textThanks     = "Thank you for your feedback!"
	textNotRatable = "This response can't be rated."
	textBadRating  = "Please choose a rating from 1 to 5."
	textFailed     = "Could not submit feedback. Please try again later."
)

type Backend interface {
	Feedback(ctx context.Context, req backend.FeedbackRequest) error
}

type Options struct {
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Submitter is independent of any send in flight; it never touches the
// message log or the connection state.
type Submitter struct {
	backend  Backend
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewSubmitter(b Backend, opts Options) *Submitter {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Submitter{backend: b, notifier: opts.Notifier, logger: opts.Logger}
}

// Submit rates the reply identified by logID. It returns
// backend.ErrMissingLogID or ErrInvalidRating without any network call when
// the input cannot be submitted.
func (s *Submitter) Submit(ctx context.Context, logID backend.LogID, rating int, comments string) error {
	if logID == "" {
		s.notifier.Notify(notify.Notification{Level: notify.Warning, Text: textNotRatable})
		return backend.ErrMissingLogID
	}
	if rating < MinRating || rating > MaxRating {
		s.notifier.Notify(notify.Notification{Level: notify.Warning, Text: textBadRating})
		return ErrInvalidRating
	}

	err := s.backend.Feedback(ctx, backend.FeedbackRequest{LogID: logID, Rating: rating, Comments: comments})
	if err != nil {
		s.logger.Warn("feedback submission failed", "log_id", logID, "error", err)
		s.notifier.Notify(notify.Notification{Level: notify.Error, Text: textFailed})
		return fmt.Errorf("submitting feedback: %w", err)
	}

	s.logger.Debug("feedback submitted", "log_id", logID, "rating", rating)
	s.notifier.Notify(notify.Notification{Level: notify.Success, Text: textThanks})
	return nil
}

// IsInputError reports whether err was caused by the caller's input rather
// than the backend.
func IsInputError(err error) bool {
	return errors.Is(err, backend.ErrMissingLogID) || errors.Is(err, ErrInvalidRating)
}
