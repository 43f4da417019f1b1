// Package session owns the session identifier that correlates a
// conversation on the backend, and derives the customer identifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	keySessionID = "chatbot_session_id"
	keyCreatedAt = "chatbot_session_created_at"

	guestPrefix = "guest_"
)

// Session is immutable; a reset replaces it wholesale.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// StateStore is the persistence boundary for client-local key/value state.
type StateStore interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
}

// RemoteMinter asks the backend for a fresh session id.
type RemoteMinter interface {
	StartSession(ctx context.Context, customerID string) (string, error)
}

type Options struct {
	// Remote, when set, is asked for new ids on Reset. Local minting is the
	// fallback if it fails.
	Remote RemoteMinter
	Now    func() time.Time
	Logger *slog.Logger
}

type Store struct {
	mu     sync.Mutex
	state  StateStore
	cur    Session
	remote RemoteMinter
	now    func() time.Time
	logger *slog.Logger
}

// Open loads the persisted session, or mints and persists a new one when
// none exists.
func Open(state StateStore, opts Options) (*Store, error) {
	s := &Store{
		state:  state,
		remote: opts.Remote,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	id, ok, err := state.GetState(keySessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if ok && strings.TrimSpace(id) != "" {
		s.cur = Session{ID: id, CreatedAt: s.loadCreatedAt()}
		return s, nil
	}

	sess := Session{ID: newID(), CreatedAt: s.now()}
	if err := s.persist(sess); err != nil {
		return nil, err
	}
	s.cur = sess
	s.logger.Debug("minted session", "session_id", sess.ID)
	return s, nil
}

func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Reset discards the current session and persists a new one. The new id is
// always different from the old one. Clearing the message log and
// re-probing connectivity are the caller's job.
func (s *Store) Reset(ctx context.Context, customerID string) (Session, error) {
	s.mu.Lock()
	old := s.cur.ID
	s.mu.Unlock()

	id := s.mint(ctx, customerID, old)
	sess := Session{ID: id, CreatedAt: s.now()}
	if err := s.persist(sess); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.cur = sess
	s.mu.Unlock()
	s.logger.Info("session reset", "old_session_id", old, "session_id", id)
	return sess, nil
}

func (s *Store) mint(ctx context.Context, customerID, old string) string {
	if s.remote != nil {
		id, err := s.remote.StartSession(ctx, customerID)
		if err == nil && id != "" && id != old {
			return id
		}
		if err != nil {
			s.logger.Warn("remote session start failed, minting locally", "error", err)
		}
	}
	for {
		if id := newID(); id != old {
			return id
		}
	}
}

func (s *Store) persist(sess Session) error {
	if err := s.state.SetState(keySessionID, sess.ID); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if err := s.state.SetState(keyCreatedAt, sess.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *Store) loadCreatedAt() time.Time {
	v, ok, err := s.state.GetState(keyCreatedAt)
	if err != nil || !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func newID() string { return uuid.NewString() }

// ErrNoIdentity is returned by an IdentitySource that has no authenticated
// user to report.
var ErrNoIdentity = errors.New("no authenticated identity")

// IdentitySource reports the authenticated customer, if any.
type IdentitySource interface {
	CustomerID(ctx context.Context) (string, error)
}

// StaticIdentity is an IdentitySource with a fixed customer id. The empty
// value reports ErrNoIdentity.
type StaticIdentity string

func (s StaticIdentity) CustomerID(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}

// CustomerID derives the customer id from src, falling back to a freshly
// minted guest id. Nothing is persisted.
func CustomerID(ctx context.Context, src IdentitySource) string {
	if src != nil {
		if id, err := src.CustomerID(ctx); err == nil && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return GuestID()
}

// GuestID mints an anonymous customer id such as "guest_3f2a9c1b".
func GuestID() string {
	return guestPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsGuest reports whether id was produced by GuestID.
func IsGuest(id string) bool { return strings.HasPrefix(id, guestPrefix) }
