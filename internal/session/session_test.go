package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/siketchat/internal/storage"
)

var ctx = context.Background()

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_MintsAndPersists(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(db, Options{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess := s.Current()
	if sess.ID == "" {
		t.Fatal("session id is empty")
	}
	if !sess.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", sess.CreatedAt, now)
	}

	again, err := Open(db, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := again.Current(); got.ID != sess.ID || !got.CreatedAt.Equal(now) {
		t.Errorf("reopened session = %+v, want %+v", got, sess)
	}
}

func TestReset_NewIDPersisted(t *testing.T) {
	db := openTestDB(t)
	s, err := Open(db, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	old := s.Current().ID

	sess, err := s.Reset(ctx, "C1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.ID == "" || sess.ID == old {
		t.Fatalf("Reset id = %q, old = %q", sess.ID, old)
	}
	if s.Current().ID != sess.ID {
		t.Errorf("Current = %q, want %q", s.Current().ID, sess.ID)
	}

	v, ok, _ := db.GetState(keySessionID)
	if !ok || v != sess.ID {
		t.Errorf("persisted id = %q, want %q", v, sess.ID)
	}
}

type stubMinter struct {
	id  string
	err error
}

func (m stubMinter) StartSession(context.Context, string) (string, error) { return m.id, m.err }

func TestReset_RemoteMinter(t *testing.T) {
	db := openTestDB(t)
	s, _ := Open(db, Options{Remote: stubMinter{id: "remote-1"}})

	sess, err := s.Reset(ctx, "C1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.ID != "remote-1" {
		t.Errorf("ID = %q, want remote-1", sess.ID)
	}
}

func TestReset_RemoteFailureFallsBack(t *testing.T) {
	db := openTestDB(t)
	s, _ := Open(db, Options{Remote: stubMinter{err: errors.New("down")}})
	old := s.Current().ID

	sess, err := s.Reset(ctx, "C1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.ID == "" || sess.ID == old {
		t.Errorf("ID = %q, want fresh local id", sess.ID)
	}
}

func TestReset_RemoteRepeatsOldID(t *testing.T) {
	db := openTestDB(t)
	s, _ := Open(db, Options{})
	old := s.Current().ID
	s.remote = stubMinter{id: old}

	sess, err := s.Reset(ctx, "C1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.ID == old {
		t.Error("Reset reused the old session id")
	}
}

func TestCustomerID(t *testing.T) {
	if got := CustomerID(ctx, StaticIdentity("CUST-9")); got != "CUST-9" {
		t.Errorf("CustomerID = %q, want CUST-9", got)
	}

	guest := CustomerID(ctx, StaticIdentity(""))
	if !IsGuest(guest) || len(guest) != len(guestPrefix)+8 {
		t.Errorf("guest id = %q", guest)
	}
	if other := CustomerID(ctx, nil); other == guest {
		t.Error("two guest ids collided")
	}
}
