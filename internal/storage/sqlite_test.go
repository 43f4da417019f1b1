package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the chat log indexes are created by the migrations.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_chat_logs_session", "idx_chat_logs_customer", "idx_chat_feedback_log"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.GetState("chatbot_session_id"); err != nil || ok {
		t.Fatalf("GetState on empty store = ok %v, err %v; want not found", ok, err)
	}

	if err := s.SetState("chatbot_session_id", "S1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState("chatbot_session_id", "S2"); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}

	v, ok, err := s.GetState("chatbot_session_id")
	if err != nil || !ok {
		t.Fatalf("GetState = ok %v, err %v", ok, err)
	}
	if v != "S2" {
		t.Errorf("value = %q, want S2", v)
	}

	if err := s.DeleteState("chatbot_session_id"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, ok, _ := s.GetState("chatbot_session_id"); ok {
		t.Error("key still present after DeleteState")
	}
}

func TestStatePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetState("chatbot_volume", "0.4"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, ok, err := s2.GetState("chatbot_volume")
	if err != nil || !ok || v != "0.4" {
		t.Errorf("GetState after reopen = %q, %v, %v; want 0.4", v, ok, err)
	}
}

func TestChatLogsAndHistory(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []int64
	for i, sess := range []string{"S1", "S1", "S2"} {
		id, err := s.SaveChatLog(ChatLog{
			SessionID:   sess,
			CustomerID:  "cust-1",
			UserMessage: "question",
			BotResponse: "answer",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveChatLog: %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] >= ids[1] || ids[1] >= ids[2] {
		t.Fatalf("log ids not increasing: %v", ids)
	}

	got, err := s.GetChatLog(ids[0])
	if err != nil {
		t.Fatalf("GetChatLog: %v", err)
	}
	if got.IntentLabel != "unknown" || got.Metadata != "{}" {
		t.Errorf("defaults not applied: intent %q metadata %q", got.IntentLabel, got.Metadata)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	bySession, err := s.ChatHistory("cust-1", "S1", 10)
	if err != nil {
		t.Fatalf("ChatHistory by session: %v", err)
	}
	if len(bySession) != 2 || bySession[0].LogID != ids[1] {
		t.Errorf("session history = %+v, want 2 entries newest first", bySession)
	}

	byCustomer, err := s.ChatHistory("cust-1", "", 2)
	if err != nil {
		t.Fatalf("ChatHistory by customer: %v", err)
	}
	if len(byCustomer) != 2 || byCustomer[0].LogID != ids[2] {
		t.Errorf("customer history = %+v, want 2 newest entries", byCustomer)
	}

	if _, err := s.GetChatLog(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChatLog(missing) err = %v, want ErrNotFound", err)
	}
}

func TestAddFeedback(t *testing.T) {
	s := openTestStore(t)

	logID, err := s.SaveChatLog(ChatLog{SessionID: "S1", CustomerID: "c", UserMessage: "q", BotResponse: "a"})
	if err != nil {
		t.Fatalf("SaveChatLog: %v", err)
	}

	if _, err := s.AddFeedback(Feedback{LogID: logID, Rating: 5, Comments: "great"}); err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}
	if _, err := s.AddFeedback(Feedback{LogID: logID + 100, Rating: 4}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddFeedback(unknown log) err = %v, want ErrNotFound", err)
	}
	if _, err := s.AddFeedback(Feedback{LogID: logID, Rating: 9}); err == nil {
		t.Error("AddFeedback with rating 9 should violate the check constraint")
	}

	fb, err := s.FeedbackFor(logID)
	if err != nil {
		t.Fatalf("FeedbackFor: %v", err)
	}
	if len(fb) != 1 || fb[0].Rating != 5 || fb[0].Comments != "great" {
		t.Errorf("feedback = %+v", fb)
	}
}
