package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/siketchat/internal/api"
	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/feedback"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/storage"
)

var ctx = context.Background()

type mockBackend struct {
	server *httptest.Server
	store  *storage.Store
}

func newMockBackend(t *testing.T) *mockBackend {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening mock store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewBackendHandler(api.BackendDeps{Store: store}))
	t.Cleanup(srv.Close)
	return &mockBackend{server: srv, store: store}
}

func (m *mockBackend) config(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Backend.BaseURL = m.server.URL + "/api"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Cue.Player = "none"
	cfg.Retry.Delay = time.Hour
	cfg.Identity.CustomerID = "CUST-1"
	return cfg
}

func (m *mockBackend) client(t *testing.T) *backend.Client {
	return newClient(m.config(t))
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestRunHealth(t *testing.T) {
	m := newMockBackend(t)
	if err := runHealth(ctx, m.client(t)); err != nil {
		t.Fatalf("runHealth: %v", err)
	}
}

func TestRunHealth_Unreachable(t *testing.T) {
	m := newMockBackend(t)
	client := m.client(t)
	m.server.Close()

	err := runHealth(ctx, client)
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestRunFeedback(t *testing.T) {
	m := newMockBackend(t)
	client := m.client(t)

	reply, err := client.Chat(ctx, backend.ChatRequest{Message: "what is my balance", SessionID: "s-1", CustomerID: "CUST-1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if err := runFeedback(ctx, client, reply.LogID, 4, "clear"); err != nil {
		t.Fatalf("runFeedback: %v", err)
	}

	fb, err := m.store.FeedbackFor(1)
	if err != nil {
		t.Fatalf("FeedbackFor: %v", err)
	}
	if len(fb) != 1 || fb[0].Rating != 4 || fb[0].Comments != "clear" {
		t.Errorf("stored feedback = %+v", fb)
	}
}

func TestRunFeedback_InvalidRating(t *testing.T) {
	m := newMockBackend(t)
	err := runFeedback(ctx, m.client(t), "1", 9, "")
	if !feedback.IsInputError(err) {
		t.Errorf("err = %v, want input error", err)
	}
}

func TestRunHistory(t *testing.T) {
	m := newMockBackend(t)
	client := m.client(t)
	if _, err := client.Chat(ctx, backend.ChatRequest{Message: "hello", SessionID: "s-1", CustomerID: "CUST-1"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if err := runHistory(ctx, client, backend.HistoryQuery{CustomerID: "CUST-1"}); err != nil {
		t.Fatalf("runHistory: %v", err)
	}
}

func TestRunChat_SendAndRate(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	m := newMockBackend(t)
	a, err := openAppWith(ctx, m.config(t), appOptions{notifier: notify.Discard})
	if err != nil {
		t.Fatalf("openAppWith: %v", err)
	}
	defer a.Close()

	if st := a.widget.Start(ctx); st != connectivity.Connected {
		t.Fatalf("Start = %s, want CONNECTED", st)
	}

	var out bytes.Buffer
	in := strings.NewReader("hello there\n/rate 2 5 quick answer\n/quit\nnever sent\n")
	if err := runChat(ctx, a.widget, in, &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}

	if !strings.Contains(out.String(), "[#2] bot: Hello! Welcome to SiketBank.") {
		t.Errorf("output missing bot reply:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "(greeting, 85%)") {
		t.Errorf("output missing intent and confidence:\n%s", out.String())
	}
	if n := len(a.widget.Messages()); n != 2 {
		t.Errorf("messages = %d, want 2 (input after /quit must be ignored)", n)
	}
	if a.widget.IsOpen() {
		t.Error("widget still open after chat ended")
	}

	fb, err := m.store.FeedbackFor(1)
	if err != nil {
		t.Fatalf("FeedbackFor: %v", err)
	}
	if len(fb) != 1 || fb[0].Rating != 5 || fb[0].Comments != "quick answer" {
		t.Errorf("stored feedback = %+v", fb)
	}
}

func TestRunChat_Disconnected(t *testing.T) {
	m := newMockBackend(t)
	cfg := m.config(t)
	m.server.Close()

	a, err := openAppWith(ctx, cfg, appOptions{notifier: notify.Discard})
	if err != nil {
		t.Fatalf("openAppWith: %v", err)
	}
	defer a.Close()

	if st := a.widget.Start(ctx); st != connectivity.Disconnected {
		t.Fatalf("Start = %s, want DISCONNECTED", st)
	}

	var out bytes.Buffer
	if err := runChat(ctx, a.widget, strings.NewReader("hello\n"), &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if strings.Contains(out.String(), "[#") {
		t.Errorf("no message should be printed while disconnected:\n%s", out.String())
	}
	if n := len(a.widget.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestHandleLine_Commands(t *testing.T) {
	m := newMockBackend(t)
	a, err := openAppWith(ctx, m.config(t), appOptions{notifier: notify.Discard})
	if err != nil {
		t.Fatalf("openAppWith: %v", err)
	}
	defer a.Close()
	a.widget.Start(ctx)

	var out bytes.Buffer
	if handleLine(ctx, a.widget, "/bogus", &out) {
		t.Error("unknown command should not quit")
	}
	if !handleLine(ctx, a.widget, "/exit", &out) {
		t.Error("/exit should quit")
	}

	handleLine(ctx, a.widget, "/vol 0.2", &out)
	if v := a.widget.Preferences().Volume; v != 0.2 {
		t.Errorf("volume = %v, want 0.2", v)
	}
	handleLine(ctx, a.widget, "/sound", &out)
	if a.widget.Preferences().SoundEnabled {
		t.Error("sound still enabled after /sound")
	}

	before := a.widget.Session().ID
	handleLine(ctx, a.widget, "/reset", &out)
	if a.widget.Session().ID == before {
		t.Error("/reset kept the session id")
	}
	if !strings.Contains(out.String(), "New session ") {
		t.Errorf("output = %q, want new session line", out.String())
	}
}

func TestFormatMessage(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	conf := 0.5
	got := formatMessage(chat.Message{
		ID:          4,
		Kind:        chat.Bot,
		Text:        "Visit any branch.",
		Intent:      "branch_locations",
		Confidence:  &conf,
		Suggestions: []string{"Opening hours"},
		LogID:       "12",
	})
	want := "[#4] bot: Visit any branch. (branch_locations, 50%)\n    • Opening hours\n    rate with /rate 4 <1-5>"
	if got != want {
		t.Errorf("formatMessage =\n%q\nwant\n%q", got, want)
	}

	got = formatMessage(chat.Message{ID: 5, Kind: chat.Bot, Text: "Request timed out.", IsError: true})
	if got != "[#5] bot: Request timed out." {
		t.Errorf("error bubble = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q", got)
	}
}
