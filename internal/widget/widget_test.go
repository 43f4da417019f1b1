package widget

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/clock"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/cue"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/storage"
)

var ctx = context.Background()

type fakeServer struct {
	mu          sync.Mutex
	healthy     bool
	healthCalls int
	feedback    []string
	hold        *chatHold
}

// chatHold parks the next chat request until released.
type chatHold struct {
	entered chan struct{}
	release chan struct{}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/chatbot/chat" {
		f.mu.Lock()
		hold := f.hold
		f.hold = nil
		f.mu.Unlock()
		if hold != nil {
			hold.entered <- struct{}{}
			<-hold.release
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/chatbot/health":
		f.healthCalls++
		if f.healthy {
			w.Write([]byte(`{"status":"healthy"}`))
		} else {
			w.Write([]byte(`{"status":"unhealthy"}`))
		}
	case "/api/chatbot/chat":
		w.Write([]byte(`{"success":true,"data":{"response":"Hello! How can I help?","intent":"greeting","confidence":0.95,"suggestions":["Check balance"],"log_id":7}}`))
	case "/api/chatbot/feedback":
		b, _ := io.ReadAll(r.Body)
		f.feedback = append(f.feedback, string(b))
		w.Write([]byte(`{"success":true}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) holdChat() *chatHold {
	h := &chatHold{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.mu.Lock()
	f.hold = h
	f.mu.Unlock()
	return h
}

func (f *fakeServer) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func (f *fakeServer) healthChecks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls
}

func (f *fakeServer) feedbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feedback)
}

type recordingPlayer struct {
	mu    sync.Mutex
	tones []cue.Tone
}

func (r *recordingPlayer) Play(t cue.Tone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tones = append(r.tones, t)
	return nil
}

// events maps played tones back to their events by frequency.
func (r *recordingPlayer) events() []cue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cue.Event
	for _, t := range r.tones {
		for _, e := range []cue.Event{cue.Welcome, cue.Open, cue.Close, cue.Sent, cue.Received, cue.Error, cue.Click} {
			if base, _ := cue.ToneFor(e); base.Frequency == t.Frequency {
				out = append(out, e)
			}
		}
	}
	return out
}

func (r *recordingPlayer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tones = nil
}

type fixture struct {
	w      *Widget
	srv    *fakeServer
	player *recordingPlayer
	clock  *clock.Fake
	store  *storage.Store
	notes  []notify.Notification
}

func newFixture(t *testing.T, healthy bool) *fixture {
	t.Helper()
	f := &fixture{
		srv:    &fakeServer{healthy: healthy},
		player: &recordingPlayer{},
		clock:  clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
	}
	hs := httptest.NewServer(f.srv)
	t.Cleanup(hs.Close)

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	f.store = store

	f.w = f.build(t, hs.URL)
	return f
}

func (f *fixture) build(t *testing.T, url string) *Widget {
	t.Helper()
	cfg := config.Defaults()
	cfg.Backend.BaseURL = url + "/api"
	cfg.Identity.CustomerID = "CUST-1"

	w, _, err := Build(ctx, cfg, f.store, BuildOptions{
		Player:   f.player,
		Clock:    f.clock,
		Notifier: notify.Func(func(n notify.Notification) { f.notes = append(f.notes, n) }),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(w.Shutdown)
	return w
}

func equalEvents(a, b []cue.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStart_Connects(t *testing.T) {
	f := newFixture(t, true)
	if st := f.w.Start(ctx); st != connectivity.Connected {
		t.Fatalf("Start = %v, want CONNECTED", st)
	}
	if f.w.CustomerID() != "CUST-1" {
		t.Errorf("CustomerID = %q", f.w.CustomerID())
	}
	if f.w.Session().ID == "" {
		t.Error("empty session id")
	}
}

func TestOpen_WelcomeOncePerOpening(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)

	f.w.Open()
	f.w.Open() // already open
	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Open, cue.Welcome}) {
		t.Fatalf("cues = %v, want [open welcome]", got)
	}

	f.w.Close()
	f.w.Open()
	want := []cue.Event{cue.Open, cue.Welcome, cue.Close, cue.Open, cue.Welcome}
	if got := f.player.events(); !equalEvents(got, want) {
		t.Fatalf("cues = %v, want %v", got, want)
	}

	if _, err := f.w.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.player.reset()
	if f.w.Toggle() {
		t.Fatal("Toggle reported open after closing")
	}
	if !f.w.Toggle() {
		t.Fatal("Toggle reported closed after opening")
	}
	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Close, cue.Open}) {
		t.Errorf("cues = %v, want no welcome with a non-empty log", got)
	}
}

func TestOpen_NoWelcomeWhenDisconnected(t *testing.T) {
	f := newFixture(t, false)
	f.w.Start(ctx)
	f.w.Open()

	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Open}) {
		t.Errorf("cues = %v, want [open]", got)
	}
}

func TestSend_CuesAndLog(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)

	msg, err := f.w.Send(ctx, "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "Hello! How can I help?" || msg.LogID != "7" {
		t.Errorf("msg = %+v", msg)
	}
	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Sent}) {
		t.Errorf("cues before pacing delay = %v, want [sent]", got)
	}
	f.clock.Advance(300 * time.Millisecond)
	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Sent, cue.Received}) {
		t.Errorf("cues = %v, want [sent received]", got)
	}
	if n := len(f.w.Messages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
}

func TestSend_RejectedWhileDisconnected(t *testing.T) {
	f := newFixture(t, false)
	f.w.Start(ctx)

	if _, err := f.w.Send(ctx, "hello"); !errors.Is(err, chat.ErrSendRejected) {
		t.Fatalf("err = %v, want ErrSendRejected", err)
	}
	if n := len(f.w.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)
	f.w.Send(ctx, "hello")
	f.w.chat.Log().Append(chat.Message{Kind: chat.System, Text: "Agent joined"})
	if n := len(f.w.Messages()); n != 3 {
		t.Fatalf("messages = %d, want 3", n)
	}
	s1 := f.w.Session().ID
	checksBefore := f.srv.healthChecks()

	sess, err := f.w.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.ID == s1 || f.w.Session().ID == s1 {
		t.Errorf("session id unchanged: %q", s1)
	}
	if n := len(f.w.Messages()); n != 0 {
		t.Errorf("messages = %d after reset, want 0", n)
	}
	if f.srv.healthChecks() != checksBefore+1 {
		t.Errorf("health checks = %d, want a fresh health check", f.srv.healthChecks()-checksBefore)
	}
	if f.w.State() != connectivity.Connected {
		t.Errorf("state = %v, want CONNECTED", f.w.State())
	}

	v, ok, _ := f.store.GetState("chatbot_session_id")
	if !ok || v != sess.ID {
		t.Errorf("persisted session = %q, want %q", v, sess.ID)
	}
}

func TestReset_DropsReplyPendingFromPreviousSession(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)
	hold := f.srv.holdChat()

	done := make(chan error, 1)
	go func() {
		_, err := f.w.Send(ctx, "hello")
		done <- err
	}()
	<-hold.entered

	if _, err := f.w.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n := len(f.w.Messages()); n != 0 {
		t.Fatalf("messages = %d after reset, want 0", n)
	}

	close(hold.release)
	if err := <-done; !errors.Is(err, chat.ErrConversationReset) {
		t.Errorf("Send err = %v, want ErrConversationReset", err)
	}
	if msgs := f.w.Messages(); len(msgs) != 0 {
		t.Errorf("new conversation holds %d messages, first %+v", len(msgs), msgs[0])
	}

	msg, err := f.w.Send(ctx, "hello again")
	if err != nil || msg.Kind != chat.Bot || msg.IsError {
		t.Fatalf("Send after reset = %+v, %v", msg, err)
	}
	if n := len(f.w.Messages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
}

func TestSend_InFlightUnaffectedByFailedScheduledCheck(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)
	hold := f.srv.holdChat()

	type result struct {
		msg chat.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := f.w.Send(ctx, "hello")
		done <- result{msg, err}
	}()
	<-hold.entered

	// The backend goes away mid-send: the explicit retry fails and so does
	// the automatic re-check it schedules.
	f.srv.setHealthy(false)
	if st := f.w.Retry(ctx); st != connectivity.Disconnected {
		t.Fatalf("Retry = %v, want DISCONNECTED", st)
	}
	checks := f.srv.healthChecks()
	f.clock.Advance(2 * time.Second)
	if f.srv.healthChecks() != checks+1 {
		t.Fatalf("scheduled health check did not run")
	}
	if !f.w.InFlight() {
		t.Fatal("send no longer in flight after failed health checks")
	}

	close(hold.release)
	r := <-done
	if r.err != nil {
		t.Fatalf("Send: %v", r.err)
	}
	if r.msg.Kind != chat.Bot || r.msg.IsError || r.msg.LogID != "7" {
		t.Errorf("reply = %+v, want a normal bot message", r.msg)
	}
	if n := len(f.w.Messages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}

	if _, err := f.w.Send(ctx, "next"); !errors.Is(err, chat.ErrSendRejected) {
		t.Errorf("next send err = %v, want ErrSendRejected", err)
	}
}

func TestRate_WhileSendInFlight(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)
	bot, err := f.w.Send(ctx, "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	hold := f.srv.holdChat()
	done := make(chan error, 1)
	go func() {
		_, err := f.w.Send(ctx, "second")
		done <- err
	}()
	<-hold.entered

	if !f.w.InFlight() {
		t.Fatal("InFlight = false during a pending send")
	}
	if err := f.w.Rate(ctx, bot.ID, 4, ""); err != nil {
		t.Errorf("Rate during pending send: %v", err)
	}
	if n := f.srv.feedbackCount(); n != 1 {
		t.Errorf("feedback requests = %d, want 1", n)
	}

	close(hold.release)
	if err := <-done; err != nil {
		t.Errorf("pending Send: %v", err)
	}
	if n := len(f.w.Messages()); n != 4 {
		t.Errorf("messages = %d, want 4", n)
	}
}

func TestRate(t *testing.T) {
	f := newFixture(t, true)
	f.w.Start(ctx)
	bot, _ := f.w.Send(ctx, "hello")
	user := f.w.Messages()[0]

	if err := f.w.Rate(ctx, bot.ID, 5, "great"); err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if n := f.srv.feedbackCount(); n != 1 {
		t.Fatalf("feedback requests = %d, want 1", n)
	}

	if err := f.w.Rate(ctx, user.ID, 5, ""); !errors.Is(err, backend.ErrMissingLogID) {
		t.Errorf("rating a user message: err = %v, want ErrMissingLogID", err)
	}
	if err := f.w.Rate(ctx, 999, 5, ""); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("rating unknown id: err = %v, want ErrUnknownMessage", err)
	}
	if n := f.srv.feedbackCount(); n != 1 {
		t.Errorf("feedback requests = %d, want still 1", n)
	}
	if n := len(f.w.Messages()); n != 2 {
		t.Errorf("rating changed the log: %d messages", n)
	}
}

func TestSoundControls(t *testing.T) {
	f := newFixture(t, true)

	p, err := f.w.ToggleSound()
	if err != nil || p.SoundEnabled {
		t.Fatalf("ToggleSound = %+v, %v; want sound off", p, err)
	}
	f.w.VolumeUp()
	if n := len(f.player.events()); n != 0 {
		t.Errorf("cues played with sound off: %d", n)
	}

	p, _ = f.w.ToggleSound()
	if !p.SoundEnabled {
		t.Fatal("sound still off after second toggle")
	}
	if got := f.player.events(); !equalEvents(got, []cue.Event{cue.Click}) {
		t.Errorf("cues = %v, want [click] on turning sound on", got)
	}

	for i := 0; i < 10; i++ {
		p, _ = f.w.VolumeDown()
	}
	if p.Volume != 0 {
		t.Errorf("Volume = %v, want 0", p.Volume)
	}
	p, _ = f.w.SetVolume(3)
	if p.Volume != 1 {
		t.Errorf("Volume = %v, want 1", p.Volume)
	}
	if f.w.Preferences().Volume != 1 {
		t.Errorf("Preferences().Volume = %v", f.w.Preferences().Volume)
	}
}

func TestPreferencesAndSessionSurviveRebuild(t *testing.T) {
	f := newFixture(t, true)
	f.w.ToggleSound()
	f.w.SetVolume(0.8)
	id := f.w.Session().ID

	hs := httptest.NewServer(f.srv)
	defer hs.Close()
	again := f.build(t, hs.URL)

	if p := again.Preferences(); p.SoundEnabled || p.Volume != 0.8 {
		t.Errorf("preferences = %+v, want sound off at 0.8", p)
	}
	if again.Session().ID != id {
		t.Errorf("session = %q, want %q", again.Session().ID, id)
	}
}

func TestBanner(t *testing.T) {
	f := newFixture(t, false)

	if b := f.w.Banner(); b.Visible || b.State != connectivity.Checking {
		t.Errorf("initial banner = %+v", b)
	}

	f.w.Start(ctx)
	b := f.w.Banner()
	if !b.Visible || b.Retryable {
		t.Errorf("banner = %+v, want visible while auto retries remain", b)
	}

	f.clock.Advance(10 * time.Second)
	if b := f.w.Banner(); !b.Visible || !b.Retryable {
		t.Errorf("banner = %+v, want retryable after exhaustion", b)
	}

	f.srv.setHealthy(true)
	if st := f.w.Retry(ctx); st != connectivity.Connected {
		t.Fatalf("Retry = %v, want CONNECTED", st)
	}
	if b := f.w.Banner(); b.Visible {
		t.Errorf("banner = %+v, want hidden", b)
	}
	if len(f.notes) == 0 || f.notes[len(f.notes)-1].Level != notify.Success {
		t.Errorf("notifications = %v, want success on reconnect", f.notes)
	}
}
