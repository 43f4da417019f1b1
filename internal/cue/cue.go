// Package cue maps widget lifecycle events to short audio signals.
//
// Audio is best effort. A Coordinator never returns an error and never lets
// a failing Player disturb the caller.
package cue

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/siketchat/internal/clock"
	"github.com/kalambet/siketchat/internal/prefs"
)

type Event string

const (
	Welcome  Event = "welcome"
	Open     Event = "open"
	Close    Event = "close"
	Sent     Event = "sent"
	Received Event = "received"
	Error    Event = "error"
	Click    Event = "click"
)

// Tone describes one synthesized beep. Amplitude is relative, in [0,1].
type Tone struct {
	Frequency float64 // Hz
	Duration  time.Duration
	Amplitude float64
}

var tones = map[Event]Tone{
	Welcome:  {Frequency: 660, Duration: 200 * time.Millisecond, Amplitude: 0.3},
	Open:     {Frequency: 520, Duration: 100 * time.Millisecond, Amplitude: 0.2},
	Close:    {Frequency: 440, Duration: 100 * time.Millisecond, Amplitude: 0.2},
	Sent:     {Frequency: 800, Duration: 80 * time.Millisecond, Amplitude: 0.15},
	Received: {Frequency: 600, Duration: 150 * time.Millisecond, Amplitude: 0.25},
	Error:    {Frequency: 220, Duration: 250 * time.Millisecond, Amplitude: 0.3},
	Click:    {Frequency: 1000, Duration: 30 * time.Millisecond, Amplitude: 0.1},
}

// ToneFor returns the tone bound to e.
func ToneFor(e Event) (Tone, bool) {
	t, ok := tones[e]
	return t, ok
}

// Player renders a tone. Implementations may fail or panic; the Coordinator
// absorbs both.
type Player interface {
	Play(t Tone) error
}

// NopPlayer is used where no audio output exists.
type NopPlayer struct{}

func (NopPlayer) Play(Tone) error { return nil }

// BellPlayer rings the terminal bell.
type BellPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellPlayer(w io.Writer) *BellPlayer { return &BellPlayer{w: w} }

func (b *BellPlayer) Play(t Tone) error {
	if t.Amplitude <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}

// PrefsSource supplies the current sound preferences.
type PrefsSource interface {
	Current() prefs.Preferences
}

type Options struct {
	Clock         clock.Clock
	ReceivedDelay time.Duration
	Logger        *slog.Logger
}

type Coordinator struct {
	player        Player
	prefs         PrefsSource
	clock         clock.Clock
	receivedDelay time.Duration
	logger        *slog.Logger
}

func NewCoordinator(player Player, prefs PrefsSource, opts Options) *Coordinator {
	if player == nil {
		player = NopPlayer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		player:        player,
		prefs:         prefs,
		clock:         opts.Clock,
		receivedDelay: opts.ReceivedDelay,
		logger:        opts.Logger,
	}
}

// Fire plays the cue for e if sound is enabled. The received cue is delayed
// by the configured pacing interval.
func (c *Coordinator) Fire(e Event) {
	if e == Received && c.receivedDelay > 0 {
		c.clock.AfterFunc(c.receivedDelay, func() { c.play(e, false) })
		return
	}
	c.play(e, false)
}

// FireForced plays the cue regardless of the enabled flag. It is used by
// the sound toggle itself so turning sound on is audible.
func (c *Coordinator) FireForced(e Event) {
	c.play(e, true)
}

func (c *Coordinator) play(e Event, force bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("audio cue panicked", "event", e, "panic", fmt.Sprint(r))
		}
	}()

	p := prefs.Default()
	if c.prefs != nil {
		p = c.prefs.Current()
	}
	if !p.SoundEnabled && !force {
		return
	}

	t, ok := tones[e]
	if !ok {
		c.logger.Debug("unknown audio cue", "event", e)
		return
	}
	t.Amplitude *= prefs.ClampVolume(p.Volume)
	if t.Amplitude <= 0 {
		return
	}

	if err := c.player.Play(t); err != nil {
		c.logger.Debug("audio cue failed", "event", e, "error", err)
	}
}
