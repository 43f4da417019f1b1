// Package prefs holds the user's sound preferences and writes them through to
// the client-local state store.
package prefs

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
)

const (
	keySoundEnabled = "chatbot_sound_enabled"
	keyVolume       = "chatbot_volume"

	// VolumeStep is the increment used by the volume up/down actions.
	VolumeStep = 0.1
)

// Preferences is an immutable snapshot of the sound settings.
type Preferences struct {
	SoundEnabled bool
	Volume       float64
}

func Default() Preferences {
	return Preferences{SoundEnabled: true, Volume: 0.5}
}

// ClampVolume bounds v to [0,1] and rounds it to two decimals so repeated
// steps do not accumulate float drift.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v*100) / 100
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// StateStore is the persistence boundary for client-local key/value state.
type StateStore interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
}

// Manager owns the current Preferences. Reads are served from memory; every
// mutation is persisted before it becomes visible.
type Manager struct {
	mu     sync.Mutex
	store  StateStore
	cur    Preferences
	logger *slog.Logger
}

// Load reads persisted preferences, substituting defaults for missing or
// unparsable values.
func Load(store StateStore, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := Default()

	if v, ok, err := store.GetState(keySoundEnabled); err != nil {
		return nil, fmt.Errorf("loading sound preference: %w", err)
	} else if ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.SoundEnabled = b
		} else {
			logger.Warn("ignoring invalid sound preference", "value", v)
		}
	}

	if v, ok, err := store.GetState(keyVolume); err != nil {
		return nil, fmt.Errorf("loading volume preference: %w", err)
	} else if ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Volume = ClampVolume(f)
		} else {
			logger.Warn("ignoring invalid volume preference", "value", v)
		}
	}

	return &Manager{store: store, cur: p, logger: logger}, nil
}

func (m *Manager) Current() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// ToggleSound flips SoundEnabled and returns the new preferences.
func (m *Manager) ToggleSound() (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cur
	next.SoundEnabled = !next.SoundEnabled
	if err := m.store.SetState(keySoundEnabled, strconv.FormatBool(next.SoundEnabled)); err != nil {
		return m.cur, fmt.Errorf("saving sound preference: %w", err)
	}
	m.cur = next
	return next, nil
}

// SetVolume stores v clamped to [0,1].
func (m *Manager) SetVolume(v float64) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVolumeLocked(v)
}

// StepVolume adds delta to the current volume, clamped to [0,1].
func (m *Manager) StepVolume(delta float64) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVolumeLocked(m.cur.Volume + delta)
}

func (m *Manager) setVolumeLocked(v float64) (Preferences, error) {
	next := m.cur
	next.Volume = ClampVolume(v)
	if err := m.store.SetState(keyVolume, strconv.FormatFloat(next.Volume, 'f', -1, 64)); err != nil {
		return m.cur, fmt.Errorf("saving volume preference: %w", err)
	}
	m.cur = next
	return next, nil
}
