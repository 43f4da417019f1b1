package chat

import (
	"sync"
	"time"

	"github.com/kalambet/siketchat/internal/backend"
)

type Kind string

const (
	User   Kind = "user"
	Bot    Kind = "bot"
	System Kind = "system"
)

// Message is one entry of the conversation. Messages are never mutated
// after they are appended.
type Message struct {
	ID          uint64
	Kind        Kind
	Text        string
	Timestamp   time.Time
	Intent      string
	Confidence  *float64
	Suggestions []string
	LogID       backend.LogID
	IsError     bool
}

// Ratable reports whether feedback can be submitted against m.
func (m Message) Ratable() bool {
	return m.Kind == Bot && !m.IsError && m.LogID != ""
}

func (m Message) clone() Message {
	m.Suggestions = append([]string(nil), m.Suggestions...)
	return m
}

// Log is the in-memory, append-only conversation for one widget instance.
// Every Clear starts a new generation; appends tied to an older generation
// are refused.
type Log struct {
	mu     sync.Mutex
	msgs   []Message
	nextID uint64
	gen    uint64
}

func NewLog() *Log { return &Log{} }

// Append assigns the next id to m, stores it and returns the stored copy.
func (l *Log) Append(m Message) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(m)
}

// Generation identifies the conversation the log currently holds.
func (l *Log) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// AppendAt is Append for a message that belongs to generation gen. It
// reports false and stores nothing if the log was cleared since.
func (l *Log) AppendAt(gen uint64, m Message) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return Message{}, false
	}
	return l.appendLocked(m), true
}

// appendFirst appends m and returns the generation it was stored under.
func (l *Log) appendFirst(m Message) (Message, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(m), l.gen
}

func (l *Log) appendLocked(m Message) Message {
	l.nextID++
	m.ID = l.nextID
	m = m.clone()
	l.msgs = append(l.msgs, m)
	return m.clone()
}

// Messages returns a snapshot of the log in order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	for i, m := range l.msgs {
		out[i] = m.clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Get looks a message up by id.
func (l *Log) Get(id uint64) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Clear empties the log and starts a new generation. Ids keep increasing
// across clears.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = nil
	l.gen++
}
