package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ChatLog is one exchange recorded by the mock backend.
type ChatLog struct {
	LogID           int64
	SessionID       string
	CustomerID      string
	UserMessage     string
	BotResponse     string
	IntentLabel     string
	ConfidenceScore float64
	Metadata        string // JSON object stored as text
	CreatedAt       time.Time
}

type Feedback struct {
	ID        int64
	LogID     int64
	Rating    int
	Comments  string
	CreatedAt time.Time
}
