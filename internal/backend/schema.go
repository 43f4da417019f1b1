package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// FallbackResponse replaces a reply with no response text.
	FallbackResponse = "I'm sorry, I couldn't find an answer to that. Could you rephrase your question?"
	// UnknownIntent replaces a reply with no intent label.
	UnknownIntent = "unknown"
	// MaxSuggestions caps the follow-up suggestions kept per reply.
	MaxSuggestions = 4
)

// LogID identifies a delivered reply on the backend. It is opaque to the
// widget; the backend emits integers, but strings are accepted too.
type LogID string

func (id *LogID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*id = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = LogID(str)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("log_id: %w", err)
		}
		*id = LogID(n.String())
		return nil
	}
}

// MarshalJSON echoes integral ids back as JSON numbers so the backend sees
// the same type it issued.
func (id LogID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(string(id)), nil
	}
	return json.Marshal(string(id))
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message    string         `json:"message"`
	SessionID  string         `json:"session_id"`
	CustomerID string         `json:"customer_id"`
	Context    map[string]any `json:"context"`
}

type chatEnvelope struct {
	Success bool      `json:"success"`
	Data    *chatData `json:"data"`
	Error   string    `json:"error"`
}

// chatData mirrors the reply payload. Every field is optional on the wire;
// normalizeReply is the single place defaults are substituted.
type chatData struct {
	Response    *string  `json:"response"`
	Intent      *string  `json:"intent"`
	Confidence  *float64 `json:"confidence"`
	Suggestions []string `json:"suggestions"`
	LogID       LogID    `json:"log_id"`
	Timestamp   string   `json:"timestamp"`
}

// Reply is a normalized, fully populated chat reply.
type Reply struct {
	Text        string
	Intent      string
	Confidence  float64
	Suggestions []string
	LogID       LogID
	Timestamp   time.Time
}

func normalizeReply(d *chatData, now time.Time) Reply {
	r := Reply{
		Text:        FallbackResponse,
		Intent:      UnknownIntent,
		Suggestions: []string{},
		Timestamp:   now,
	}
	if d == nil {
		return r
	}

	if d.Response != nil && strings.TrimSpace(*d.Response) != "" {
		r.Text = *d.Response
	}
	if d.Intent != nil && *d.Intent != "" {
		r.Intent = *d.Intent
	}
	if d.Confidence != nil {
		r.Confidence = clampUnit(*d.Confidence)
	}
	for _, s := range d.Suggestions {
		if len(r.Suggestions) == MaxSuggestions {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			r.Suggestions = append(r.Suggestions, s)
		}
	}
	r.LogID = d.LogID
	if ts, ok := parseTimestamp(d.Timestamp); ok {
		r.Timestamp = ts
	}
	return r
}

func clampUnit(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// The backend emits naive ISO-8601 local timestamps with microseconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type healthPayload struct {
	Status string `json:"status"`
	Data   *struct {
		Status string `json:"status"`
	} `json:"data"`
}

func (h healthPayload) status() string {
	if h.Status != "" {
		return h.Status
	}
	if h.Data != nil {
		return h.Data.Status
	}
	return ""
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	LogID    LogID  `json:"log_id"`
	Rating   int    `json:"rating"`
	Comments string `json:"comments"`
}

type ackEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HistoryQuery selects past exchanges. SessionID takes precedence over
// CustomerID when both are set.
type HistoryQuery struct {
	CustomerID string
	SessionID  string
	Limit      int
}

type HistoryEntry struct {
	LogID           LogID   `json:"log_id"`
	SessionID       string  `json:"session_id"`
	UserMessage     string  `json:"user_message"`
	BotResponse     string  `json:"bot_response"`
	IntentLabel     string  `json:"intent_label"`
	ConfidenceScore float64 `json:"confidence_score"`
	CreatedAt       string  `json:"created_at"`
}

type historyEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		History []HistoryEntry `json:"history"`
		Count   int            `json:"count"`
	} `json:"data"`
}

type sessionEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		SessionID string `json:"session_id"`
	} `json:"data"`
}
