package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveChatLog inserts an exchange and returns its assigned log id.
func (s *Store) SaveChatLog(l ChatLog) (int64, error) {
	metadata := l.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	intent := l.IntentLabel
	if intent == "" {
		intent = "unknown"
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO chat_logs (session_id, customer_id, user_message, bot_response, intent_label, confidence_score, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SessionID, l.CustomerID, l.UserMessage, l.BotResponse, intent, l.ConfidenceScore, metadata,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetChatLog(logID int64) (ChatLog, error) {
	row := s.db.QueryRow(`
		SELECT log_id, session_id, customer_id, user_message, bot_response, intent_label, confidence_score, metadata, created_at
		FROM chat_logs WHERE log_id = ?`, logID)
	l, err := scanChatLog(row)
	if err == sql.ErrNoRows {
		return ChatLog{}, ErrNotFound
	}
	return l, err
}

// ChatHistory returns the most recent exchanges, newest first. When sessionID
// is non-empty it filters by session, otherwise by customerID.
func (s *Store) ChatHistory(customerID, sessionID string, limit int) ([]ChatLog, error) {
	query := `
		SELECT log_id, session_id, customer_id, user_message, bot_response, intent_label, confidence_score, metadata, created_at
		FROM chat_logs WHERE customer_id = ? ORDER BY log_id DESC LIMIT ?`
	arg := customerID
	if sessionID != "" {
		query = `
		SELECT log_id, session_id, customer_id, user_message, bot_response, intent_label, confidence_score, metadata, created_at
		FROM chat_logs WHERE session_id = ? ORDER BY log_id DESC LIMIT ?`
		arg = sessionID
	}

	rows, err := s.db.Query(query, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatLog
	for rows.Next() {
		l, err := scanChatLog(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// AddFeedback records a rating against an existing chat log. It returns
// ErrNotFound when the log id is unknown.
func (s *Store) AddFeedback(f Feedback) (int64, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chat_logs WHERE log_id = ?", f.LogID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, ErrNotFound
	}

	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO chat_feedback (log_id, rating, comments, created_at) VALUES (?, ?, ?, ?)`,
		f.LogID, f.Rating, f.Comments, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) FeedbackFor(logID int64) ([]Feedback, error) {
	rows, err := s.db.Query(`
		SELECT feedback_id, log_id, rating, comments, created_at
		FROM chat_feedback WHERE log_id = ? ORDER BY feedback_id ASC`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Feedback
	for rows.Next() {
		var f Feedback
		var createdAt string
		if err := rows.Scan(&f.ID, &f.LogID, &f.Rating, &f.Comments, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		f.CreatedAt = t
		results = append(results, f)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatLog(r rowScanner) (ChatLog, error) {
	var l ChatLog
	var createdAt string
	if err := r.Scan(&l.LogID, &l.SessionID, &l.CustomerID, &l.UserMessage, &l.BotResponse,
		&l.IntentLabel, &l.ConfidenceScore, &l.Metadata, &createdAt); err != nil {
		return ChatLog{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return ChatLog{}, fmt.Errorf("parsing created_at: %w", err)
	}
	l.CreatedAt = t
	return l, nil
}
