package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	serviceName    = "SiketBank Chatbot API"
	serviceVersion = "1.0.0"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxStoredText       = 2000

	// isoMicro matches the naive local timestamps the real backend emits.
	isoMicro = "2006-01-02T15:04:05.000000"
)

// BackendDeps configures the development mock of the support backend.
type BackendDeps struct {
	Store *storage.Store
	// Token, when set, is required as a bearer token on /api/chatbot routes
	// other than /health.
	Token          string
	AllowedOrigins []string
	Now            func() time.Time
	Logger         *slog.Logger
}

// NewBackendHandler serves the chatbot API under /api/chatbot with canned
// replies, recording every exchange and rating in the store.
func NewBackendHandler(deps BackendDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(deps.AllowedOrigins))

	r.Get("/health", handleRootHealth)
	r.Route("/api/chatbot", func(r chi.Router) {
		r.Get("/health", handleHealth(deps))
		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(BearerAuth(deps.Token))
			}
			r.Post("/chat", handleChat(deps))
			r.Get("/history", handleHistory(deps))
			r.Post("/feedback", handleFeedback(deps))
			r.Post("/session/start", handleSessionStart(deps))
		})
	})
	return r
}

func handleRootHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"status": "healthy", "service": serviceName},
	})
}

func handleHealth(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, db, code := "healthy", "connected", http.StatusOK
		if _, err := deps.Store.AppliedMigrations(); err != nil {
			deps.Logger.Error("health check: database unavailable", "error", err)
			status, db, code = "unhealthy", "unavailable", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"service":   serviceName,
			"version":   serviceVersion,
			"timestamp": deps.Now().Local().Format(isoMicro),
			"database":  db,
		})
	}
}

type chatRequest struct {
	Message    *string        `json:"message"`
	SessionID  string         `json:"session_id"`
	CustomerID string         `json:"customer_id"`
	Context    map[string]any `json:"context"`
}

func handleChat(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == nil {
			httpError(w, http.StatusBadRequest, "MISSING_MESSAGE", "Message is required")
			return
		}
		message := strings.TrimSpace(*req.Message)
		if message == "" {
			httpError(w, http.StatusBadRequest, "EMPTY_MESSAGE", "Message cannot be empty")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}
		if req.CustomerID == "" {
			req.CustomerID = "anonymous"
		}

		reply := cannedReply(message)
		now := deps.Now()

		metadata, err := json.Marshal(map[string]any{
			"context":    nonNilContext(req.Context),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
		logID, err := deps.Store.SaveChatLog(storage.ChatLog{
			SessionID:       req.SessionID,
			CustomerID:      req.CustomerID,
			UserMessage:     truncate(message, maxStoredText),
			BotResponse:     truncate(reply.text, maxStoredText),
			IntentLabel:     reply.intent,
			ConfidenceScore: reply.confidence,
			Metadata:        string(metadata),
			CreatedAt:       now,
		})
		if err != nil {
			deps.Logger.Error("saving chat log", "error", err)
			httpError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}

		deps.Logger.Debug("chat handled", "session_id", req.SessionID, "intent", reply.intent, "log_id", logID)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"session_id":  req.SessionID,
				"response":    reply.text,
				"intent":      reply.intent,
				"category":    reply.category,
				"confidence":  reply.confidence,
				"suggestions": reply.suggestions,
				"log_id":      logID,
				"timestamp":   now.Local().Format(isoMicro),
			},
		})
	}
}

type historyItem struct {
	LogID           int64   `json:"log_id"`
	SessionID       string  `json:"session_id"`
	UserMessage     string  `json:"user_message"`
	BotResponse     string  `json:"bot_response"`
	IntentLabel     string  `json:"intent_label"`
	ConfidenceScore float64 `json:"confidence_score"`
	CreatedAt       string  `json:"created_at"`
}

func handleHistory(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		customerID := q.Get("customer_id")
		if customerID == "" {
			customerID = "anonymous"
		}
		sessionID := q.Get("session_id")

		limit := defaultHistoryLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
				return
			}
			limit = min(max(n, 1), maxHistoryLimit)
		}

		logs, err := deps.Store.ChatHistory(customerID, sessionID, limit)
		if err != nil {
			deps.Logger.Error("loading history", "error", err)
			httpError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "%v", err)
			return
		}

		items := make([]historyItem, len(logs))
		for i, l := range logs {
			items[i] = historyItem{
				LogID:           l.LogID,
				SessionID:       l.SessionID,
				UserMessage:     l.UserMessage,
				BotResponse:     l.BotResponse,
				IntentLabel:     l.IntentLabel,
				ConfidenceScore: l.ConfidenceScore,
				CreatedAt:       l.CreatedAt.Local().Format(isoMicro),
			}
		}

		var session any
		if sessionID != "" {
			session = sessionID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"customer_id": customerID,
				"session_id":  session,
				"history":     items,
				"count":       len(items),
			},
		})
	}
}

func handleFeedback(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: %v", err)
			return
		}
		for _, f := range []string{"log_id", "rating"} {
			if _, ok := fields[f]; !ok {
				httpError(w, http.StatusBadRequest, "MISSING_"+strings.ToUpper(f), "Missing required field: %s", f)
				return
			}
		}

		var id backend.LogID
		if err := json.Unmarshal(fields["log_id"], &id); err != nil {
			httpError(w, http.StatusBadRequest, "INVALID_LOG_ID", "log_id must be a number")
			return
		}
		logID, err := strconv.ParseInt(string(id), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "INVALID_LOG_ID", "log_id must be a number")
			return
		}

		rating, ok := parseRating(fields["rating"])
		if !ok {
			httpError(w, http.StatusBadRequest, "INVALID_RATING", "Rating must be an integer between 1 and 5")
			return
		}

		var comments string
		if raw, ok := fields["comments"]; ok {
			// null and non-string comments are stored as empty.
			json.Unmarshal(raw, &comments)
		}

		_, err = deps.Store.AddFeedback(storage.Feedback{
			LogID:     logID,
			Rating:    rating,
			Comments:  comments,
			CreatedAt: deps.Now(),
		})
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				deps.Logger.Error("saving feedback", "log_id", logID, "error", err)
			}
			httpError(w, http.StatusInternalServerError, "FEEDBACK_FAILED", "Failed to submit feedback")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Feedback submitted successfully",
		})
	}
}

// parseRating accepts only JSON integers in [1,5].
func parseRating(raw json.RawMessage) (int, bool) {
	s := strings.TrimSpace(string(raw))
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 5 {
		return 0, false
	}
	return n, true
}

func handleSessionStart(deps BackendDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body struct {
			CustomerID string `json:"customer_id"`
		}
		// An empty or missing body is allowed.
		json.NewDecoder(r.Body).Decode(&body)
		if body.CustomerID == "" {
			body.CustomerID = "anonymous"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"session_id":  uuid.New().String(),
				"customer_id": body.CustomerID,
				"timestamp":   deps.Now().Local().Format(isoMicro),
				"message":     "Session started successfully",
			},
		})
	}
}

func nonNilContext(c map[string]any) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errCode string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
		"code":    errCode,
	})
}
