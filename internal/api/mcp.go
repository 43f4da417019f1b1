package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/feedback"
	"github.com/kalambet/siketchat/internal/widget"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Widget *widget.Widget
}

// NewMCPServer exposes the chat widget to MCP clients as tools and a
// transcript resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"siketchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("siketchat: banking support assistant. Send messages, rate replies and manage the connection."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the banking support assistant and return its reply."),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_response",
			mcp.WithDescription("Rate an assistant reply from 1 to 5."),
			mcp.WithNumber("message_id", mcp.Description("Id of the assistant message to rate"), mcp.Required()),
			mcp.WithNumber("rating", mcp.Description("Rating from 1 (poor) to 5 (excellent)"), mcp.Required()),
			mcp.WithString("comments", mcp.Description("Optional free-text comments")),
		),
		mcpRateResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("connection_status",
			mcp.WithDescription("Report backend connectivity, retry count and the current session."),
		),
		mcpConnectionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("retry_connection",
			mcp.WithDescription("Probe the backend again after it became unreachable."),
		),
		mcpRetryConnection(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_session",
			mcp.WithDescription("Start a new conversation with a fresh session id."),
		),
		mcpResetSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://transcript",
			"Conversation Transcript",
			mcp.WithResourceDescription("Messages of the current conversation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTranscript(deps),
	)

	return s
}

type messageView struct {
	ID          uint64   `json:"id"`
	Type        string   `json:"type"`
	Text        string   `json:"text"`
	Timestamp   string   `json:"timestamp"`
	Intent      string   `json:"intent,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	LogID       string   `json:"log_id,omitempty"`
	IsError     bool     `json:"is_error"`
}

func viewOf(m chat.Message) messageView {
	return messageView{
		ID:          m.ID,
		Type:        string(m.Kind),
		Text:        m.Text,
		Timestamp:   m.Timestamp.Format(time.RFC3339),
		Intent:      m.Intent,
		Confidence:  m.Confidence,
		Suggestions: m.Suggestions,
		LogID:       string(m.LogID),
		IsError:     m.IsError,
	}
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		msg, err := deps.Widget.Send(ctx, text)
		if errors.Is(err, chat.ErrConversationReset) {
			return mcpError("reply discarded: the session was reset before it arrived"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("message not sent: %v", err)), nil
		}

		b, err := json.Marshal(viewOf(msg))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		if msg.IsError {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRateResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("message_id", 0)
		if id <= 0 {
			return mcpError("message_id is required"), nil
		}
		rating := req.GetInt("rating", 0)
		comments := req.GetString("comments", "")

		err := deps.Widget.Rate(ctx, uint64(id), rating, comments)
		switch {
		case err == nil:
			return mcpText(fmt.Sprintf("Rated message %d with %d", id, rating)), nil
		case errors.Is(err, backend.ErrMissingLogID):
			return mcpError(fmt.Sprintf("message %d cannot be rated", id)), nil
		case errors.Is(err, feedback.ErrInvalidRating), errors.Is(err, widget.ErrUnknownMessage):
			return mcpError(err.Error()), nil
		default:
			return mcpError(fmt.Sprintf("feedback failed: %v", err)), nil
		}
	}
}

func mcpConnectionStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		w := deps.Widget
		banner := w.Banner()
		status := map[string]any{
			"state":       banner.State.String(),
			"banner":      banner.Text,
			"retryable":   banner.Retryable,
			"session_id":  w.Session().ID,
			"customer_id": w.CustomerID(),
			"in_flight":   w.InFlight(),
			"messages":    len(w.Messages()),
		}
		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRetryConnection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st := deps.Widget.Retry(ctx)
		return mcpText(fmt.Sprintf("Connection state: %s", st)), nil
	}
}

func mcpResetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := deps.Widget.Reset(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started session %s (connection %s)", sess.ID, deps.Widget.State())), nil
	}
}

func mcpResourceTranscript(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs := deps.Widget.Messages()
		views := make([]messageView, len(msgs))
		for i, m := range msgs {
			views[i] = viewOf(m)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transcript: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
