// Package backend is the HTTP client for the banking-support chatbot API.
//
// Every call runs under its own deadline and returns errors from the package
// taxonomy (ErrTimeout, *ServerError, ErrNoResponse, *ApplicationError) so
// callers can decide how a failure is surfaced.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHealthTimeout   = 5 * time.Second
	defaultChatTimeout     = 15 * time.Second
	defaultFeedbackTimeout = 5 * time.Second

	maxReplySize = 1 << 20 // 1MB
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Token           string
	HealthTimeout   time.Duration
	ChatTimeout     time.Duration
	FeedbackTimeout time.Duration
	HTTPClient      *http.Client
	Now             func() time.Time
}

// Client talks to {base}/chatbot.
type Client struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	healthTimeout   time.Duration
	chatTimeout     time.Duration
	feedbackTimeout time.Duration
	now             func() time.Time
}

// New creates a Client for the API rooted at baseURL (e.g.
// "http://localhost:5001/api"). A baseURL already ending in /chatbot is used
// as is.
func New(baseURL string, opts Options) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/chatbot") {
		base += "/chatbot"
	}

	c := &Client{
		baseURL:         base,
		token:           opts.Token,
		httpClient:      opts.HTTPClient,
		healthTimeout:   opts.HealthTimeout,
		chatTimeout:     opts.ChatTimeout,
		feedbackTimeout: opts.FeedbackTimeout,
		now:             opts.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = defaultHealthTimeout
	}
	if c.chatTimeout <= 0 {
		c.chatTimeout = defaultChatTimeout
	}
	if c.feedbackTimeout <= 0 {
		c.feedbackTimeout = defaultFeedbackTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// BaseURL returns the resolved chatbot endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// Health issues GET /health and returns the reported status. A status other
// than "healthy" is returned together with ErrProbeFailed.
func (c *Client) Health(ctx context.Context) (string, error) {
	var h healthPayload
	if err := c.do(ctx, http.MethodGet, "/health", c.healthTimeout, nil, &h); err != nil {
		return "", fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	status := h.status()
	if status != "healthy" {
		return status, fmt.Errorf("%w: status %q", ErrProbeFailed, status)
	}
	return status, nil
}

// Probe reports whether the backend is healthy.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Chat sends one user message and returns the normalized reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	if req.Context == nil {
		req.Context = map[string]any{}
	}

	var env chatEnvelope
	if err := c.do(ctx, http.MethodPost, "/chat", c.chatTimeout, req, &env); err != nil {
		return Reply{}, err
	}
	if !env.Success {
		return Reply{}, &ApplicationError{Message: env.Error}
	}
	return normalizeReply(env.Data, c.now()), nil
}

// Feedback rates a previously delivered reply.
func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) error {
	if req.LogID == "" {
		return ErrMissingLogID
	}

	var env ackEnvelope
	if err := c.do(ctx, http.MethodPost, "/feedback", c.feedbackTimeout, req, &env); err != nil {
		return err
	}
	if !env.Success {
		return &ApplicationError{Message: env.Error}
	}
	return nil
}

// History returns past exchanges, newest first.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	v := url.Values{}
	if q.CustomerID != "" {
		v.Set("customer_id", q.CustomerID)
	}
	if q.SessionID != "" {
		v.Set("session_id", q.SessionID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/history"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var env historyEnvelope
	if err := c.do(ctx, http.MethodGet, path, c.chatTimeout, nil, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &ApplicationError{Message: env.Error}
	}
	return env.Data.History, nil
}

// StartSession asks the backend to mint a session id.
func (c *Client) StartSession(ctx context.Context, customerID string) (string, error) {
	body := map[string]string{"customer_id": customerID}

	var env sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/session/start", c.feedbackTimeout, body, &env); err != nil {
		return "", err
	}
	if !env.Success {
		return "", &ApplicationError{Message: env.Error}
	}
	if env.Data.SessionID == "" {
		return "", fmt.Errorf("%w: empty session_id", ErrMalformedReply)
	}
	return env.Data.SessionID, nil
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return classifyRead(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServerError{Status: resp.StatusCode, Detail: detailFrom(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return nil
}
