package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrProbeFailed means the health check did not report a healthy backend.
	ErrProbeFailed = errors.New("health probe failed")
	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrNoResponse means no HTTP response was received at all, which implies
	// the backend is unreachable.
	ErrNoResponse = errors.New("no response from backend")
	// ErrMissingLogID means feedback was attempted against a reply that the
	// backend never assigned a log id to.
	ErrMissingLogID = errors.New("response has no log id")
	// ErrMalformedReply means a 2xx response body could not be decoded.
	ErrMalformedReply = errors.New("malformed backend reply")
)

// ServerError is a non-2xx HTTP response. Detail holds the server-provided
// error text when the body carried one.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// ApplicationError is a business-level rejection: the call succeeded at the
// HTTP level but the envelope carried success=false.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "request rejected by backend"
	}
	return "request rejected by backend: " + e.Message
}

// Kind is the coarse failure class used to pick user-facing text and decide
// whether shared connection state is affected.
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindServer
	KindNoResponse
	KindApplication
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server_error"
	case KindNoResponse:
		return "no_response"
	case KindApplication:
		return "application_error"
	default:
		return "other"
	}
}

// KindOf classifies an error returned by Client.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var srvErr *ServerError
	var appErr *ApplicationError
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &srvErr):
		return KindServer
	case errors.Is(err, ErrNoResponse):
		return KindNoResponse
	case errors.As(err, &appErr):
		return KindApplication
	default:
		return KindOther
	}
}

// classifyTransport maps an error from http.Client.Do, where no response was
// obtained, onto the taxonomy.
func classifyTransport(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNoResponse, err)
}

// classifyRead maps an error while reading a response body. A response was
// received, so this is never ErrNoResponse.
func classifyRead(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("reading response: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

const maxDetailLen = 200

// detailFrom extracts the server-provided error text from a failure body.
// It understands {"error": "..."}, {"error": {"message": "..."}} and
// {"message": "..."}, falling back to the trimmed raw body.
func detailFrom(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Error) > 0 {
			var s string
			if json.Unmarshal(env.Error, &s) == nil && s != "" {
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
		}
		if env.Message != "" {
			return env.Message
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailLen {
		s = s[:maxDetailLen] + "..."
	}
	return s
}
