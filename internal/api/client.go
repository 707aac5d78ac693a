// Package api is the client for the chat persistence REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of extra attempts for idempotent reads.
	DefaultMaxRetries = 2
	// DefaultRetryInterval paces retries.
	DefaultRetryInterval = 500 * time.Millisecond
)

// APIError describes a failed persistence call.
type APIError struct {
	Op         string // e.g. "create chat"
	StatusCode int    // 0 when the request never got a response
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("api: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// retryable reports whether an idempotent request should be tried again.
func (e *APIError) retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Cause, context.Canceled)
	}
	return e.StatusCode >= 500
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL       string
	Token         string       // optional bearer token
	HTTPClient    *http.Client // defaults to a new client
	Timeout       time.Duration
	MaxRetries    int // negative disables retries
	RetryInterval time.Duration
}

// Client talks to the persistence API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("api: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.Token != "" {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
				Base:   base,
			},
			CheckRedirect: hc.CheckRedirect,
			Jar:           hc.Jar,
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		timeout:    timeout,
		maxRetries: retries,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

// CreateChat persists a new conversation.
func (c *Client) CreateChat(ctx context.Context, title, userID string) (*Chat, error) {
	var out Chat
	body := map[string]string{"title": title, "user_id": userID}
	if err := c.do(ctx, "create chat", http.MethodPost, "/chats/", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &APIError{Op: "create chat", Message: "response has no id"}
	}
	return &out, nil
}

// ListChats returns the user's conversations, most recent first.
func (c *Client) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	var out []Chat
	path := "/chats/?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, "list chats", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChat returns a conversation with its messages.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var out Chat
	if err := c.do(ctx, "get chat", http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, "delete chat", http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil)
}

// AddMessage persists a message in a conversation.
func (c *Client) AddMessage(ctx context.Context, chatID, role, content string) (*Message, error) {
	var out Message
	body := map[string]string{"role": role, "content": content}
	if err := c.do(ctx, "add message", http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

// do sends a JSON request. GETs are retried on network errors and 5xx,
// paced by the client's limiter; other methods are attempted once.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return &APIError{Op: op, Message: "encode request", Cause: err}
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}

	var lastErr *APIError
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return lastErr
			}
		}
		err := c.attempt(ctx, op, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !err.retryable() {
			break
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, op, method, path string, payload []byte, out any) *APIError {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &APIError{Op: op, Message: "build request", Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Cause: err}
	}
	defer resp.Body.Close()
	return decodeResponse(op, resp, out)
}

// decodeResponse maps non-2xx statuses to APIError and decodes the body.
func decodeResponse(op string, resp *http.Response, out any) *APIError {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorDetail(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Cause: err}
	}
	return nil
}

// errorDetail extracts {"detail": "..."} or {"error": "..."} from an error
// body, falling back to the raw text.
func errorDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			b, _ := json.Marshal(d)
			return string(b)
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
