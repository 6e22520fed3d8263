// Package dsync is the Go client for the DSync chat service.
//
// The package centers on an optimistic message synchronization engine: the
// Engine creates, tracks, reconciles and repairs message state across an
// unreliable network boundary while the Store presents an always-consistent,
// ordered view of the active conversation.
//
// Example:
//
//	client := dsync.NewClient("https://chat.example.com", dsync.WithToken(token))
//	engine := dsync.NewEngine(client, dsync.StaticIdentity{ID: "u1", Name: "Ada"})
//	_ = engine.SwitchConversation(ctx, "conv-42")
//	localID, err := engine.Send(ctx, dsync.Draft{Content: "hi"})
package dsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultTimeout bounds every HTTP request issued by the client.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP implementation of the Transport contract, talking to
// the DSync message API with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token used for authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a DSync API client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token, e.g. after a token refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ── Internal request helper ──────────────────────────────

// apiError is the wire shape of a server-side error.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorEnvelope struct {
	Error *apiError `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, c.statusError(method, path, resp.StatusCode, data)
	}
	return data, nil
}

// statusError maps an HTTP failure onto the engine's error taxonomy.
func (c *Client) statusError(method, path string, status int, body []byte) error {
	var env apiErrorEnvelope
	detail := http.StatusText(status)
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		detail = env.Error.Code + ": " + env.Error.Message
	}

	switch {
	case status == http.StatusNotFound:
		return &NotFoundError{ID: strings.TrimPrefix(path, "/message/")}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Reason: detail}
	default:
		return &NetworkError{Op: method + " " + path, Err: fmt.Errorf("HTTP %d: %s", status, detail)}
	}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "unmarshal response")
	}
	return &result, nil
}

// ============================================================================
// Transport Implementation
// ============================================================================

// CreateMessage posts a new message to a conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, draft Draft) (*Message, error) {
	payload := map[string]interface{}{
		"conversationId": conversationID,
		"content":        draft.Content,
		"kind":           draft.Kind,
	}
	if draft.Kind == "" {
		payload["kind"] = KindText
	}
	if draft.Attachment != nil {
		payload["attachment"] = draft.Attachment
	}
	if draft.Reply != nil {
		payload["replyTo"] = draft.Reply
	}
	data, err := c.doRequest(ctx, "POST", "/message", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// EditMessage replaces a message body.
func (c *Client) EditMessage(ctx context.Context, id, body string) (*Message, error) {
	data, err := c.doRequest(ctx, "PUT", "/message/"+id+"/edit", map[string]string{"content": body}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, "DELETE", "/message/"+id, nil, nil)
	return err
}

// ToggleLike flips the acting user's like and returns the authoritative set.
func (c *Client) ToggleLike(ctx context.Context, id, userID string) ([]string, error) {
	data, err := c.doRequest(ctx, "PUT", "/message/"+id+"/like", map[string]string{"userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		LikedBy []string `json:"likedBy"`
	}](data)
	if err != nil {
		return nil, err
	}
	return res.LikedBy, nil
}

// FetchMessages loads the full ordered history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/message/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// MarkRead records a read receipt for the message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, "PUT", "/message/"+id+"/read", nil, nil)
	return err
}

var _ Transport = (*Client)(nil)
