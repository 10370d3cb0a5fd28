package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/petervdpas/goopchat/internal/util"
)

// API is the REST collaborator for message history and user actions.
type API interface {
	FetchMessages(ctx context.Context, t Target) ([]Message, error)
	SendMessage(ctx context.Context, req SendRequest) error
	UpdateReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, error)
	DeleteMessage(ctx context.Context, messageID, actorID string) error
	ClearConversation(ctx context.Context, actorID string, t Target) error
}

// SendRequest is the body of a send-message call.
type SendRequest struct {
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Kind       Kind        `json:"kind"`
	Body       string      `json:"content"`
	Type       MessageType `json:"type"`
	ReplyToID  string      `json:"replyToId,omitempty"`
}

// Client talks to the chat REST API over HTTP.
type Client struct {
	baseURL string
	token   string
	selfID  string
	client  *http.Client
}

// NewClient creates a REST client for baseURL acting as selfID.
func NewClient(baseURL, token, selfID string) *Client {
	return &Client{
		baseURL: util.NormalizeURL(baseURL),
		token:   token,
		selfID:  selfID,
		client:  &http.Client{Timeout: util.DefaultFetchTimeout},
	}
}

// FetchMessages returns the full ordered history of t.
func (c *Client) FetchMessages(ctx context.Context, t Target) ([]Message, error) {
	q := url.Values{}
	if t.Kind == KindRoom {
		q.Set("room", t.ID)
	} else {
		q.Set("user", c.selfID)
		q.Set("peer", t.ID)
	}
	var out []Message
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a new message.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) error {
	return c.do(ctx, http.MethodPost, "/api/messages", req, nil)
}

// UpdateReaction sets (or toggles off) userID's emoji and returns the
// message's new reaction list.
func (c *Client) UpdateReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, error) {
	var out struct {
		Reactions []Reaction `json:"reactions"`
	}
	body := map[string]string{"userId": userID, "emoji": emoji}
	if err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/reactions", body, &out); err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

// DeleteMessage removes a message on behalf of actorID.
func (c *Client) DeleteMessage(ctx context.Context, messageID, actorID string) error {
	path := "/api/messages/" + url.PathEscape(messageID) + "?" + url.Values{"actor": {actorID}}.Encode()
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ClearConversation removes every message of t on behalf of actorID.
func (c *Client) ClearConversation(ctx context.Context, actorID string, t Target) error {
	body := map[string]string{"actorId": actorID, "target": t.ID, "kind": string(t.Kind)}
	return c.do(ctx, http.MethodPost, "/api/conversations/clear", body, nil)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("chat api: encode: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("chat api: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat api: decode %s: %w", path, err)
	}
	return nil
}
