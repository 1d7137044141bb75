// Package nomiapi contains a typed client for the Nomi character-chat REST
// API: character and room listing, room lifecycle, message history, and
// sending/requesting replies. All calls carry the account API key and a
// per-request context.
package nomiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.nomi.ai/v1"

// Character is a remote chat persona. Identity is remote-assigned.
type Character struct {
	ID   string `json:"uuid"`
	Name string `json:"name"`
}

// Room is a remote multi-party chat context. Its id is NOT stable across a
// member removal: removal is delete+recreate (see RemoveMember).
type Room struct {
	ID        string      `json:"uuid"`
	Name      string      `json:"name"`
	Members   []Character `json:"nomis"`
	CrossTalk bool        `json:"backchannelingEnabled"`
}

// Message is a message observed in a room or character chat. Read-only.
type Message struct {
	ID            string    `json:"uuid"`
	Text          string    `json:"text"`
	Sent          time.Time `json:"sent"`
	FromCharacter bool      `json:"-"`
}

// Client provides the methods the bridge needs against the Nomi API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do issues a request and decodes the JSON response into out (when non-nil).
// Non-2xx responses become *APIError with the upstream status and body.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// ListCharacters lists all characters on the account.
func (c *Client) ListCharacters(ctx context.Context) ([]Character, error) {
	var body struct {
		Characters []Character `json:"nomis"`
	}
	if err := c.do(ctx, "list characters", http.MethodGet, "/nomis", nil, &body); err != nil {
		return nil, err
	}
	return body.Characters, nil
}
