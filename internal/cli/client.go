package cli

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

	"tycoon/internal/game"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the request may succeed later unchanged.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500
}

func (c *Client) Load(ctx context.Context, userID string) (game.LoadResult, error) {
	var out game.LoadResult
	err := c.jsonRequest(ctx, http.MethodGet, "/api/business/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) Save(ctx context.Context, in game.SaveInput) error {
	return c.jsonRequest(ctx, http.MethodPost, "/api/saveUserData", in, nil)
}

func (c *Client) Catalog(ctx context.Context) ([]game.BusinessDefinition, error) {
	var out struct {
		Businesses []game.BusinessDefinition `json:"businesses"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/api/business", nil, &out)
	return out.Businesses, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
