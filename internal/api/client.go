// Package api is the HTTP client for the chatd REST surface: history
// pagination, sends, and read acknowledgments. It satisfies the store's
// HistoryFetcher and MessageSender contracts and the receipt tracker's
// ReadMarker contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/store"
)

// Client is a thin wrapper around the chatd REST API. The identity rides on
// the X-User-ID header; token handling belongs to the surrounding app.
type Client struct {
	baseURL    string
	identity   string
	httpClient *http.Client
}

// NewClient creates a REST client for one identity against the given base
// URL (e.g. "http://localhost:8080").
func NewClient(baseURL, identity string) *Client {
	return &Client{
		baseURL:  baseURL,
		identity: identity,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// doRequest executes one JSON request against the API and returns the raw
// response body. Status codes >= 400 become errors carrying the body text.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("X-User-ID", c.identity)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api: %s %s: status %d: %s", method, endpoint, resp.StatusCode, respBody)
	}

	return respBody, nil
}

// FetchMessages requests a page of history older than beforeID (or the
// newest page when beforeID is empty). The server may return the batch in
// any order; the store re-sorts on ingest.
func (c *Client) FetchMessages(ctx context.Context, counterpartID, beforeID string, limit int) ([]message.Message, error) {
	q := url.Values{}
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "/api/messages/" + url.PathEscape(counterpartID)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var msgs []message.Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, fmt.Errorf("api: parse history page: %w", err)
	}
	return msgs, nil
}

// SendMessage posts a draft and returns the authoritative created message
// with its server-assigned ID and timestamp.
func (c *Client) SendMessage(ctx context.Context, counterpartID string, draft store.Draft) (message.Message, error) {
	payload := struct {
		Text  string `json:"text,omitempty"`
		Image string `json:"image,omitempty"`
	}{Text: draft.Text, Image: draft.Image}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(counterpartID), payload)
	if err != nil {
		return message.Message{}, err
	}

	var sent message.Message
	if err := json.Unmarshal(respBody, &sent); err != nil {
		return message.Message{}, fmt.Errorf("api: parse send acknowledgment: %w", err)
	}
	return sent, nil
}

// MarkRead acknowledges that all inbound messages from the counterpart have
// been read.
func (c *Client) MarkRead(ctx context.Context, counterpartID string) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/api/messages/read/"+url.PathEscape(counterpartID), nil)
	return err
}
