// Package inbox is the client side of the notification center: a thin REST
// client and a reconciler that keeps per-category state consistent across
// live stream pushes, pagination and read/unread actions.
package inbox

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

	"github.com/lexcomms/internal/model"
)

// Client calls the notification REST API. A zero baseURL makes every
// method fail fast, there is no offline mode.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ListResponse mirrors the server's page shape.
type ListResponse struct {
	Items      []model.Notification `json:"items"`
	HasMore    bool                 `json:"has_more"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// UnreadCounts is the per-category unread breakdown.
type UnreadCounts struct {
	Total      int                    `json:"total"`
	ByCategory map[model.Category]int `json:"by_category"`
}

func (c *Client) List(ctx context.Context, category model.Category, cursor string, unreadOnly bool, limit int) (*ListResponse, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", string(category))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Counts(ctx context.Context) (*UnreadCounts, error) {
	var out UnreadCounts
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkUnread(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/unread", nil, nil)
}

// MarkAllRead returns how many rows the server updated.
func (c *Client) MarkAllRead(ctx context.Context, category model.Category) (int64, error) {
	path := "/api/notifications/read-all"
	if category != "" {
		path += "?category=" + url.QueryEscape(string(category))
	}
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("inbox: api base url not set")
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inbox: %s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
