package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ticketflow/realtime/pkg/model"
)

// Client is an HTTP client for the TicketFlow API. When constructed
// with a QueryCache, reads go through it under the same keys the
// invalidation router evicts, so a live Realtime connection keeps the
// cache fresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	cache      *QueryCache
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithCache routes reads through a query cache.
func WithCache(cache *QueryCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithHeaders sets additional HTTP headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// New creates a TicketFlow API client.
func New(baseURL string, options ...Option) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		headers:    headers,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// GetTicket retrieves a ticket by ID.
func (c *Client) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	key := "ticket/" + id
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(*model.Ticket), nil
		}
	}

	var response struct {
		Ticket *model.Ticket `json:"ticket"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/tickets/%s", url.PathEscape(id)), &response); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(key, response.Ticket)
	}
	return response.Ticket, nil
}

// ListTickets retrieves all tickets, newest first.
func (c *Client) ListTickets(ctx context.Context) ([]*model.Ticket, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get("tickets"); ok {
			return v.([]*model.Ticket), nil
		}
	}

	var response struct {
		Tickets []*model.Ticket `json:"tickets"`
	}
	if err := c.get(ctx, "/api/tickets", &response); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set("tickets", response.Tickets)
	}
	return response.Tickets, nil
}

// CreateTicket creates a ticket.
func (c *Client) CreateTicket(ctx context.Context, title, description, requesterID string) (*model.Ticket, error) {
	req := map[string]string{
		"title":        title,
		"description":  description,
		"requester_id": requesterID,
	}

	var response struct {
		Ticket *model.Ticket `json:"ticket"`
	}
	if err := c.post(ctx, "/api/tickets", req, &response); err != nil {
		return nil, err
	}
	return response.Ticket, nil
}

// UpdateTicket applies a partial ticket update.
func (c *Client) UpdateTicket(ctx context.Context, id string, update model.TicketUpdate) (*model.Ticket, error) {
	var response struct {
		Ticket *model.Ticket `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tickets/%s", url.PathEscape(id)), update, &response); err != nil {
		return nil, err
	}
	return response.Ticket, nil
}

// AddComment posts a comment on a ticket.
func (c *Client) AddComment(ctx context.Context, ticketID, authorID, body string, isReply bool) (*model.Comment, error) {
	req := map[string]any{
		"author_id": authorID,
		"body":      body,
		"is_reply":  isReply,
	}

	var response struct {
		Comment *model.Comment `json:"comment"`
	}
	if err := c.post(ctx, fmt.Sprintf("/api/tickets/%s/comments", url.PathEscape(ticketID)), req, &response); err != nil {
		return nil, err
	}
	return response.Comment, nil
}

// Stats retrieves ticket counts by status.
func (c *Client) Stats(ctx context.Context) (*model.TicketStats, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get("stats"); ok {
			return v.(*model.TicketStats), nil
		}
	}

	var response struct {
		Stats *model.TicketStats `json:"stats"`
	}
	if err := c.get(ctx, "/api/stats", &response); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set("stats", response.Stats)
	}
	return response.Stats, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do makes an HTTP request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
