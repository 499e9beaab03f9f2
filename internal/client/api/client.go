// Package api is the client-side HTTP binding for the document and
// configuration APIs. Transport failures and response statuses are mapped
// onto the shared sentinel taxonomy, so callers never inspect HTTP shapes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
)

// Client calls the drawbridge server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for a base address such as "http://127.0.0.1:8080".
func New(addr string) (*Client, error) {
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type documentRequest struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	EngineTag string `json:"engineTag"`
	Content   string `json:"content"`
}

// Create asks the store to insert a new document. An empty id lets the
// store assign one.
func (c *Client) Create(ctx context.Context, id, title, engineTag, content string) (*storage.Document, error) {
	var doc storage.Document
	err := c.do(ctx, http.MethodPost, "api/documents", documentRequest{ID: id, Title: title, EngineTag: engineTag, Content: content}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Get(ctx context.Context, id string) (*storage.Document, error) {
	var doc storage.Document
	if err := c.do(ctx, http.MethodGet, "api/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Update(ctx context.Context, id, title, engineTag, content string) (*storage.Document, error) {
	var doc storage.Document
	err := c.do(ctx, http.MethodPut, "api/documents/"+url.PathEscape(id), documentRequest{Title: title, EngineTag: engineTag, Content: content}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "api/documents/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListRecent(ctx context.Context, limit int) ([]storage.DocumentSummary, error) {
	var summaries []storage.DocumentSummary
	if err := c.doQuery(ctx, http.MethodGet, "api/documents", url.Values{"limit": {strconv.Itoa(limit)}}, nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Health probes the server's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "api/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doQuery(ctx, method, path, nil, body, out)
}

func (c *Client) doQuery(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func statusError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = common.ErrInvalidInput
	case http.StatusNotFound:
		sentinel = common.ErrNotFound
	case http.StatusConflict:
		sentinel = common.ErrConflict
	case http.StatusUnauthorized:
		sentinel = common.ErrAuthFailed
	case http.StatusServiceUnavailable:
		sentinel = common.ErrUnreachable
	default:
		sentinel = common.ErrInternal
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
