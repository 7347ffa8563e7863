// Package graph is a small typed client for the Microsoft Graph REST surface
// the poster needs: teams, channels, members, sites and lists. Responses are
// decoded into explicit schemas and validated before callers see them.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response is kept in RemoteError.
const maxErrorBody = 64 * 1024

// RequestObserver receives the outcome of every remote call.
type RequestObserver interface {
	ObserveGraphRequest(op string, status int, d time.Duration)
}

// Client issues authenticated requests against a Graph base URL.
type Client struct {
	baseURL  string
	http     *http.Client
	observer RequestObserver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver installs a request observer, typically the metrics registry.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a client for baseURL, e.g. https://graph.microsoft.com/v1.0.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequest builds a request. Relative paths are resolved against the base
// URL; absolute URLs (upload sessions, next links) are used as is. An empty
// token sends no Authorization header.
func (c *Client) NewRequest(ctx context.Context, method, token, path string, body io.Reader) (*http.Request, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Do sends req. Non-2xx responses are drained, closed and returned as
// *RemoteError tagged with op.
func (c *Client) Do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveGraphRequest(op, status, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response
// into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, op, method, token, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.NewRequest(ctx, method, token, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req, op)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decode(op, resp.Body, out)
}

// Validator is implemented by response schemas with required fields. DoJSON
// turns a validation failure into a *DecodeError.
type Validator interface {
	Validate() error
}

func decode(op string, r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &DecodeError{Op: op, Err: err}
		}
	}
	return nil
}

// page is one page of a collection response.
type page[T any] struct {
	Value    *[]T   `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (p *page[T]) Validate() error {
	if p.Value == nil {
		return errors.New(`missing "value"`)
	}
	return nil
}

// getAll follows @odata.nextLink until the collection is exhausted.
func getAll[T any](ctx context.Context, c *Client, op, token, path string) ([]T, error) {
	items := []T{}
	for next := path; next != ""; {
		var p page[T]
		if err := c.DoJSON(ctx, op, http.MethodGet, token, next, nil, &p); err != nil {
			return nil, err
		}
		items = append(items, *p.Value...)
		next = p.NextLink
	}
	return items, nil
}
